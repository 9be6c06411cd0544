// Package config carries process settings and the economic policy table.
// Process settings come from the environment; policy comes from an optional
// YAML file layered over built-in defaults.
package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is process-level configuration. Command-line flags in the command
// wrappers override individual fields after parsing.
type Config struct {
	Addr          string        `env:"ECONSIM_ADDR" envDefault:":8080"`
	DBPath        string        `env:"ECONSIM_DB" envDefault:"data/econsim.db"`
	PolicyPath    string        `env:"ECONSIM_POLICY"`
	LogLevel      string        `env:"ECONSIM_LOG_LEVEL" envDefault:"info"`
	AdminKey      string        `env:"ECONSIM_ADMIN_KEY"`
	CycleInterval time.Duration `env:"ECONSIM_CYCLE_INTERVAL" envDefault:"2s"`
	Cycles        uint64        `env:"ECONSIM_CYCLES" envDefault:"0"`
	Agents        int           `env:"ECONSIM_AGENTS" envDefault:"0"`
	Seed          int64         `env:"ECONSIM_SEED" envDefault:"42"`
	OracleURL     string        `env:"ECONSIM_ORACLE_URL"`
	OracleKey     string        `env:"ECONSIM_ORACLE_KEY"`
	DecisionLog   string        `env:"ECONSIM_DECISION_LOG" envDefault:"data/agent_decisions.log"`
}

// FromEnv reads a Config from the process environment.
func FromEnv() (Config, error) {
	return env.ParseAs[Config]()
}

// SlogLevel maps the configured log level name onto slog. Unknown names
// fall back to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
