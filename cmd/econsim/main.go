// Command econsim runs the closed-economy market simulation.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/talgya/econsim/internal/api"
	"github.com/talgya/econsim/internal/config"
	"github.com/talgya/econsim/internal/decision"
	"github.com/talgya/econsim/internal/economy"
	"github.com/talgya/econsim/internal/engine"
	"github.com/talgya/econsim/internal/persistence"
	"github.com/talgya/econsim/internal/scenario"
)

// Cycles between periodic ledger saves while the runner is live.
const saveEvery = 10

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	// Flags override the environment.
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.PolicyPath, "policy", cfg.PolicyPath, "policy YAML path (defaults used when empty)")
	flag.StringVar(&cfg.LogLevel, "log", cfg.LogLevel, "log level (debug, info, warn, error)")
	flag.Uint64Var(&cfg.Cycles, "cycles", cfg.Cycles, "run this many more cycles, then stop (0 = run until signalled)")
	flag.IntVar(&cfg.Agents, "agents", cfg.Agents, "generated population size (0 = built-in scenario)")
	flag.Int64Var(&cfg.Seed, "seed", cfg.Seed, "population generation seed")
	flag.DurationVar(&cfg.CycleInterval, "interval", cfg.CycleInterval, "wall-clock time per cycle")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("econsim, a closed market economy")

	// ── Policy ────────────────────────────────────────────────────────
	pol := config.DefaultPolicy()
	if cfg.PolicyPath != "" {
		pol, err = config.LoadPolicy(cfg.PolicyPath)
		if err != nil {
			slog.Error("failed to load policy", "error", err)
			os.Exit(1)
		}
		slog.Info("policy loaded", "path", cfg.PolicyPath)
	}

	// ── Database ──────────────────────────────────────────────────────
	os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DBPath)

	// ── Load or Seed Ledger ───────────────────────────────────────────
	var ledger *economy.Ledger
	fresh := !db.HasState()
	if fresh {
		slog.Info("no saved state found, seeding a fresh economy")
		if cfg.Agents > 0 {
			ledger = scenario.Generate(pol, cfg.Agents, cfg.Seed)
		} else {
			ledger = scenario.Bootstrap(pol)
		}
	} else {
		slog.Info("found saved ledger, loading")
		ledger, err = db.LoadState()
		if err != nil {
			slog.Error("failed to load ledger", "error", err)
			os.Exit(1)
		}
	}

	sim := engine.NewSimulation(ledger, pol)

	// Save on fresh generation only (loaded ledgers are already saved).
	if fresh {
		if err := sim.WithLedger(db.SaveState); err != nil {
			slog.Error("initial save failed", "error", err)
		}
	}

	// ── Strategists ───────────────────────────────────────────────────
	oracle := decision.NewOracle(cfg.OracleURL, cfg.OracleKey)
	if oracle.Enabled() {
		slog.Info("decision oracle enabled", "endpoint", cfg.OracleURL)
	} else {
		slog.Warn("ECONSIM_ORACLE_URL not set, agents plan with built-in heuristics")
	}
	planner := decision.Planner{Oracle: oracle, Fallback: decision.Heuristic{}}

	// ── Runner ────────────────────────────────────────────────────────
	runner := engine.NewRunner()
	runner.Cycle = sim.Status().Cycle
	runner.Interval = cfg.CycleInterval
	if cfg.Cycles > 0 {
		runner.Limit = runner.Cycle + cfg.Cycles
	}

	runner.OnCycle = func(n uint64) {
		// Plan and apply, one agent at a time in id order.
		for _, id := range sim.AgentIDs() {
			view, err := sim.ViewFor(id)
			if err != nil {
				continue
			}
			for _, act := range planner.Plan(view) {
				if _, err := sim.Apply(act); err != nil {
					slog.Debug("action refused", "agent", id, "action", act.Kind.String(), "error", err)
				}
			}
		}

		sim.RunCycle()

		if n%saveEvery == 0 {
			if err := sim.WithLedger(db.SaveState); err != nil {
				slog.Error("periodic save failed", "error", err)
			}
			if err := db.SaveEvents(sim.FlushEvents()); err != nil {
				slog.Error("event save failed", "error", err)
			}
		}
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.AdminKey == "" {
		slog.Warn("ECONSIM_ADMIN_KEY not set, admin POST endpoints are disabled")
	}

	api.RegisterMetrics(sim)
	server := &api.Server{
		Sim:      sim,
		Runner:   runner,
		DB:       db,
		Addr:     cfg.Addr,
		AdminKey: cfg.AdminKey,
	}
	server.Start()

	// ── Start ─────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		runner.Stop()
	}()

	st := sim.Status()
	apiHost := cfg.Addr
	if strings.HasPrefix(apiHost, ":") {
		apiHost = "localhost" + apiHost
	}
	fmt.Printf("\nEconomy ready: %d agents trading %d goods.\n", st.Agents, len(st.Prices))
	fmt.Printf("API: http://%s/api/v1/status\n", apiHost)
	if st.Cycle > 0 {
		fmt.Printf("Resuming from cycle %d\n", st.Cycle)
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	runner.Run()

	// Final save on shutdown.
	slog.Info("final save...")
	if err := sim.WithLedger(db.SaveState); err != nil {
		slog.Error("final save failed", "error", err)
	}
	if err := db.SaveEvents(sim.FlushEvents()); err != nil {
		slog.Error("event save failed", "error", err)
	}

	if cfg.DecisionLog != "" {
		writeDecisionLog(sim, cfg.DecisionLog)
	}

	fmt.Printf("Simulation stopped at cycle %d. Ledger saved.\n", sim.Status().Cycle)
}

// writeDecisionLog dumps the per-agent decision narrative for the whole run.
func writeDecisionLog(sim *engine.Simulation, path string) {
	os.MkdirAll(filepath.Dir(path), 0755)
	f, err := os.Create(path)
	if err != nil {
		slog.Error("decision log create failed", "error", err, "path", path)
		return
	}
	defer f.Close()

	if err := sim.WriteDecisionLog(f); err != nil {
		slog.Error("decision log write failed", "error", err)
		return
	}
	slog.Info("decision log written", "path", path)
}
