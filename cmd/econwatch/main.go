// Command econwatch watches a running econsim instance from the terminal.
// It polls the public API on an interval and prints a market report, and
// carries the admin verbs (pause, resume, step, snapshot, speed) for
// operators with a bearer key.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/talgya/econsim/internal/watch"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Configuration from environment.
	apiURL := envOrDefault("ECONWATCH_API_URL", "http://localhost:8080")
	adminKey := os.Getenv("ECONSIM_ADMIN_KEY")
	intervalSec := envIntOrDefault("ECONWATCH_INTERVAL", 10)

	once := flag.Bool("once", false, "print one report and exit")
	pause := flag.Bool("pause", false, "pause the runner and exit")
	resume := flag.Bool("resume", false, "resume the runner and exit")
	step := flag.Bool("step", false, "dispatch one cycle and exit")
	snapshot := flag.Bool("snapshot", false, "force a ledger save and exit")
	speed := flag.Float64("speed", -1, "set the runner speed multiplier and exit")
	flag.Parse()

	// Admin verbs run one request and stop.
	if *pause || *resume || *step || *snapshot || *speed >= 0 {
		if adminKey == "" {
			slog.Error("ECONSIM_ADMIN_KEY is required for admin verbs")
			os.Exit(1)
		}
		runAdmin(watch.NewAdmin(apiURL, adminKey), *pause, *resume, *step, *snapshot, *speed)
		return
	}

	observer := watch.NewObserver(apiURL)

	slog.Info("waiting for econsim API...", "api_url", apiURL)
	waitForAPI(apiURL)

	report(observer)
	if *once {
		return
	}

	interval := time.Duration(intervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			report(observer)
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			fmt.Println("Watch stopped.")
			return
		}
	}
}

// report runs one observe and render pass.
func report(observer *watch.Observer) {
	snap, err := observer.Observe()
	if err != nil {
		slog.Error("observation failed", "error", err)
		return
	}
	watch.Render(os.Stdout, snap)
}

// runAdmin executes whichever admin verbs were requested, in a fixed order.
func runAdmin(admin *watch.Admin, pause, resume, step, snapshot bool, speed float64) {
	do := func(name string, fn func() (map[string]any, error)) {
		result, err := fn()
		if err != nil {
			slog.Error(name+" failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("%s: %v\n", name, result)
	}

	if pause {
		do("pause", admin.Pause)
	}
	if speed >= 0 {
		do("speed", func() (map[string]any, error) { return admin.SetSpeed(speed) })
	}
	if step {
		do("step", admin.Step)
	}
	if snapshot {
		do("snapshot", admin.Snapshot)
	}
	if resume {
		do("resume", admin.Resume)
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// waitForAPI polls the status endpoint with exponential backoff until it
// responds. Exits after 2 minutes if the API never becomes ready.
func waitForAPI(apiURL string) {
	backoff := 1 * time.Second
	maxBackoff := 15 * time.Second
	deadline := time.Now().Add(2 * time.Minute)

	for {
		resp, err := http.Get(apiURL + "/api/v1/status")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				return
			}
		}
		if time.Now().After(deadline) {
			slog.Error("econsim API did not become ready within 2 minutes")
			os.Exit(1)
		}
		slog.Info("econsim not ready, retrying...", "backoff", backoff)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
