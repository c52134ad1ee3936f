package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"deadlinebot/internal/app"
	"deadlinebot/internal/config"
)

func main() {
	var (
		cfgPath string
		envPath string
		once    bool
		dryRun  bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.StringVar(&envPath, "env", ".env", "optional dotenv file with secrets")
	flag.BoolVar(&once, "once", false, "run a single scan, print the result and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "log notifications instead of sending them")
	flag.Parse()

	if err := config.LoadDotEnv(envPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal env:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfgPath, app.WithDryRun(dryRun))
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if once {
		res, err := a.RunOnce(ctx)
		_ = a.Stop(context.Background())
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
		if err != nil {
			fmt.Fprintln(os.Stderr, "scan failed:", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	go watchdog(ctx)

	exit := 0
	select {
	case <-ctx.Done():
	case <-a.Done():
		if err := a.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			exit = 1
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 45*time.Second)
	_ = a.Stop(stopCtx)
	stopCancel()
	os.Exit(exit)
}

// watchdog pings systemd at half the configured WatchdogSec. It is a no-op
// outside systemd.
func watchdog(ctx context.Context) {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil || every <= 0 {
		return
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
