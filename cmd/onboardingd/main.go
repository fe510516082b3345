// Command onboardingd runs the onboarding background jobs: the expired
// record sweeper, the OTP attempt limiter cleanup and the metrics endpoint.
// The orchestrator is wired here as well so embedding services can reuse
// the same module graph.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/goliatone/go-onboarding"
	"go.uber.org/fx"
)

func main() {
	configPath := flag.String("config", os.Getenv("ONBOARDING_CONFIG"), "path to a config file (yaml, json or toml)")
	sweepOnce := flag.Bool("sweep-once", false, "run a single sweep and exit")
	flag.Parse()

	if *sweepOnce {
		if err := runSweepOnce(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	app := fx.New(
		Module(*configPath),
		fx.Invoke(StartSweeper),
		fx.Invoke(StartOtpLimiter),
		fx.Invoke(StartMetricsServer),
		fx.Invoke(LogReady),
	)
	app.Run()
}

func runSweepOnce(configPath string) error {
	var sweeper *onboarding.Sweeper
	app := fx.New(
		Module(configPath),
		fx.NopLogger,
		fx.Populate(&sweeper),
	)

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer app.Stop(ctx)

	report, err := sweeper.RunOnce(ctx)
	fmt.Printf("tokens=%d otps=%d pending=%d\n", report.ExpiredTokens, report.ExpiredOtps, report.OrphanedPending)
	return err
}
