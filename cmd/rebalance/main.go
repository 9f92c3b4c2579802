// Command rebalance prints a capacity rebalance plan for the configured
// database and optionally applies it.
//
//	go run ./cmd/rebalance -threshold 0.85
//	go run ./cmd/rebalance -execute
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

	"github.com/arnavshah/shelter-api-go/internal/app"
	"github.com/arnavshah/shelter-api-go/internal/logging"
	"github.com/arnavshah/shelter-api-go/pkg/config"
	"github.com/arnavshah/shelter-api-go/pkg/models"
)

func main() {
	threshold := flag.Float64("threshold", 0, "overload threshold in (0, 1]; 0 uses OVERLOAD_THRESHOLD")
	execute := flag.Bool("execute", false, "apply the plan after printing it")
	timeout := flag.Duration("timeout", time.Minute, "overall time limit")
	flag.Parse()

	if err := run(*threshold, *execute, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(threshold float64, execute bool, timeout time.Duration) error {
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.RebalanceInterval = 0

	logger := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	plan, err := a.Planner.Plan(ctx, threshold)
	if err != nil {
		return err
	}

	out := struct {
		Plan    *models.RebalancePlan    `json:"plan"`
		Results []models.ExecutionResult `json:"results,omitempty"`
	}{Plan: plan}
	if execute && len(plan.Suggestions) > 0 {
		out.Results = a.Executor.Execute(ctx, plan.Suggestions)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
