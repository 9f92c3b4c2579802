// Package worker runs background jobs for the server.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arnavshah/shelter-api-go/internal/logging"
	"github.com/arnavshah/shelter-api-go/pkg/models"
)

// Common errors for worker lifecycle
var (
	ErrNotStarted      = errors.New("rebalancer not started")
	ErrAlreadyStarted  = errors.New("rebalancer already started")
	ErrInvalidInterval = errors.New("rebalance interval must be positive")
)

// passTimeout bounds a single plan/execute pass
const passTimeout = 30 * time.Second

// Planner proposes rebalance suggestions
type Planner interface {
	Plan(ctx context.Context, threshold float64) (*models.RebalancePlan, error)
}

// Executor applies rebalance suggestions
type Executor interface {
	Execute(ctx context.Context, suggestions []models.RebalanceSuggestion) []models.ExecutionResult
}

// Pass is the outcome of one rebalancing pass
type Pass struct {
	Plan    *models.RebalancePlan
	Results []models.ExecutionResult
}

// Rebalancer plans on a fixed interval and, when AutoExecute is set,
// applies the plan right away. Without AutoExecute it only reports, which
// still raises overload alerts through the planner's event sink.
type Rebalancer struct {
	planner     Planner
	executor    Executor
	interval    time.Duration
	threshold   float64
	autoExecute bool
	logger      logging.Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	passes  int
}

// Config configures a Rebalancer
type Config struct {
	Interval    time.Duration
	Threshold   float64
	AutoExecute bool
}

// NewRebalancer creates a Rebalancer. executor may be nil when AutoExecute
// is off.
func NewRebalancer(planner Planner, executor Executor, cfg Config, logger logging.Logger) *Rebalancer {
	return &Rebalancer{
		planner:     planner,
		executor:    executor,
		interval:    cfg.Interval,
		threshold:   cfg.Threshold,
		autoExecute: cfg.AutoExecute && executor != nil,
		logger:      logging.OrNop(logger),
	}
}

// Start runs passes in the background until Stop is called or ctx is done
func (r *Rebalancer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}
	if r.interval <= 0 {
		return ErrInvalidInterval
	}

	r.started = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.loop(ctx, r.stopCh, r.doneCh)

	r.logger.Info("rebalancer started", "interval", r.interval.String(), "auto_execute", r.autoExecute)
	return nil
}

// Stop halts the loop and waits for an in-flight pass to finish
func (r *Rebalancer) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return ErrNotStarted
	}
	close(r.stopCh)
	done := r.doneCh
	r.started = false
	r.mu.Unlock()

	<-done
	r.logger.Info("rebalancer stopped")
	return nil
}

// Passes returns how many passes have run
func (r *Rebalancer) Passes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.passes
}

func (r *Rebalancer) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer func() {
		// A loop ended by ctx leaves the rebalancer restartable
		r.mu.Lock()
		if r.doneCh == doneCh {
			r.started = false
		}
		r.mu.Unlock()
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			passCtx, cancel := context.WithTimeout(ctx, passTimeout)
			if _, err := r.RunOnce(passCtx); err != nil {
				r.logger.Error("rebalance pass failed", "error", err)
			}
			cancel()
		}
	}
}

// RunOnce plans once and executes the plan if AutoExecute is set
func (r *Rebalancer) RunOnce(ctx context.Context) (*Pass, error) {
	plan, err := r.planner.Plan(ctx, r.threshold)

	r.mu.Lock()
	r.passes++
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}

	pass := &Pass{Plan: plan}
	if r.autoExecute && len(plan.Suggestions) > 0 {
		pass.Results = r.executor.Execute(ctx, plan.Suggestions)
	}

	moved := 0
	for _, res := range pass.Results {
		moved += res.MovedPeople
	}
	r.logger.Info("rebalance pass",
		"overloaded", len(plan.Overloaded),
		"suggestions", len(plan.Suggestions),
		"executed", len(pass.Results),
		"people_moved", moved,
	)
	return pass, nil
}
