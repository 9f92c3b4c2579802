// Package rebalance proposes and applies transfers from overloaded shelters
// to nearby ones with room.
//
// Planning and execution are separate steps. A plan is advisory: the executor
// reloads both shelters and re-checks every move before touching occupancy.
package rebalance

import (
	"context"
	"time"

	"github.com/arnavshah/shelter-api-go/internal/logging"
	"github.com/arnavshah/shelter-api-go/pkg/events"
	"github.com/arnavshah/shelter-api-go/pkg/metrics"
)

type deps struct {
	events  events.Sink
	logger  logging.Logger
	metrics metrics.Collector
	now     func() time.Time
}

func newDeps(opts []Option) deps {
	d := deps{
		events:  events.Nop{},
		logger:  logging.NewNop(),
		metrics: metrics.Nop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

func (d *deps) emit(ctx context.Context, ev events.Event) {
	if err := d.events.Emit(ctx, ev); err != nil {
		d.logger.Error("emit event", "type", ev.Type, "error", err)
	}
}

// Option configures a Planner or an Executor
type Option func(*deps)

// WithEvents sets where alerts and transfer events go
func WithEvents(sink events.Sink) Option {
	return func(d *deps) {
		if sink != nil {
			d.events = sink
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(d *deps) { d.logger = logging.OrNop(logger) }
}

// WithMetrics sets the metrics collector
func WithMetrics(m metrics.Collector) Option {
	return func(d *deps) { d.metrics = metrics.OrNop(m) }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(d *deps) { d.now = now }
}
