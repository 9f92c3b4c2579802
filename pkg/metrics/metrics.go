package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records placement metrics
type Collector interface {
	// RecordMatch counts a matching attempt by outcome code ("assigned" or an error code)
	RecordMatch(outcome string, duration time.Duration)
	// RecordScore observes the combined score of a committed match
	RecordScore(score float64)
	// RecordLedgerRetry counts an optimistic-write retry in the ledger
	RecordLedgerRetry(op string)
	// RecordTransfer counts one request reassignment
	RecordTransfer(success bool, people int)
	// RecordRebalancePlan observes one planning pass
	RecordRebalancePlan(overloaded, underloaded, suggestions int)
	// SetOccupancyRate publishes a shelter's current occupancy rate
	SetOccupancyRate(shelterID string, rate float64)
}

// Nop discards all metrics
type Nop struct{}

var _ Collector = Nop{}

func (Nop) RecordMatch(string, time.Duration) {}
func (Nop) RecordScore(float64) {}
func (Nop) RecordLedgerRetry(string) {}
func (Nop) RecordTransfer(bool, int) {}
func (Nop) RecordRebalancePlan(int, int, int) {}
func (Nop) SetOccupancyRate(string, float64) {}

// OrNop returns c, or Nop when c is nil
func OrNop(c Collector) Collector {
	if c == nil {
		return Nop{}
	}
	return c
}

// Prometheus implements Collector with client_golang
type Prometheus struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	matches        *prometheus.CounterVec
	matchLatency   prometheus.Histogram
	scores         prometheus.Histogram
	ledgerRetries  *prometheus.CounterVec
	transfers      *prometheus.CounterVec
	peopleMoved    prometheus.Counter
	overloaded     prometheus.Gauge
	underloaded    prometheus.Gauge
	suggestions    prometheus.Gauge
	occupancyRates *prometheus.GaugeVec
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus creates a collector registered on reg (the default
// registerer when nil) under namespace ("shelters" when empty)
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "shelters"
	}
	p := &Prometheus{reg: reg, namespace: namespace}
	p.ensureRegistered()
	return p
}

func (p *Prometheus) ensureRegistered() {
	p.once.Do(func() {
		p.matches = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "matching",
			Name:      "attempts_total",
			Help:      "Matching attempts by outcome.",
		}, []string{"outcome"})
		p.matchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "matching",
			Name:      "duration_seconds",
			Help:      "Time spent finding and committing a match.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		})
		p.scores = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "matching",
			Name:      "combined_score",
			Help:      "Combined score of committed matches.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 13),
		})
		p.ledgerRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "ledger",
			Name:      "retries_total",
			Help:      "Optimistic occupancy write retries by operation.",
		}, []string{"op"})
		p.transfers = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "rebalance",
			Name:      "transfers_total",
			Help:      "Request reassignments by result.",
		}, []string{"result"})
		p.peopleMoved = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "rebalance",
			Name:      "people_moved_total",
			Help:      "People moved between shelters by rebalancing.",
		})
		p.overloaded = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "rebalance",
			Name:      "overloaded_shelters",
			Help:      "Overloaded shelters seen by the last planning pass.",
		})
		p.underloaded = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "rebalance",
			Name:      "underloaded_shelters",
			Help:      "Underloaded shelters seen by the last planning pass.",
		})
		p.suggestions = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "rebalance",
			Name:      "suggestions",
			Help:      "Suggestions produced by the last planning pass.",
		})
		p.occupancyRates = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "shelter",
			Name:      "occupancy_rate",
			Help:      "Occupancy over capacity per shelter.",
		}, []string{"shelter_id"})

		p.reg.MustRegister(p.matches, p.matchLatency, p.scores, p.ledgerRetries, p.transfers,
			p.peopleMoved, p.overloaded, p.underloaded, p.suggestions, p.occupancyRates)
	})
}

func (p *Prometheus) RecordMatch(outcome string, duration time.Duration) {
	p.matches.WithLabelValues(outcome).Inc()
	p.matchLatency.Observe(duration.Seconds())
}

func (p *Prometheus) RecordScore(score float64) {
	p.scores.Observe(score)
}

func (p *Prometheus) RecordLedgerRetry(op string) {
	p.ledgerRetries.WithLabelValues(op).Inc()
}

func (p *Prometheus) RecordTransfer(success bool, people int) {
	if !success {
		p.transfers.WithLabelValues("failed").Inc()
		return
	}
	p.transfers.WithLabelValues("moved").Inc()
	p.peopleMoved.Add(float64(people))
}

func (p *Prometheus) RecordRebalancePlan(overloaded, underloaded, suggestions int) {
	p.overloaded.Set(float64(overloaded))
	p.underloaded.Set(float64(underloaded))
	p.suggestions.Set(float64(suggestions))
}

func (p *Prometheus) SetOccupancyRate(shelterID string, rate float64) {
	p.occupancyRates.WithLabelValues(shelterID).Set(rate)
}
