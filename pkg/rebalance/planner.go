package rebalance

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/arnavshah/shelter-api-go/pkg/events"
	"github.com/arnavshah/shelter-api-go/pkg/geo"
	"github.com/arnavshah/shelter-api-go/pkg/models"
	"github.com/arnavshah/shelter-api-go/pkg/store"
)

// PlannerConfig holds the rebalancing policy
type PlannerConfig struct {
	// OverloadThreshold is used when Plan is called with threshold 0
	OverloadThreshold float64
	// UnderloadThreshold marks shelters that may receive people
	UnderloadThreshold float64
	// TargetRate is the occupancy rate an overloaded shelter is brought back to
	TargetRate float64
	// MoveCap bounds the people moved by one suggestion
	MoveCap int
	// HighPriorityExcess is the excess above which a suggestion is high priority
	HighPriorityExcess int
}

// DefaultPlannerConfig returns the standard policy
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		OverloadThreshold:  0.8,
		UnderloadThreshold: 0.5,
		TargetRate:         0.75,
		MoveCap:            5,
		HighPriorityExcess: 10,
	}
}

// Planner scans shelter load and proposes transfers
type Planner struct {
	deps
	store store.Store
	cfg   PlannerConfig
}

// NewPlanner creates a Planner. Zero config fields take their defaults.
func NewPlanner(s store.Store, cfg PlannerConfig, opts ...Option) *Planner {
	def := DefaultPlannerConfig()
	if cfg.OverloadThreshold <= 0 {
		cfg.OverloadThreshold = def.OverloadThreshold
	}
	if cfg.UnderloadThreshold <= 0 {
		cfg.UnderloadThreshold = def.UnderloadThreshold
	}
	if cfg.TargetRate <= 0 {
		cfg.TargetRate = def.TargetRate
	}
	if cfg.MoveCap <= 0 {
		cfg.MoveCap = def.MoveCap
	}
	if cfg.HighPriorityExcess <= 0 {
		cfg.HighPriorityExcess = def.HighPriorityExcess
	}
	return &Planner{deps: newDeps(opts), store: s, cfg: cfg}
}

// Config returns the effective policy
func (p *Planner) Config() PlannerConfig { return p.cfg }

// Plan classifies every shelter against threshold and proposes transfers.
// A threshold of 0 uses the configured default. A shelter exactly at the
// threshold is not overloaded.
//
// This is a greedy single pass: overloaded shelters are visited busiest first
// and each takes the nearest underloaded shelter that can absorb its batch.
// It is not globally optimal. Headroom promised to earlier suggestions is
// subtracted, so one plan never asks a target to take more than it can hold.
func (p *Planner) Plan(ctx context.Context, threshold float64) (*models.RebalancePlan, error) {
	if threshold == 0 {
		threshold = p.cfg.OverloadThreshold
	}
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return nil, models.NewError(models.ErrInvalidArgument, "", "", fmt.Sprintf("threshold %v outside (0, 1]", threshold))
	}

	shelters, err := p.store.ListShelters(ctx, store.ShelterFilter{})
	if err != nil {
		return nil, err
	}

	plan := &models.RebalancePlan{
		Threshold:   threshold,
		Overloaded:  []models.ShelterLoad{},
		Underloaded: []models.ShelterLoad{},
		Suggestions: []models.RebalanceSuggestion{},
		GeneratedAt: p.now().UTC(),
	}

	var sources, targets []*models.Shelter
	for i := range shelters {
		sh := &shelters[i]
		if sh.Capacity <= 0 {
			continue
		}
		rate := sh.OccupancyRate()
		p.metrics.SetOccupancyRate(sh.ID, rate)
		switch {
		case rate > threshold:
			sources = append(sources, sh)
		case rate < p.cfg.UnderloadThreshold:
			targets = append(targets, sh)
		}
	}

	sort.Slice(sources, func(i, j int) bool {
		ri, rj := sources[i].OccupancyRate(), sources[j].OccupancyRate()
		if ri != rj {
			return ri > rj
		}
		return sources[i].ID < sources[j].ID
	})
	sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })

	headroom := make(map[string]int, len(targets))
	for _, t := range targets {
		headroom[t.ID] = t.AvailableCapacity()
		plan.Underloaded = append(plan.Underloaded, load(t, 0))
	}

	for _, src := range sources {
		excess := p.excess(src)
		plan.Overloaded = append(plan.Overloaded, load(src, excess))
		p.alertOverloaded(ctx, src, threshold, excess)
		if excess <= 0 {
			continue
		}

		if s, ok := p.suggest(src, excess, targets, headroom); ok {
			plan.Suggestions = append(plan.Suggestions, s)
		} else {
			p.logger.Warn("no target for overloaded shelter", "shelter_id", src.ID, "excess", excess)
		}
	}

	p.metrics.RecordRebalancePlan(len(plan.Overloaded), len(plan.Underloaded), len(plan.Suggestions))
	if len(plan.Suggestions) > 0 {
		ev := events.New(events.TypeRebalancePlanned, fmt.Sprintf("%d transfers proposed", len(plan.Suggestions)))
		ev.Data = map[string]any{
			"threshold":   threshold,
			"overloaded":  len(plan.Overloaded),
			"underloaded": len(plan.Underloaded),
			"suggestions": len(plan.Suggestions),
		}
		p.emit(ctx, ev)
	}
	p.logger.Info("rebalance planned",
		"threshold", threshold,
		"overloaded", len(plan.Overloaded),
		"underloaded", len(plan.Underloaded),
		"suggestions", len(plan.Suggestions),
	)
	return plan, nil
}

// excess is how many people sit above the target rate
func (p *Planner) excess(sh *models.Shelter) int {
	return sh.Occupancy - int(math.Floor(float64(sh.Capacity)*p.cfg.TargetRate))
}

type rankedTarget struct {
	shelter  *models.Shelter
	distance float64
}

func (p *Planner) suggest(src *models.Shelter, excess int, targets []*models.Shelter, headroom map[string]int) (models.RebalanceSuggestion, bool) {
	ranked := make([]rankedTarget, 0, len(targets))
	for _, t := range targets {
		if t.ID == src.ID {
			continue
		}
		d, err := geo.Distance(src.Coordinate(), t.Coordinate())
		if err != nil {
			continue
		}
		ranked = append(ranked, rankedTarget{shelter: t, distance: d})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].distance != ranked[j].distance {
			return ranked[i].distance < ranked[j].distance
		}
		return ranked[i].shelter.ID < ranked[j].shelter.ID
	})

	want := min(p.cfg.MoveCap, excess)
	for _, rt := range ranked {
		room := headroom[rt.shelter.ID]
		if room < want {
			continue
		}
		move := min(want, room)
		headroom[rt.shelter.ID] = room - move

		priority := models.PriorityMedium
		if excess > p.cfg.HighPriorityExcess {
			priority = models.PriorityHigh
		}
		return models.RebalanceSuggestion{
			SourceID:       src.ID,
			SourceName:     src.Name,
			TargetID:       rt.shelter.ID,
			TargetName:     rt.shelter.Name,
			MoveCount:      move,
			DistanceMeters: rt.distance,
			Priority:       priority,
			Reason: fmt.Sprintf("%s is at %.0f%% with %d over target; %s is at %.0f%% with %d free, %.1f km away",
				src.Name, src.OccupancyRate()*100, excess,
				rt.shelter.Name, rt.shelter.OccupancyRate()*100, room, rt.distance/1000),
		}, true
	}
	return models.RebalanceSuggestion{}, false
}

func (p *Planner) alertOverloaded(ctx context.Context, sh *models.Shelter, threshold float64, excess int) {
	ev := events.New(events.TypeShelterOverloaded,
		fmt.Sprintf("%s is at %d/%d", sh.Name, sh.Occupancy, sh.Capacity))
	ev.ShelterID = sh.ID
	ev.Data = map[string]any{
		"occupancy_rate": sh.OccupancyRate(),
		"threshold":      threshold,
		"excess":         excess,
	}
	p.emit(ctx, ev)
}

func load(sh *models.Shelter, excess int) models.ShelterLoad {
	return models.ShelterLoad{
		ShelterID:     sh.ID,
		Name:          sh.Name,
		Capacity:      sh.Capacity,
		Occupancy:     sh.Occupancy,
		Available:     sh.AvailableCapacity(),
		OccupancyRate: sh.OccupancyRate(),
		Excess:        max(0, excess),
	}
}
