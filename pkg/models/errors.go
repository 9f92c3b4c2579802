package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arnavshah/shelter-api-go/pkg/geo"
)

// Sentinel errors shared by the placement core. Match with errors.Is.
var (
	// ErrNotFound is returned when a shelter or request id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when an entity is in the wrong lifecycle state.
	ErrInvalidState = errors.New("invalid state")

	// ErrNoEligibleShelter is returned when every candidate failed a hard filter.
	ErrNoEligibleShelter = errors.New("no eligible shelter")

	// ErrCapacityExceeded is returned when an increment would pass capacity.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrInsufficientCapacity is returned when a rebalance target lacks headroom.
	ErrInsufficientCapacity = errors.New("insufficient capacity")

	// ErrInsufficientOccupancy is returned when a source has fewer people than asked to move.
	ErrInsufficientOccupancy = errors.New("insufficient occupancy")

	// ErrAssignmentConflict is returned when concurrent writers took the capacity.
	ErrAssignmentConflict = errors.New("assignment conflict")

	// ErrInvalidCoordinate is returned for malformed geographic input.
	ErrInvalidCoordinate = geo.ErrInvalidCoordinate

	// ErrInvalidArgument is returned for non-positive counts and similar input errors.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStaleWrite is returned by guarded store writes whose guard no longer holds.
	ErrStaleWrite = errors.New("stale write")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "not_found"},
	{ErrInvalidState, "invalid_state"},
	{ErrNoEligibleShelter, "no_eligible_shelter"},
	{ErrCapacityExceeded, "capacity_exceeded"},
	{ErrInsufficientCapacity, "insufficient_capacity"},
	{ErrInsufficientOccupancy, "insufficient_occupancy"},
	{ErrAssignmentConflict, "assignment_conflict"},
	{ErrInvalidCoordinate, "invalid_coordinate"},
	{ErrInvalidArgument, "invalid_argument"},
	{ErrStaleWrite, "stale_write"},
}

// ErrorCode maps err to a stable reason code, "internal" when unknown
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal"
}

// Filter reasons used in FilterSummary
const (
	FilterCapacity = "capacity"
	FilterFeature  = "feature"
	FilterDistance = "distance"
	FilterLocation = "location"
	FilterEmpty    = "empty"
)

// FilterSummary counts why candidates were eliminated by hard filters
type FilterSummary struct {
	Considered int `json:"considered"`
	Capacity   int `json:"capacity"`
	Feature    int `json:"feature"`
	Distance   int `json:"distance"`
	Location   int `json:"location"`
}

// Add records one elimination
func (f *FilterSummary) Add(reason string) {
	switch reason {
	case FilterCapacity:
		f.Capacity++
	case FilterFeature:
		f.Feature++
	case FilterDistance:
		f.Distance++
	case FilterLocation:
		f.Location++
	}
}

// Dominant returns the reason that eliminated the most candidates
func (f FilterSummary) Dominant() string {
	if f.Considered == 0 {
		return FilterEmpty
	}
	best, n := FilterCapacity, f.Capacity
	for _, c := range []struct {
		reason string
		n      int
	}{{FilterFeature, f.Feature}, {FilterDistance, f.Distance}, {FilterLocation, f.Location}} {
		if c.n > n {
			best, n = c.reason, c.n
		}
	}
	return best
}

// String renders the counts the way conflict reasons are reported
func (f FilterSummary) String() string {
	if f.Considered == 0 {
		return "no shelters found"
	}
	var reasons []string
	if f.Capacity > 0 {
		reasons = append(reasons, fmt.Sprintf("%d shelters lacked capacity", f.Capacity))
	}
	if f.Feature > 0 {
		reasons = append(reasons, fmt.Sprintf("%d shelters were missing required features", f.Feature))
	}
	if f.Distance > 0 {
		reasons = append(reasons, fmt.Sprintf("%d shelters were out of range", f.Distance))
	}
	if f.Location > 0 {
		reasons = append(reasons, fmt.Sprintf("%d shelters had invalid coordinates", f.Location))
	}
	return strings.Join(reasons, "; ")
}

// PlacementError carries entity detail alongside one of the sentinel errors
type PlacementError struct {
	Err    error          `json:"-"`
	Entity string         `json:"entity,omitempty"`
	ID     string         `json:"id,omitempty"`
	Reason string         `json:"reason,omitempty"`
	Filter *FilterSummary `json:"filter,omitempty"`
}

// NewError builds a PlacementError
func NewError(err error, entity, id, reason string) *PlacementError {
	return &PlacementError{Err: err, Entity: entity, ID: id, Reason: reason}
}

func (e *PlacementError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.Entity != "" {
		fmt.Fprintf(&b, ": %s %s", e.Entity, e.ID)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	return b.String()
}

func (e *PlacementError) Unwrap() error { return e.Err }

// Code returns the stable reason code of the wrapped sentinel
func (e *PlacementError) Code() string { return ErrorCode(e.Err) }
