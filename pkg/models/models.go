package models

import (
	"strings"
	"time"

	"github.com/arnavshah/shelter-api-go/pkg/geo"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Urgency ranks how quickly a request needs placement
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Valid reports whether u is one of the known levels
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	}
	return false
}

// Rank orders urgencies, higher is more urgent. Unknown values rank as medium.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyHigh:
		return 2
	case UrgencyLow:
		return 0
	default:
		return 1
	}
}

// Multiplier scales a combined match score
func (u Urgency) Multiplier() float64 {
	switch u {
	case UrgencyHigh:
		return 1.2
	case UrgencyLow:
		return 0.8
	default:
		return 1.0
	}
}

// TravelSpeed is the assumed transit speed in meters per minute
func (u Urgency) TravelSpeed() float64 {
	switch u {
	case UrgencyHigh:
		return 200
	case UrgencyLow:
		return 100
	default:
		return geo.DefaultSpeedMetersPerMinute
	}
}

// RequestStatus is the lifecycle state of a Request
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusAssigned  RequestStatus = "assigned"
	StatusResolved  RequestStatus = "resolved"
	StatusCompleted RequestStatus = "completed"
	StatusCancelled RequestStatus = "cancelled"
)

// Counted reports whether a request in this state is included in its
// shelter's occupancy
func (s RequestStatus) Counted() bool {
	return s == StatusAssigned || s == StatusResolved || s == StatusCompleted
}

// Shelter is a facility with a fixed capacity and a running occupancy
type Shelter struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Capacity    int       `gorm:"not null" json:"capacity"`
	Occupancy   int       `gorm:"not null;default:0" json:"occupancy"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Features    []string  `gorm:"serializer:json" json:"features"`
	Description string    `json:"description,omitempty"`
	Address     string    `json:"address,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID when the caller did not
func (s *Shelter) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Coordinate returns the shelter location
func (s *Shelter) Coordinate() geo.Coordinate {
	return geo.Coordinate{Lat: s.Latitude, Lng: s.Longitude}
}

// AvailableCapacity is capacity minus occupancy
func (s *Shelter) AvailableCapacity() int {
	return s.Capacity - s.Occupancy
}

// OccupancyRate is occupancy over capacity, 0 for a shelter without capacity
func (s *Shelter) OccupancyRate() float64 {
	if s.Capacity <= 0 {
		return 0
	}
	return float64(s.Occupancy) / float64(s.Capacity)
}

// HasFeature does a trimmed, case-insensitive tag lookup
func (s *Shelter) HasFeature(tag string) bool {
	want := NormalizeTag(tag)
	for _, f := range s.Features {
		if NormalizeTag(f) == want {
			return true
		}
	}
	return false
}

// Request is a family or group asking for placement
type Request struct {
	ID                string        `gorm:"primaryKey;size:36" json:"id"`
	RequesterName     string        `gorm:"not null" json:"requester_name"`
	PeopleCount       int           `gorm:"not null" json:"people_count"`
	Needs             string        `json:"needs,omitempty"`
	RequiredFeatures  []string      `gorm:"serializer:json" json:"required_features"`
	Latitude          float64       `json:"latitude"`
	Longitude         float64       `json:"longitude"`
	Phone             string        `json:"phone,omitempty"`
	Urgency           Urgency       `gorm:"size:16;not null;default:medium" json:"urgency"`
	Status            RequestStatus `gorm:"size:16;not null;default:pending;index" json:"status"`
	AssignedShelterID *string       `gorm:"size:36;index" json:"assigned_shelter_id"`
	AssignedAt        *time.Time    `json:"assigned_at"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// BeforeCreate assigns a UUID and the default lifecycle values
func (r *Request) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	if r.Urgency == "" {
		r.Urgency = UrgencyMedium
	}
	return nil
}

// Coordinate returns the request location
func (r *Request) Coordinate() geo.Coordinate {
	return geo.Coordinate{Lat: r.Latitude, Lng: r.Longitude}
}

// NormalizeTag lowercases and trims a feature tag
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// MatchCandidate is one scored shelter for one request
type MatchCandidate struct {
	Shelter         *Shelter `json:"shelter"`
	DistanceMeters  float64  `json:"distance_meters"`
	ETAMinutes      int      `json:"eta_minutes"`
	CapacityScore   float64  `json:"capacity_score"`
	DistanceScore   float64  `json:"distance_score"`
	FeatureScore    float64  `json:"feature_score"`
	SimilarityScore *float64 `json:"similarity_score,omitempty"` // nil when the signal was unavailable
	CombinedScore   float64  `json:"combined_score"`
	MatchReason     string   `json:"match_reason"`
}

// Assignment is the committed outcome of a match
type Assignment struct {
	RequestID      string    `json:"request_id"`
	ShelterID      string    `json:"shelter_id"`
	ShelterName    string    `json:"shelter_name"`
	DistanceMeters float64   `json:"distance_meters"`
	ETAMinutes     int       `json:"eta_minutes"`
	CombinedScore  float64   `json:"combined_score"`
	MatchReason    string    `json:"match_reason"`
	AssignedAt     time.Time `json:"assigned_at"`
}

// AssignmentResult is one row of a batch matching pass
type AssignmentResult struct {
	RequestID  string      `json:"request_id"`
	Assignment *Assignment `json:"assignment,omitempty"`
	Error      string      `json:"error,omitempty"`
	ErrorCode  string      `json:"error_code,omitempty"`
}

// Priority of a rebalance suggestion
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
)

// ShelterLoad is a shelter's load snapshot taken during planning
type ShelterLoad struct {
	ShelterID     string  `json:"shelter_id"`
	Name          string  `json:"name"`
	Capacity      int     `json:"capacity"`
	Occupancy     int     `json:"occupancy"`
	Available     int     `json:"available"`
	OccupancyRate float64 `json:"occupancy_rate"`
	Excess        int     `json:"excess,omitempty"`
}

// RebalanceSuggestion proposes moving people between two shelters
type RebalanceSuggestion struct {
	SourceID       string   `json:"source_id"`
	SourceName     string   `json:"source_name,omitempty"`
	TargetID       string   `json:"target_id"`
	TargetName     string   `json:"target_name,omitempty"`
	MoveCount      int      `json:"move_count"` // people, not requests
	DistanceMeters float64  `json:"distance_meters"`
	Priority       Priority `json:"priority"`
	Reason         string   `json:"reason"`
}

// RebalancePlan is the output of one planning pass
type RebalancePlan struct {
	Threshold   float64               `json:"threshold"`
	Overloaded  []ShelterLoad         `json:"overloaded"`
	Underloaded []ShelterLoad         `json:"underloaded"`
	Suggestions []RebalanceSuggestion `json:"suggestions"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// ExecutionStatus summarizes how much of a suggestion was applied
type ExecutionStatus string

const (
	ExecutionApplied ExecutionStatus = "applied"
	ExecutionPartial ExecutionStatus = "partial"
	ExecutionFailed  ExecutionStatus = "failed"
)

// ReassignmentResult is the outcome for a single request within a suggestion
type ReassignmentResult struct {
	RequestID   string `json:"request_id"`
	PeopleCount int    `json:"people_count"`
	Moved       bool   `json:"moved"`
	Error       string `json:"error,omitempty"`
}

// ExecutionResult is the outcome of applying one suggestion
type ExecutionResult struct {
	Suggestion      RebalanceSuggestion  `json:"suggestion"`
	Status          ExecutionStatus      `json:"status"`
	RequestedPeople int                  `json:"requested_people"`
	MovedPeople     int                  `json:"moved_people"`
	MovedRequests   int                  `json:"moved_requests"`
	Reassignments   []ReassignmentResult `json:"reassignments,omitempty"`
	Error           string               `json:"error,omitempty"`
	ErrorCode       string               `json:"error_code,omitempty"`
}
