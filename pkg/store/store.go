// Package store defines the persistence contract consumed by the placement
// core and a gorm-backed implementation of it.
package store

import (
	"context"
	"time"

	"github.com/arnavshah/shelter-api-go/pkg/geo"
	"github.com/arnavshah/shelter-api-go/pkg/models"
)

// ShelterFilter narrows ListShelters. The zero value lists everything.
type ShelterFilter struct {
	// Bounds keeps shelters inside a lat/lng box
	Bounds *geo.Bounds
	// MinAvailable keeps shelters with at least this much headroom
	MinAvailable int
	// IDs restricts the result to the given shelters
	IDs []string
}

// RequestUpdate lists the fields to write on a request. Nil fields are left
// alone. The Expect fields guard the write: if the stored row no longer
// matches, the update fails with models.ErrStaleWrite.
type RequestUpdate struct {
	Status            *models.RequestStatus
	AssignedShelterID *string
	ClearAssignment   bool
	AssignedAt        *time.Time

	ExpectStatus    models.RequestStatus
	ExpectShelterID string
}

// Store is the persistence contract of the placement core.
//
// Every method returns an error wrapping models.ErrNotFound for unknown ids.
type Store interface {
	GetShelter(ctx context.Context, id string) (*models.Shelter, error)
	ListShelters(ctx context.Context, filter ShelterFilter) ([]models.Shelter, error)
	CreateShelter(ctx context.Context, shelter *models.Shelter) error

	// UpdateOccupancy sets occupancy to next only if it still equals expected.
	// A mismatch returns models.ErrStaleWrite.
	UpdateOccupancy(ctx context.Context, id string, expected, next int) error

	GetRequest(ctx context.Context, id string) (*models.Request, error)
	CreateRequest(ctx context.Context, req *models.Request) error
	UpdateRequest(ctx context.Context, id string, update RequestUpdate) error
	// ListRequestsByShelter returns requests assigned to the shelter, oldest
	// assignment first.
	ListRequestsByShelter(ctx context.Context, shelterID string) ([]models.Request, error)
	// ListPendingRequests returns pending requests, most urgent first, then
	// oldest first.
	ListPendingRequests(ctx context.Context) ([]models.Request, error)

	// InTx runs fn inside a transaction. fn must only use the Store it is given.
	InTx(ctx context.Context, fn func(tx Store) error) error
}
