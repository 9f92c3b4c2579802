// Package testutil builds throwaway databases and fixtures for package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/arnavshah/shelter-api-go/pkg/database"
	"github.com/arnavshah/shelter-api-go/pkg/models"
	"github.com/arnavshah/shelter-api-go/pkg/store"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Origin is the reference point fixtures are placed around
var Origin = models.Request{Latitude: 37.7749, Longitude: -122.4194}

// NewStore returns a store over a fresh in-memory SQLite database
func NewStore(t testing.TB) *store.Gorm {
	t.Helper()
	db := NewDB(t)
	return store.NewGorm(db)
}

// NewDB returns a fresh, migrated in-memory SQLite database
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// OffsetKm returns a coordinate about km kilometers north of Origin
func OffsetKm(km float64) (lat, lng float64) {
	// One degree of latitude is ~111.195 km on the haversine sphere
	return Origin.Latitude + km/111.195, Origin.Longitude
}

// ShelterAt builds a shelter km kilometers north of Origin
func ShelterAt(id string, capacity, occupancy int, km float64, features ...string) *models.Shelter {
	lat, lng := OffsetKm(km)
	return &models.Shelter{
		ID:        id,
		Name:      "Shelter " + id,
		Capacity:  capacity,
		Occupancy: occupancy,
		Latitude:  lat,
		Longitude: lng,
		Features:  features,
	}
}

// CreateShelters stores shelters and fails the test on error
func CreateShelters(t testing.TB, s store.Store, shelters ...*models.Shelter) {
	t.Helper()
	for _, sh := range shelters {
		require.NoError(t, s.CreateShelter(context.Background(), sh))
	}
}

// PendingRequest builds a pending request at Origin
func PendingRequest(id string, people int, urgency models.Urgency, features ...string) *models.Request {
	return &models.Request{
		ID:               id,
		RequesterName:    "Family " + id,
		PeopleCount:      people,
		RequiredFeatures: features,
		Latitude:         Origin.Latitude,
		Longitude:        Origin.Longitude,
		Urgency:          urgency,
		Status:           models.StatusPending,
	}
}

// CreateRequests stores requests and fails the test on error
func CreateRequests(t testing.TB, s store.Store, reqs ...*models.Request) {
	t.Helper()
	for _, r := range reqs {
		require.NoError(t, s.CreateRequest(context.Background(), r))
	}
}

// SeatRequests creates n one-person requests already assigned to shelterID,
// with assignment times one minute apart starting at base. The shelter's
// occupancy is expected to already count them.
func SeatRequests(t testing.TB, s store.Store, shelterID string, n int, base time.Time) []*models.Request {
	t.Helper()
	out := make([]*models.Request, 0, n)
	for i := 0; i < n; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		sid := shelterID
		r := &models.Request{
			ID:                fmt.Sprintf("%s-seat-%02d", shelterID, i),
			RequesterName:     fmt.Sprintf("Seated %d", i),
			PeopleCount:       1,
			Latitude:          Origin.Latitude,
			Longitude:         Origin.Longitude,
			Urgency:           models.UrgencyMedium,
			Status:            models.StatusAssigned,
			AssignedShelterID: &sid,
			AssignedAt:        &at,
		}
		require.NoError(t, s.CreateRequest(context.Background(), r))
		out = append(out, r)
	}
	return out
}

// Occupancy reloads a shelter and returns its occupancy
func Occupancy(t testing.TB, s store.Store, shelterID string) int {
	t.Helper()
	sh, err := s.GetShelter(context.Background(), shelterID)
	require.NoError(t, err)
	return sh.Occupancy
}
