package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/arnavshah/shelter-api-go/pkg/models"
	"gorm.io/gorm"
)

// pendingOrder sorts by urgency desc, then age, then id for a stable order
const pendingOrder = "CASE urgency WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, created_at ASC, id ASC"

// Gorm implements Store on a gorm database
type Gorm struct {
	db *gorm.DB
}

var _ Store = (*Gorm)(nil)

// NewGorm wraps db
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

// DB exposes the underlying handle
func (g *Gorm) DB() *gorm.DB { return g.db }

func (g *Gorm) GetShelter(ctx context.Context, id string) (*models.Shelter, error) {
	var sh models.Shelter
	if err := g.db.WithContext(ctx).Where("id = ?", id).First(&sh).Error; err != nil {
		return nil, notFound(err, "shelter", id)
	}
	return &sh, nil
}

func (g *Gorm) ListShelters(ctx context.Context, filter ShelterFilter) ([]models.Shelter, error) {
	q := g.db.WithContext(ctx).Model(&models.Shelter{})
	if b := filter.Bounds; b != nil {
		q = q.Where("latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?", b.MinLat, b.MaxLat, b.MinLng, b.MaxLng)
	}
	if filter.MinAvailable > 0 {
		q = q.Where("capacity - occupancy >= ?", filter.MinAvailable)
	}
	if len(filter.IDs) > 0 {
		q = q.Where("id IN ?", filter.IDs)
	}

	var shelters []models.Shelter
	if err := q.Order("id ASC").Find(&shelters).Error; err != nil {
		return nil, fmt.Errorf("list shelters: %w", err)
	}
	return shelters, nil
}

func (g *Gorm) CreateShelter(ctx context.Context, shelter *models.Shelter) error {
	if shelter.Capacity <= 0 {
		return models.NewError(models.ErrInvalidArgument, "shelter", shelter.ID, "capacity must be positive")
	}
	if shelter.Occupancy < 0 || shelter.Occupancy > shelter.Capacity {
		return models.NewError(models.ErrInvalidArgument, "shelter", shelter.ID, "occupancy must be within [0, capacity]")
	}
	if err := shelter.Coordinate().Validate(); err != nil {
		return models.NewError(err, "shelter", shelter.ID, "")
	}
	if err := g.db.WithContext(ctx).Create(shelter).Error; err != nil {
		return fmt.Errorf("create shelter: %w", err)
	}
	return nil
}

func (g *Gorm) UpdateOccupancy(ctx context.Context, id string, expected, next int) error {
	res := g.db.WithContext(ctx).Model(&models.Shelter{}).
		Where("id = ? AND occupancy = ?", id, expected).
		Update("occupancy", next)
	if res.Error != nil {
		return fmt.Errorf("update occupancy of %s: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := g.GetShelter(ctx, id); err != nil {
		return err
	}
	return models.NewError(models.ErrStaleWrite, "shelter", id, fmt.Sprintf("occupancy changed from %d", expected))
}

func (g *Gorm) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	var req models.Request
	if err := g.db.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, notFound(err, "request", id)
	}
	return &req, nil
}

func (g *Gorm) CreateRequest(ctx context.Context, req *models.Request) error {
	if req.PeopleCount <= 0 {
		return models.NewError(models.ErrInvalidArgument, "request", req.ID, "people_count must be positive")
	}
	if req.Urgency != "" && !req.Urgency.Valid() {
		return models.NewError(models.ErrInvalidArgument, "request", req.ID, fmt.Sprintf("unknown urgency %q", req.Urgency))
	}
	if err := req.Coordinate().Validate(); err != nil {
		return models.NewError(err, "request", req.ID, "")
	}
	if err := g.db.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

func (g *Gorm) UpdateRequest(ctx context.Context, id string, update RequestUpdate) error {
	fields := map[string]interface{}{}
	if update.Status != nil {
		fields["status"] = *update.Status
	}
	if update.ClearAssignment {
		fields["assigned_shelter_id"] = nil
		fields["assigned_at"] = nil
	} else {
		if update.AssignedShelterID != nil {
			fields["assigned_shelter_id"] = *update.AssignedShelterID
		}
		if update.AssignedAt != nil {
			fields["assigned_at"] = *update.AssignedAt
		}
	}
	if len(fields) == 0 {
		return nil
	}

	q := g.db.WithContext(ctx).Model(&models.Request{}).Where("id = ?", id)
	if update.ExpectStatus != "" {
		q = q.Where("status = ?", update.ExpectStatus)
	}
	if update.ExpectShelterID != "" {
		q = q.Where("assigned_shelter_id = ?", update.ExpectShelterID)
	}

	res := q.Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update request %s: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := g.GetRequest(ctx, id); err != nil {
		return err
	}
	return models.NewError(models.ErrStaleWrite, "request", id, "status or assignment changed")
}

func (g *Gorm) ListRequestsByShelter(ctx context.Context, shelterID string) ([]models.Request, error) {
	var reqs []models.Request
	err := g.db.WithContext(ctx).
		Where("assigned_shelter_id = ?", shelterID).
		Order("assigned_at ASC, id ASC").
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("list requests of shelter %s: %w", shelterID, err)
	}
	return reqs, nil
}

func (g *Gorm) ListPendingRequests(ctx context.Context) ([]models.Request, error) {
	var reqs []models.Request
	err := g.db.WithContext(ctx).
		Where("status = ?", models.StatusPending).
		Order(pendingOrder).
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return reqs, nil
}

func (g *Gorm) InTx(ctx context.Context, fn func(tx Store) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Gorm{db: tx})
	})
}

func notFound(err error, entity, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewError(models.ErrNotFound, entity, id, "")
	}
	return fmt.Errorf("load %s %s: %w", entity, id, err)
}
