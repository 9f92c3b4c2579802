package database

import (
	"context"
	"fmt"
	"time"

	"github.com/arnavshah/shelter-api-go/pkg/events"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AuditSink stores events in audit_events and rolls them up into daily_stats
type AuditSink struct {
	DB *gorm.DB
}

var _ events.Sink = (*AuditSink)(nil)

// NewAuditSink creates an AuditSink
func NewAuditSink(db *gorm.DB) *AuditSink {
	return &AuditSink{DB: db}
}

// Emit records the event and its counters
func (a *AuditSink) Emit(ctx context.Context, e events.Event) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	row := AuditEvent{
		ID:        e.ID,
		Type:      e.Type,
		RequestID: e.RequestID,
		ShelterID: e.ShelterID,
		Message:   e.Message,
		Data:      e.Data,
		CreatedAt: ts,
	}
	if err := a.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}

	delta := statsDelta(e)
	if delta == nil {
		return nil
	}
	return a.bump(ctx, ts.Format("2006-01-02"), delta)
}

// bump upserts the day's counters in a single query
func (a *AuditSink) bump(ctx context.Context, day string, delta map[string]int) error {
	stats := DailyStats{Date: day}
	updates := make(map[string]interface{}, len(delta))
	for col, n := range delta {
		updates[col] = gorm.Expr(col+" + ?", n)
		switch col {
		case "matches":
			stats.Matches = n
		case "unmatched":
			stats.Unmatched = n
		case "people_placed":
			stats.PeoplePlaced = n
		case "transfers":
			stats.Transfers = n
		case "people_transferred":
			stats.PeopleTransferred = n
		case "cancellations":
			stats.Cancellations = n
		}
	}

	err := a.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(&stats).Error
	if err != nil {
		return fmt.Errorf("update daily stats: %w", err)
	}
	return nil
}

func statsDelta(e events.Event) map[string]int {
	people := intField(e.Data, "people")
	switch e.Type {
	case events.TypeRequestAssigned:
		return map[string]int{"matches": 1, "people_placed": people}
	case events.TypeRequestUnmatched:
		return map[string]int{"unmatched": 1}
	case events.TypeRebalanceTransfer:
		return map[string]int{"transfers": 1, "people_transferred": people}
	case events.TypeRequestCancelled:
		return map[string]int{"cancellations": 1}
	}
	return nil
}

func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// RecentStats returns up to days rows of daily stats, newest first
func RecentStats(ctx context.Context, db *gorm.DB, days int) ([]DailyStats, error) {
	if days <= 0 {
		days = 30
	}
	var stats []DailyStats
	if err := db.WithContext(ctx).Order("date desc").Limit(days).Find(&stats).Error; err != nil {
		return nil, fmt.Errorf("load daily stats: %w", err)
	}
	return stats, nil
}

// RecentEvents returns the latest audit events, optionally for one request
// or shelter
func RecentEvents(ctx context.Context, db *gorm.DB, requestID, shelterID string, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	q := db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if requestID != "" {
		q = q.Where("request_id = ?", requestID)
	}
	if shelterID != "" {
		q = q.Where("shelter_id = ?", shelterID)
	}
	var out []AuditEvent
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load audit events: %w", err)
	}
	return out, nil
}
