package database

import (
	"fmt"
	"time"

	"github.com/arnavshah/shelter-api-go/pkg/models"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// AuditEvent represents the audit_events table
type AuditEvent struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	Type      string         `gorm:"size:64;not null;index" json:"type"`
	RequestID string         `gorm:"size:36;index" json:"request_id,omitempty"`
	ShelterID string         `gorm:"size:36;index" json:"shelter_id,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `gorm:"serializer:json" json:"data,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

// BeforeCreate assigns an id to events built without one
func (e *AuditEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// DailyStats represents the daily_stats table
type DailyStats struct {
	ID                uint   `gorm:"primaryKey" json:"id"`
	Date              string `gorm:"uniqueIndex;not null" json:"date"`
	Matches           int    `gorm:"default:0" json:"matches"`
	Unmatched         int    `gorm:"default:0" json:"unmatched"`
	PeoplePlaced      int    `gorm:"default:0" json:"people_placed"`
	Transfers         int    `gorm:"default:0" json:"transfers"`
	PeopleTransferred int    `gorm:"default:0" json:"people_transferred"`
	Cancellations     int    `gorm:"default:0" json:"cancellations"`
}

// Options selects and tunes the database connection
type Options struct {
	// DatabaseURL selects postgres when set
	DatabaseURL string
	// DataPath is the sqlite file used otherwise
	DataPath string
	// Debug logs every statement
	Debug bool
}

// InitDB opens the database and migrates the schema
func InitDB(opts Options) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	if opts.Debug {
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}

	var db *gorm.DB
	var err error

	if opts.DatabaseURL != "" {
		cfg.PrepareStmt = false
		db, err = gorm.Open(postgres.New(postgres.Config{
			DSN:                  opts.DatabaseURL,
			PreferSimpleProtocol: true,
		}), cfg)
	} else {
		dbPath := opts.DataPath
		if dbPath == "" {
			dbPath = "shelters.db"
		}
		db, err = openSQLite(dbPath, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens and migrates a sqlite database, ":memory:" included
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := openSQLite(path, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func openSQLite(path string, cfg *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer; one connection also keeps ":memory:" alive
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)
	return db, nil
}

// Migrate creates or updates all tables
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Shelter{}, &models.Request{}, &AuditEvent{}, &DailyStats{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
