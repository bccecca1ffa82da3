// Package archive records finished games. The coordinator only needs Store;
// GormStore keeps records in Postgres.
package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/live-chess-backend/internal/engine"
)

type Reason string

const (
	ReasonCompleted  Reason = "completed"
	ReasonTerminated Reason = "terminated"
	ReasonExpired    Reason = "expired"
)

type Record struct {
	GameID    string
	White     string
	Black     string
	Moves     []string
	Outcome   engine.Outcome
	Reason    Reason
	StartedAt time.Time
	EndedAt   time.Time
}

// FromState snapshots s as a record.
func FromState(s engine.State, reason Reason, endedAt time.Time) Record {
	return Record{
		GameID:    s.ID,
		White:     s.White,
		Black:     s.Black,
		Moves:     append([]string(nil), s.Moves...),
		Outcome:   s.Outcome,
		Reason:    reason,
		StartedAt: s.CreatedAt,
		EndedAt:   endedAt,
	}
}

type Store interface {
	Save(ctx context.Context, rec Record) error
	Close() error
}

// Nop discards records. It is used when no database is configured.
type Nop struct{}

func (Nop) Save(context.Context, Record) error { return nil }
func (Nop) Close() error                       { return nil }

type gameRow struct {
	ID        uint   `gorm:"primaryKey"`
	GameID    string `gorm:"size:32;index"`
	White     string `gorm:"size:64"`
	Black     string `gorm:"size:64"`
	Moves     string `gorm:"type:text"`
	Outcome   string `gorm:"size:8"`
	Reason    string `gorm:"size:16"`
	StartedAt time.Time
	EndedAt   time.Time
	CreatedAt time.Time
}

func (gameRow) TableName() string { return "archived_games" }

func toRow(rec Record) gameRow {
	return gameRow{
		GameID:    rec.GameID,
		White:     rec.White,
		Black:     rec.Black,
		Moves:     strings.Join(rec.Moves, " "),
		Outcome:   string(rec.Outcome),
		Reason:    string(rec.Reason),
		StartedAt: rec.StartedAt,
		EndedAt:   rec.EndedAt,
	}
}

type GormStore struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn and migrates the archive table.
func OpenPostgres(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewGormStore(db)
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&gameRow{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Save(ctx context.Context, rec Record) error {
	row := toRow(rec)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("archive game %s: %w", rec.GameID, err)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
