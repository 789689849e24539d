package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/attendmeet/internal/domain"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Record is one persisted attendance entry.
type Record struct {
	ID        uint   `gorm:"primaryKey"`
	AttemptID string `gorm:"type:VARCHAR(36);not null;uniqueIndex"`

	Identity string `gorm:"type:VARCHAR(64);not null;index"`
	Room     string `gorm:"type:VARCHAR(16);not null"`

	Outcome string `gorm:"type:VARCHAR(32);not null"`
	Detail  string `gorm:"type:TEXT"`

	RecordedAt time.Time `gorm:"not null;index"`
	CreatedAt  time.Time
}

func (Record) TableName() string { return "attendance_records" }

func (r Record) Attempt() domain.Attempt {
	return domain.Attempt{
		ID:        r.AttemptID,
		Identity:  domain.Identity(r.Identity),
		Room:      domain.RoomCode(r.Room),
		Timestamp: r.RecordedAt,
		Outcome:   domain.Outcome(r.Outcome),
		Detail:    r.Detail,
	}
}

// SQLStore keeps attendance in a sqlite database.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLStore opens (and migrates) the database at dsn.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open attendance db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Record{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate attendance db: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Name() string { return "sql" }

// Append stores a. Appending the same attempt twice keeps one row.
func (s *SQLStore) Append(ctx context.Context, a domain.Attempt) error {
	rec := Record{
		AttemptID:  a.ID,
		Identity:   a.Identity.String(),
		Room:       a.Room.String(),
		Outcome:    string(a.Outcome),
		Detail:     a.Detail,
		RecordedAt: a.Timestamp.UTC(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "attempt_id"}}, DoNothing: true}).
		Create(&rec).Error
}

// ByIdentity returns the attempts of identity since the given time, oldest first.
func (s *SQLStore) ByIdentity(ctx context.Context, identity domain.Identity, since time.Time) ([]domain.Attempt, error) {
	var recs []Record
	err := s.db.WithContext(ctx).
		Where("identity = ? AND recorded_at >= ?", identity.String(), since.UTC()).
		Order("recorded_at, id").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Attempt, len(recs))
	for i, r := range recs {
		out[i] = r.Attempt()
	}
	return out, nil
}

func (s *SQLStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Record{}).Count(&n).Error
	return n, err
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
