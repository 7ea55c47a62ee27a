// Package archive records terminal task outcomes for reporting. The archive
// is strictly write-only from the queue's point of view: scheduling never
// reads it back, so queue correctness does not depend on the database.
package archive

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Entry is one terminal task outcome.
type Entry struct {
	TaskID       string
	ModelName    string
	ModelVersion string
	EmailAddress string
	Outcome      string
	SubmittedAt  time.Time
	FinishedAt   time.Time
}

// Recorder accepts terminal task outcomes. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(e Entry) error
}

// Noop is a Recorder that discards everything. Used when no archive DSN is
// configured.
type Noop struct{}

// Record implements Recorder.
func (Noop) Record(Entry) error { return nil }

// ── Postgres recorder ─────────────────────────────────────────────────────────

type entryModel struct {
	ID           uint      `gorm:"primaryKey;autoIncrement;column:id"`
	TaskID       string    `gorm:"type:uuid;column:task_id;not null;index"`
	ModelName    string    `gorm:"column:model_name;not null"`
	ModelVersion string    `gorm:"column:model_version;not null"`
	EmailAddress string    `gorm:"column:email_address;not null"`
	Outcome      string    `gorm:"column:outcome;not null"`
	SubmittedAt  time.Time `gorm:"column:submitted_at;not null"`
	FinishedAt   time.Time `gorm:"column:finished_at;not null"`
}

func (entryModel) TableName() string { return "task_archive" }

// Postgres is a GORM-backed Recorder writing to a task_archive table.
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres connects to the given DSN and migrates the archive table.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: connect: %w", err)
	}
	if err := db.AutoMigrate(&entryModel{}); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Record implements Recorder.
func (p *Postgres) Record(e Entry) error {
	m := entryModel{
		TaskID:       e.TaskID,
		ModelName:    e.ModelName,
		ModelVersion: e.ModelVersion,
		EmailAddress: e.EmailAddress,
		Outcome:      e.Outcome,
		SubmittedAt:  e.SubmittedAt,
		FinishedAt:   e.FinishedAt,
	}
	if err := p.db.Create(&m).Error; err != nil {
		return fmt.Errorf("archive: record task %s: %w", e.TaskID, err)
	}
	return nil
}
