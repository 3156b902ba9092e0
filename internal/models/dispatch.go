package models

import "time"

// Batch outcomes.
const (
	BatchCompleted = "completed"
	BatchFailed    = "failed"
)

// DispatchBatch is the audit row for one finished send batch. Batches are
// written once, after they end; nothing about an in-flight batch is stored.
type DispatchBatch struct {
	ID         string    `gorm:"primaryKey;size:36"`
	Kind       string    `gorm:"size:16;not null;index"` // "text", "media", "reminder"
	Outcome    string    `gorm:"size:16;not null;index"`
	Error      string    `gorm:"type:text"`
	Total      int       `gorm:"not null"`
	Attempted  int       `gorm:"not null"`
	Successful int       `gorm:"not null"`
	Failed     int       `gorm:"not null"`
	Filtered   int       `gorm:"not null"`
	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time
	CreatedAt  time.Time

	Outcomes []DispatchOutcome `gorm:"foreignKey:BatchID"`
}

// DispatchOutcome is one recipient's result within a batch, in input order.
type DispatchOutcome struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	BatchID     string `gorm:"size:36;not null;index"`
	Position    int    `gorm:"not null"`
	Name        string `gorm:"size:256"`
	Destination string `gorm:"size:64"`
	Success     bool   `gorm:"not null"`
	ErrorCode   string `gorm:"size:32"`
	Error       string `gorm:"type:text"`
}
