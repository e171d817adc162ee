package models

import "time"

// GenerationJob is one run of the photo pipeline against a purchased pack.
// The pipeline itself is external; it reports progress through the /internal
// job callbacks, and the stuck-job sweep fails jobs that go silent.
type GenerationJob struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	UserID    uint   `gorm:"not null;index" json:"user_id"`
	PaymentID uint   `gorm:"not null;index" json:"payment_id"`
	Style     string `gorm:"size:64" json:"style"`
	Units     int    `gorm:"not null" json:"units"`
	Status    string `gorm:"size:20;not null;index" json:"status"` // QUEUED | RUNNING | COMPLETED | FAILED

	StartedAt      *time.Time `json:"started_at"`
	LastProgressAt *time.Time `json:"last_progress_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	FailReason     string     `gorm:"size:255" json:"fail_reason"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	User    User    `gorm:"foreignKey:UserID" json:"-"`
	Payment Payment `gorm:"foreignKey:PaymentID" json:"-"`
}

func (GenerationJob) TableName() string { return "generation_jobs" }
