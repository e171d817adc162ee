package models

import (
	"time"

	"gorm.io/gorm"

	"lumora/internal/domain"
)

type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	TelegramID   int64          `gorm:"uniqueIndex;not null" json:"telegram_id"`
	Username     string         `gorm:"size:64;index" json:"username"`
	Email        string         `gorm:"size:255;index" json:"email"`
	PasswordHash string         `gorm:"size:255" json:"-"` // admins only
	Role         string         `gorm:"size:20;not null;index" json:"role"` // USER | ADMIN
	// Busy is set while a generation job is active for this user and cleared
	// when the job completes, fails, or the stuck-job sweep resets it.
	Busy        bool           `gorm:"default:false" json:"busy"`
	ActiveJobID *uint          `json:"active_job_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string { return "users" }

func (u *User) IsAdmin() bool { return u.Role == domain.RoleAdmin }
