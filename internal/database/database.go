package database

import (
	"os"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lumora/config"
	"lumora/internal/domain"
	"lumora/internal/models"
)

func NewDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error), // Only log errors, not every SQL query
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// AutoMigrate runs Gorm auto-migration for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Payment{},
		&models.GenerationJob{},
		&models.ReferralCode{},
		&models.Referral{},
		&models.ReferralEarning{},
	)
}

// SeedAdmin ensures an ADMIN user exists for the refund endpoint. Password
// comes from ADMIN_PASSWORD; nothing is seeded when it is unset.
func SeedAdmin(db *gorm.DB) {
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		return
	}
	var count int64
	db.Model(&models.User{}).Where("role = ?", domain.RoleAdmin).Count(&count)
	if count > 0 {
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return
	}
	db.Create(&models.User{
		TelegramID:   -1,
		Username:     "admin",
		Email:        os.Getenv("ADMIN_EMAIL"),
		PasswordHash: string(hash),
		Role:         domain.RoleAdmin,
	})
}
