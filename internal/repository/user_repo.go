package repository

import (
	"gorm.io/gorm"

	"lumora/internal/models"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(u *models.User) error {
	return r.db.Create(u).Error
}

func (r *UserRepository) GetByID(id uint) (*models.User, error) {
	var u models.User
	if err := r.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) GetByTelegramID(tgID int64) (*models.User, error) {
	var u models.User
	if err := r.db.Where("telegram_id = ?", tgID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) GetByEmail(email string) (*models.User, error) {
	var u models.User
	if err := r.db.Where("email = ?", email).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) Update(u *models.User) error {
	return r.db.Save(u).Error
}

// SetBusy marks the user as occupied by a generation job. Conditional on not
// already being busy so two jobs cannot run for one user.
func (r *UserRepository) SetBusy(userID, jobID uint) (bool, error) {
	res := r.db.Model(&models.User{}).
		Where("id = ? AND busy = ?", userID, false).
		Updates(map[string]any{"busy": true, "active_job_id": jobID})
	return res.RowsAffected == 1, res.Error
}

// ClearBusy releases the user after a job finishes or is swept. Conditional on
// the job id so a stale sweep cannot clobber a newer job's claim.
func (r *UserRepository) ClearBusy(userID, jobID uint) error {
	return r.db.Model(&models.User{}).
		Where("id = ? AND active_job_id = ?", userID, jobID).
		Updates(map[string]any{"busy": false, "active_job_id": nil}).Error
}
