package repository

import (
	"time"

	"gorm.io/gorm"

	"lumora/internal/domain"
	"lumora/internal/models"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(j *models.GenerationJob) error {
	return r.db.Create(j).Error
}

func (r *JobRepository) GetByID(id uint) (*models.GenerationJob, error) {
	var j models.GenerationJob
	if err := r.db.First(&j, id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// ListStuck returns active jobs the pipeline appears to have abandoned:
// RUNNING with no progress since runningCutoff, or QUEUED and never started
// since queuedCutoff.
func (r *JobRepository) ListStuck(runningCutoff, queuedCutoff time.Time, limit int) ([]models.GenerationJob, error) {
	var list []models.GenerationJob
	err := r.db.Where(
		"(status = ? AND last_progress_at < ?) OR (status = ? AND created_at < ?)",
		domain.JobRunning, runningCutoff, domain.JobQueued, queuedCutoff,
	).Order("created_at ASC").Limit(limit).Find(&list).Error
	return list, err
}

// MarkRunning claims QUEUED → RUNNING when the pipeline picks the job up.
func (r *JobRepository) MarkRunning(id uint) (bool, error) {
	now := time.Now()
	res := r.db.Model(&models.GenerationJob{}).
		Where("id = ? AND status = ?", id, domain.JobQueued).
		Updates(map[string]any{
			"status":           domain.JobRunning,
			"started_at":       now,
			"last_progress_at": now,
			"updated_at":       now,
		})
	return res.RowsAffected == 1, res.Error
}

// Touch refreshes the progress timestamp on a RUNNING job.
func (r *JobRepository) Touch(id uint) (bool, error) {
	now := time.Now()
	res := r.db.Model(&models.GenerationJob{}).
		Where("id = ? AND status = ?", id, domain.JobRunning).
		Updates(map[string]any{"last_progress_at": now, "updated_at": now})
	return res.RowsAffected == 1, res.Error
}

func (r *JobRepository) MarkCompleted(id uint) (bool, error) {
	now := time.Now()
	res := r.db.Model(&models.GenerationJob{}).
		Where("id = ? AND status = ?", id, domain.JobRunning).
		Updates(map[string]any{
			"status":       domain.JobCompleted,
			"completed_at": now,
			"updated_at":   now,
		})
	return res.RowsAffected == 1, res.Error
}

// MarkFailed claims an active job into FAILED. Conditional on the job still
// being QUEUED or RUNNING so the sweep and the pipeline callback cannot both
// fail (or fail-then-complete) the same job.
func (r *JobRepository) MarkFailed(id uint, reason string) (bool, error) {
	res := r.db.Model(&models.GenerationJob{}).
		Where("id = ? AND status IN ?", id, []string{domain.JobQueued, domain.JobRunning}).
		Updates(map[string]any{
			"status":      domain.JobFailed,
			"fail_reason": reason,
			"updated_at":  time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}
