package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lumora/internal/domain"
	"lumora/internal/models"
	"lumora/internal/repository"
	"lumora/internal/service"
)

// JobHandler owns the generation lifecycle: the bot starts jobs against paid
// packs, and the external pipeline reports back through the /internal
// callbacks.
type JobHandler struct {
	paymentRepo *repository.PaymentRepository
	jobRepo     *repository.JobRepository
	userRepo    *repository.UserRepository
	refunds     *service.RefundService
	notifier    *service.TelegramNotifier
	log         *zap.Logger
}

func NewJobHandler(
	paymentRepo *repository.PaymentRepository,
	jobRepo *repository.JobRepository,
	userRepo *repository.UserRepository,
	refunds *service.RefundService,
	notifier *service.TelegramNotifier,
	log *zap.Logger,
) *JobHandler {
	return &JobHandler{
		paymentRepo: paymentRepo,
		jobRepo:     jobRepo,
		userRepo:    userRepo,
		refunds:     refunds,
		notifier:    notifier,
		log:         log,
	}
}

// Start consumes a paid pack and queues a generation job. Used when the payer
// picked no style at checkout, so dispatch left the entitlement unconsumed.
func (h *JobHandler) Start(c *gin.Context) {
	var req struct {
		TelegramID int64  `json:"telegram_id" binding:"required"`
		PaymentID  uint   `json:"payment_id" binding:"required"`
		Style      string `json:"style" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.userRepo.GetByTelegramID(req.TelegramID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	p, err := h.paymentRepo.GetByID(req.PaymentID)
	if err != nil || p.UserID != user.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
		return
	}
	if p.Status != domain.PaymentCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "payment is not completed"})
		return
	}
	if user.Busy {
		c.JSON(http.StatusConflict, gin.H{"error": "a generation is already running"})
		return
	}

	claimed, err := h.paymentRepo.ConsumeEntitlement(p.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to claim entitlement"})
		return
	}
	if !claimed {
		c.JSON(http.StatusConflict, gin.H{"error": "pack already used"})
		return
	}

	job := &models.GenerationJob{
		UserID:    user.ID,
		PaymentID: p.ID,
		Style:     req.Style,
		Units:     p.Units,
		Status:    domain.JobQueued,
	}
	if err := h.jobRepo.Create(job); err != nil {
		h.log.Error("job create failed", zap.Uint("payment_id", p.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
		return
	}
	if ok, _ := h.userRepo.SetBusy(user.ID, job.ID); !ok {
		h.log.Warn("user became busy mid-start, job queued anyway",
			zap.Uint("user_id", user.ID), zap.Uint("job_id", job.ID))
	}
	h.log.Info("generation queued",
		zap.Uint("job_id", job.ID),
		zap.Uint("payment_id", p.ID),
		zap.String("style", req.Style))
	c.JSON(http.StatusCreated, gin.H{"job": job})
}

// Get returns job state for the bot's progress polling.
func (h *JobHandler) Get(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

// Running marks the job picked up by the pipeline.
func (h *JobHandler) Running(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	claimed, err := h.jobRepo.MarkRunning(job.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update job"})
		return
	}
	if !claimed {
		c.JSON(http.StatusConflict, gin.H{"error": "job is not queued"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Progress is the pipeline heartbeat; it keeps the stuck-job sweep off a
// long-running job.
func (h *JobHandler) Progress(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	alive, err := h.jobRepo.Touch(job.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update job"})
		return
	}
	if !alive {
		// The sweep already failed this job; tell the pipeline to stop.
		c.JSON(http.StatusConflict, gin.H{"error": "job is no longer running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *JobHandler) Complete(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	claimed, err := h.jobRepo.MarkCompleted(job.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update job"})
		return
	}
	if !claimed {
		c.JSON(http.StatusConflict, gin.H{"error": "job already finished"})
		return
	}
	h.userRepo.ClearBusy(job.UserID, job.ID)
	h.log.Info("generation completed", zap.Uint("job_id", job.ID))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Fail records a pipeline-reported failure: the job is failed, the user
// unblocked, and the backing payment refunded in full.
func (h *JobHandler) Fail(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "generation failed"
	}

	claimed, err := h.jobRepo.MarkFailed(job.ID, req.Reason)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update job"})
		return
	}
	if !claimed {
		c.JSON(http.StatusConflict, gin.H{"error": "job already finished"})
		return
	}
	h.userRepo.ClearBusy(job.UserID, job.ID)

	if _, err := h.refunds.Refund(c.Request.Context(), job.PaymentID, 0, req.Reason, domain.SourceJob); err != nil {
		// The job stays FAILED either way; refund retries go through admin.
		h.log.Error("failed-job refund did not apply",
			zap.Uint("job_id", job.ID),
			zap.Uint("payment_id", job.PaymentID),
			zap.Error(err))
	}
	if user, err := h.userRepo.GetByID(job.UserID); err == nil {
		h.notifier.GenerationFailed(user.TelegramID)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *JobHandler) loadJob(c *gin.Context) (*models.GenerationJob, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return nil, false
	}
	job, err := h.jobRepo.GetByID(uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return nil, false
	}
	return job, true
}
