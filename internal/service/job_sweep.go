package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"lumora/internal/domain"
)

// JobSweep fails generation jobs the pipeline abandoned, releases the payer
// for another attempt, and refunds the backing payment. The MarkFailed claim
// is the exclusivity point: a job the pipeline completed in the meantime is
// left alone.
type JobSweep struct {
	jobs          JobStore
	users         UserStore
	refunds       *RefundService
	notifier      *TelegramNotifier
	runningMaxAge time.Duration
	queuedMaxAge  time.Duration
	budgetLimit   time.Duration
	batchSize     int
	log           *zap.Logger
}

func NewJobSweep(
	jobs JobStore,
	users UserStore,
	refunds *RefundService,
	notifier *TelegramNotifier,
	runningMaxAge, queuedMaxAge time.Duration,
	budgetLimit time.Duration,
	batchSize int,
	log *zap.Logger,
) *JobSweep {
	return &JobSweep{
		jobs:          jobs,
		users:         users,
		refunds:       refunds,
		notifier:      notifier,
		runningMaxAge: runningMaxAge,
		queuedMaxAge:  queuedMaxAge,
		budgetLimit:   budgetLimit,
		batchSize:     batchSize,
		log:           log,
	}
}

func (s *JobSweep) Run(ctx context.Context) (*SweepResult, error) {
	res := &SweepResult{}
	now := time.Now()
	stuck, err := s.jobs.ListStuck(now.Add(-s.runningMaxAge), now.Add(-s.queuedMaxAge), s.batchSize)
	if err != nil {
		return nil, err
	}
	b := startBudget(s.budgetLimit)
	for i := range stuck {
		job := &stuck[i]
		if b.exceeded() {
			res.Deferred = len(stuck) - i
			break
		}
		res.Checked++

		claimed, err := s.jobs.MarkFailed(job.ID, "generation stalled")
		if err != nil || !claimed {
			res.add(SweepItem{JobID: job.ID, Action: actionSkipped, Detail: "claim lost"})
			continue
		}
		s.log.Warn("generation job failed by sweep",
			zap.Uint("job_id", job.ID),
			zap.Uint("payment_id", job.PaymentID),
			zap.String("prior_status", job.Status),
			zap.String("new_status", domain.JobFailed),
			zap.String("source", domain.SourceJob))
		res.Processed++
		res.add(SweepItem{JobID: job.ID, PaymentID: job.PaymentID, Action: actionFailed})

		// Free the payer for another attempt before the money moves.
		if err := s.users.ClearBusy(job.UserID, job.ID); err != nil {
			s.log.Error("busy reset failed", zap.Uint("user_id", job.UserID), zap.Error(err))
		}

		if _, err := s.refunds.Refund(ctx, job.PaymentID, 0, "generation stalled", domain.SourceJob); err != nil {
			// Already refunded or provider down. The next run will not retry
			// (the job is FAILED), so surface it for the operator.
			s.log.Error("stuck job refund failed",
				zap.Uint("job_id", job.ID),
				zap.Uint("payment_id", job.PaymentID),
				zap.Error(err))
			res.add(SweepItem{JobID: job.ID, PaymentID: job.PaymentID, Action: actionSkipped, Detail: "refund failed"})
			continue
		}
		res.add(SweepItem{JobID: job.ID, PaymentID: job.PaymentID, Action: actionRefunded})

		if user, err := s.users.GetByID(job.UserID); err == nil {
			s.notifier.GenerationFailed(user.TelegramID)
		}
	}
	return res, nil
}
