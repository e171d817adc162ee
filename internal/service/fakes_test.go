package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lumora/internal/domain"
	"lumora/internal/models"
	"lumora/pkg/payment"
)

// In-memory stores mirroring the repositories' conditional-update semantics,
// so transition races and idempotency can be exercised without a database.

type fakePaymentStore struct {
	mu       sync.Mutex
	payments map[uint]*models.Payment
	nextID   uint
	// getErr, when set, fails every lookup the way a broken database would.
	getErr error
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{payments: map[uint]*models.Payment{}, nextID: 1}
}

func (f *fakePaymentStore) put(p *models.Payment) *models.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == 0 {
		p.ID = f.nextID
		f.nextID++
	}
	cp := *p
	f.payments[p.ID] = &cp
	return p
}

func (f *fakePaymentStore) get(id uint) models.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.payments[id]
}

func (f *fakePaymentStore) GetByID(id uint) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePaymentStore) GetByProviderRef(ref string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, p := range f.payments {
		if p.ProviderRef == ref {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (f *fakePaymentStore) ListStalePending(rail string, cutoff time.Time, limit int) ([]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Payment
	for _, p := range f.payments {
		if p.Rail == rail && p.Status == domain.PaymentPending && p.CreatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePaymentStore) ListOpenByRail(rail string, limit int) ([]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Payment
	for _, p := range f.payments {
		if p.Rail == rail && p.IsOpen() && len(out) < limit {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePaymentStore) MarkCompleted(id uint, refundRef string, from ...string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok || !statusIn(p.Status, from) {
		return false, nil
	}
	now := time.Now()
	p.Status = domain.PaymentCompleted
	p.CompletedAt = &now
	if refundRef != "" {
		p.RefundRef = refundRef
	}
	return true, nil
}

func (f *fakePaymentStore) MarkExpired(id uint, from ...string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok || !statusIn(p.Status, from) {
		return false, nil
	}
	p.Status = domain.PaymentExpired
	return true, nil
}

func (f *fakePaymentStore) AttachChainMatch(id uint, txHash, refundRef string, confirmations int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, other := range f.payments {
		if other.TxHash != nil && *other.TxHash == txHash {
			return false, fmt.Errorf("duplicate tx_hash")
		}
	}
	p, ok := f.payments[id]
	if !ok || p.Status != domain.PaymentPending || p.TxHash != nil {
		return false, nil
	}
	p.Status = domain.PaymentProcessing
	p.TxHash = &txHash
	p.RefundRef = refundRef
	p.Confirmations = confirmations
	return true, nil
}

func (f *fakePaymentStore) UpdateConfirmations(id uint, confirmations int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.payments[id]; ok {
		p.Confirmations = confirmations
	}
	return nil
}

func (f *fakePaymentStore) TxHashExists(txHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.TxHash != nil && *p.TxHash == txHash {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePaymentStore) ApplyRefund(id uint, amountCents int64, reason string, full bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok || p.Status != domain.PaymentCompleted || p.RefundCents+amountCents > p.AmountCents {
		return false, nil
	}
	now := time.Now()
	p.RefundCents += amountCents
	p.RefundReason = reason
	p.RefundedAt = &now
	if full {
		p.Status = domain.PaymentRefunded
		p.RefundStatus = domain.RefundFull
	} else {
		p.RefundStatus = domain.RefundPartial
	}
	return true, nil
}

func (f *fakePaymentStore) ConsumeEntitlement(id uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok || p.Status != domain.PaymentCompleted || p.EntitlementUsed {
		return false, nil
	}
	now := time.Now()
	p.EntitlementUsed = true
	p.EntitlementUsedAt = &now
	return true, nil
}

func statusIn(status string, from []string) bool {
	for _, s := range from {
		if s == status {
			return true
		}
	}
	return false
}

type fakeEarningStore struct {
	mu       sync.Mutex
	earnings map[uint]*models.ReferralEarning // keyed by payment id
}

func newFakeEarningStore() *fakeEarningStore {
	return &fakeEarningStore{earnings: map[uint]*models.ReferralEarning{}}
}

func (f *fakeEarningStore) Create(e *models.ReferralEarning) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.PaymentID == nil {
		return fmt.Errorf("payment id required")
	}
	if _, exists := f.earnings[*e.PaymentID]; exists {
		return fmt.Errorf("duplicate payment_id")
	}
	cp := *e
	f.earnings[*e.PaymentID] = &cp
	return nil
}

func (f *fakeEarningStore) GetByPaymentID(paymentID uint) (*models.ReferralEarning, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.earnings[paymentID]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (f *fakeEarningStore) CancelByPaymentID(paymentID uint, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.earnings[paymentID]
	if !ok || (e.Status != domain.EarningPending && e.Status != domain.EarningCredited) {
		return false, nil
	}
	now := time.Now()
	e.Status = domain.EarningCancelled
	e.CancelReason = reason
	e.CancelledAt = &now
	return true, nil
}

type fakeReferralStore struct {
	byReferred map[uint]*models.Referral
}

func (f *fakeReferralStore) GetByReferredUserID(userID uint) (*models.Referral, error) {
	if f == nil || f.byReferred == nil {
		return nil, nil
	}
	return f.byReferred[userID], nil
}

type fakeJobStore struct {
	mu     sync.Mutex
	jobs   map[uint]*models.GenerationJob
	nextID uint
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[uint]*models.GenerationJob{}, nextID: 1}
}

func (f *fakeJobStore) Create(j *models.GenerationJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j.ID = f.nextID
	f.nextID++
	cp := *j
	f.jobs[j.ID] = &cp
	return nil
}

func (f *fakeJobStore) ListStuck(runningCutoff, queuedCutoff time.Time, limit int) ([]models.GenerationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.GenerationJob
	for _, j := range f.jobs {
		if len(out) >= limit {
			break
		}
		switch j.Status {
		case domain.JobRunning:
			if j.LastProgressAt != nil && j.LastProgressAt.Before(runningCutoff) {
				out = append(out, *j)
			}
		case domain.JobQueued:
			if j.StartedAt == nil && j.CreatedAt.Before(queuedCutoff) {
				out = append(out, *j)
			}
		}
	}
	return out, nil
}

func (f *fakeJobStore) MarkFailed(id uint, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || (j.Status != domain.JobQueued && j.Status != domain.JobRunning) {
		return false, nil
	}
	j.Status = domain.JobFailed
	j.FailReason = reason
	return true, nil
}

type fakeUserStore struct {
	mu    sync.Mutex
	users map[uint]*models.User
}

func newFakeUserStore(users ...*models.User) *fakeUserStore {
	f := &fakeUserStore{users: map[uint]*models.User{}}
	for _, u := range users {
		cp := *u
		f.users[u.ID] = &cp
	}
	return f
}

func (f *fakeUserStore) GetByID(id uint) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserStore) SetBusy(userID, jobID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok || u.Busy {
		return false, nil
	}
	u.Busy = true
	u.ActiveJobID = &jobID
	return true, nil
}

func (f *fakeUserStore) ClearBusy(userID, jobID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil
	}
	if u.ActiveJobID != nil && *u.ActiveJobID == jobID {
		u.Busy = false
		u.ActiveJobID = nil
	}
	return nil
}

// fakeProvider scripts provider behavior per test.
type fakeProvider struct {
	chargeFn func(req payment.ChargeRequest) (*payment.ChargeResponse, error)
	statusFn func(externalID string) (payment.Status, error)
	refundFn func(req payment.RefundRequest) (*payment.RefundResult, error)

	refundCalls int
}

func (f *fakeProvider) CreateCharge(_ context.Context, req payment.ChargeRequest) (*payment.ChargeResponse, error) {
	if f.chargeFn != nil {
		return f.chargeFn(req)
	}
	return &payment.ChargeResponse{ExternalID: "ext_" + req.OrderRef}, nil
}

func (f *fakeProvider) VerifySignature(_ []byte, _ string) bool { return true }

func (f *fakeProvider) QueryStatus(_ context.Context, externalID string) (payment.Status, error) {
	if f.statusFn != nil {
		return f.statusFn(externalID)
	}
	return payment.StatusPending, nil
}

func (f *fakeProvider) Refund(_ context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	f.refundCalls++
	if f.refundFn != nil {
		return f.refundFn(req)
	}
	return &payment.RefundResult{ProviderRef: "refund_" + req.Ref, AmountCents: req.AmountCents}, nil
}

type fakeChainLister struct {
	txs []payment.ChainTx
	err error
}

func (f *fakeChainLister) ListIncomingTransactions(_ context.Context, _ string, _ int) ([]payment.ChainTx, error) {
	return f.txs, f.err
}
