package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"lumora/internal/domain"
	"lumora/internal/metrics"
	"lumora/internal/models"
	"lumora/pkg/payment"
)

// ChainMonitor reconciles the TON rail. One transaction listing per run is
// matched against every open TON payment: matched-and-aged transactions
// promote the payment, fresh matches park it in PROCESSING, and payments whose
// rate-lock window elapsed with no match expire. A listing failure aborts the
// run without touching anything; the chain rail is never force-expired on a
// provider error.
type ChainMonitor struct {
	payments    PaymentStore
	lister      payment.ChainLister
	dispatcher  *Dispatcher
	wallet      string
	minTxAge    time.Duration
	budgetLimit time.Duration
	batchSize   int
	log         *zap.Logger
}

func NewChainMonitor(
	payments PaymentStore,
	lister payment.ChainLister,
	dispatcher *Dispatcher,
	wallet string,
	minTxAge time.Duration,
	budgetLimit time.Duration,
	batchSize int,
	log *zap.Logger,
) *ChainMonitor {
	return &ChainMonitor{
		payments:    payments,
		lister:      lister,
		dispatcher:  dispatcher,
		wallet:      wallet,
		minTxAge:    minTxAge,
		budgetLimit: budgetLimit,
		batchSize:   batchSize,
		log:         log,
	}
}

func (m *ChainMonitor) Run(ctx context.Context) (*SweepResult, error) {
	res := &SweepResult{}
	listCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	txs, err := m.lister.ListIncomingTransactions(listCtx, m.wallet, 100)
	cancel()
	if err != nil {
		// Retry on the next scheduled run; no local state may change.
		return nil, domain.WrapError(domain.KindProviderTransient, "chain listing failed", err)
	}
	open, err := m.payments.ListOpenByRail(domain.RailTon, m.batchSize)
	if err != nil {
		return nil, err
	}

	// Transactions consumed in this run; the unique tx_hash index guards
	// against earlier runs and concurrent invocations.
	used := make(map[string]bool)
	b := startBudget(m.budgetLimit)
	now := time.Now()

	for i := range open {
		p := &open[i]
		if b.exceeded() {
			res.Deferred = len(open) - i
			break
		}
		res.Checked++

		switch p.Status {
		case domain.PaymentPending:
			m.reconcilePending(ctx, p, txs, used, now, res)
		case domain.PaymentProcessing:
			m.reconcileProcessing(ctx, p, txs, res)
		}
	}
	return res, nil
}

// reconcilePending looks for an incoming transaction carrying this payment's
// reference. No match inside the rate-lock window leaves the row untouched.
func (m *ChainMonitor) reconcilePending(ctx context.Context, p *models.Payment, txs []payment.ChainTx, used map[string]bool, now time.Time, res *SweepResult) {
	tx := m.findMatch(p, txs, used)
	if tx == nil {
		if p.RateLockElapsed(now) {
			claimed, err := m.payments.MarkExpired(p.ID, domain.PaymentPending)
			if err != nil || !claimed {
				res.add(SweepItem{PaymentID: p.ID, Action: actionSkipped, Detail: "claim lost"})
				return
			}
			metrics.RecordPaymentTransition(domain.RailTon, domain.PaymentExpired, domain.SourceMonitor)
			m.log.Info("payment expired: rate lock elapsed with no match",
				zap.Uint("payment_id", p.ID),
				zap.String("prior_status", domain.PaymentPending),
				zap.String("new_status", domain.PaymentExpired),
				zap.String("source", domain.SourceMonitor))
			res.Expired++
			res.add(SweepItem{PaymentID: p.ID, Action: actionExpired, Detail: "rate lock elapsed"})
		}
		return
	}

	refundRef := fmt.Sprintf("%s:%d", tx.Sender, tx.Amount)
	claimed, err := m.payments.AttachChainMatch(p.ID, tx.Hash, refundRef, m.confirmations(tx))
	if err != nil || !claimed {
		// Another run recorded this match, or the hash is already taken.
		res.add(SweepItem{PaymentID: p.ID, Action: actionSkipped, Detail: "match claim lost"})
		return
	}
	used[tx.Hash] = true
	m.log.Info("chain transaction matched",
		zap.Uint("payment_id", p.ID),
		zap.String("prior_status", domain.PaymentPending),
		zap.String("new_status", domain.PaymentProcessing),
		zap.String("tx_hash", tx.Hash),
		zap.String("source", domain.SourceMonitor))

	if m.aged(tx) {
		m.promote(ctx, p, res)
		return
	}
	res.add(SweepItem{PaymentID: p.ID, Action: actionMatched, Detail: "awaiting confirmations"})
}

// reconcileProcessing re-checks a previously matched payment's transaction
// age. The transaction falling out of the listing window is itself proof of
// age, so it promotes too.
func (m *ChainMonitor) reconcileProcessing(ctx context.Context, p *models.Payment, txs []payment.ChainTx, res *SweepResult) {
	if p.TxHash == nil {
		res.add(SweepItem{PaymentID: p.ID, Action: actionSkipped, Detail: "processing without tx"})
		return
	}
	for i := range txs {
		if txs[i].Hash != *p.TxHash {
			continue
		}
		if m.aged(&txs[i]) {
			m.promote(ctx, p, res)
		} else {
			_ = m.payments.UpdateConfirmations(p.ID, m.confirmations(&txs[i]))
			res.add(SweepItem{PaymentID: p.ID, Action: actionSkipped, Detail: "awaiting confirmations"})
		}
		return
	}
	m.promote(ctx, p, res)
}

func (m *ChainMonitor) promote(ctx context.Context, p *models.Payment, res *SweepResult) {
	claimed, err := m.payments.MarkCompleted(p.ID, "", domain.PaymentPending, domain.PaymentProcessing)
	if err != nil || !claimed {
		res.add(SweepItem{PaymentID: p.ID, Action: actionSkipped, Detail: "claim lost"})
		return
	}
	m.dispatcher.Dispatch(ctx, p, domain.SourceMonitor)
	res.Promoted++
	res.add(SweepItem{PaymentID: p.ID, Action: actionPromoted})
}

// findMatch returns the first transaction whose memo carries the payment's
// short reference and whose amount is within tolerance of the expected amount.
// A transaction already claimed, in this run or durably, matches nothing.
func (m *ChainMonitor) findMatch(p *models.Payment, txs []payment.ChainTx, used map[string]bool) *payment.ChainTx {
	for i := range txs {
		tx := &txs[i]
		if used[tx.Hash] {
			continue
		}
		if !strings.Contains(tx.Memo, p.ShortRef()) {
			continue
		}
		if !amountWithinTolerance(tx.Amount, p.RailAmount) {
			continue
		}
		if exists, err := m.payments.TxHashExists(tx.Hash); err != nil || exists {
			continue
		}
		return tx
	}
	return nil
}

// aged treats any transaction older than the threshold as fully confirmed.
// Inherited approximation in place of a confirmation-depth query.
func (m *ChainMonitor) aged(tx *payment.ChainTx) bool {
	return time.Duration(tx.AgeSeconds)*time.Second >= m.minTxAge
}

func (m *ChainMonitor) confirmations(tx *payment.ChainTx) int {
	// ~5s block time.
	return int(tx.AgeSeconds / 5)
}

// amountWithinTolerance accepts up to 1% drift between the transferred and
// expected amounts, covering rounding and sender-side fees.
func amountWithinTolerance(got, want int64) bool {
	if want <= 0 {
		return false
	}
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) <= float64(want)*domain.TonAmountTolerance
}
