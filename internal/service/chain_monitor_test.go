package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"lumora/internal/domain"
	"lumora/internal/models"
	"lumora/pkg/payment"
)

func tonPayment(store *fakePaymentStore, ref string, nanotons int64, lockExpiry time.Time) *models.Payment {
	locked := time.Now().Add(-time.Minute)
	return store.put(&models.Payment{
		UserID: 7, Rail: domain.RailTon, AmountCents: 999,
		RailAmount: nanotons, RailCurrency: "TON",
		Status: domain.PaymentPending, ProviderRef: ref,
		RateLockedAt: &locked, RateLockExpiry: &lockExpiry,
	})
}

func newChainMonitor(t *testing.T, payments *fakePaymentStore, lister payment.ChainLister) *ChainMonitor {
	t.Helper()
	users := newFakeUserStore(&models.User{ID: 7, TelegramID: 700})
	d := NewDispatcher(payments, newFakeEarningStore(), &fakeReferralStore{}, newFakeJobStore(), users, nil, nil, zaptest.NewLogger(t))
	return NewChainMonitor(payments, lister, d, "wallet-addr", time.Minute, time.Minute, 50, zaptest.NewLogger(t))
}

func TestChainMonitorMatchesAndPromotesAgedTx(t *testing.T) {
	payments := newFakePaymentStore()
	p := tonPayment(payments, "aaaabbbb-rest-of-uuid", 5_000_000_000, time.Now().Add(30*time.Minute))
	lister := &fakeChainLister{txs: []payment.ChainTx{
		{Hash: "tx1", Amount: 5_000_000_000, Sender: "EQsender", Memo: "aaaabbbb", AgeSeconds: 120},
	}}
	m := newChainMonitor(t, payments, lister)

	res, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Promoted != 1 {
		t.Fatalf("promoted = %d, want 1", res.Promoted)
	}
	got := payments.get(p.ID)
	if got.Status != domain.PaymentCompleted {
		t.Fatalf("status = %q, want COMPLETED", got.Status)
	}
	if got.TxHash == nil || *got.TxHash != "tx1" {
		t.Fatalf("tx_hash = %v, want tx1", got.TxHash)
	}
	if got.RefundRef != "EQsender:5000000000" {
		t.Fatalf("refund_ref = %q", got.RefundRef)
	}
}

func TestChainMonitorParksFreshTxInProcessing(t *testing.T) {
	payments := newFakePaymentStore()
	p := tonPayment(payments, "aaaabbbb-rest-of-uuid", 5_000_000_000, time.Now().Add(30*time.Minute))
	lister := &fakeChainLister{txs: []payment.ChainTx{
		{Hash: "tx1", Amount: 5_000_000_000, Sender: "EQsender", Memo: "aaaabbbb", AgeSeconds: 10},
	}}
	m := newChainMonitor(t, payments, lister)

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := payments.get(p.ID)
	if got.Status != domain.PaymentProcessing {
		t.Fatalf("status = %q, want PROCESSING while confirmations accrue", got.Status)
	}

	// Next run, transaction now old enough.
	lister.txs[0].AgeSeconds = 120
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := payments.get(p.ID); got.Status != domain.PaymentCompleted {
		t.Fatalf("status = %q, want COMPLETED after aging", got.Status)
	}
}

func TestChainMonitorOneTxSatisfiesOnePayment(t *testing.T) {
	// Two payments for the same amount; two distinct transactions must land on
	// distinct payments, never the same transaction twice.
	payments := newFakePaymentStore()
	p1 := tonPayment(payments, "aaaa1111-x", 5_000_000_000, time.Now().Add(30*time.Minute))
	p2 := tonPayment(payments, "bbbb2222-x", 5_000_000_000, time.Now().Add(30*time.Minute))
	lister := &fakeChainLister{txs: []payment.ChainTx{
		{Hash: "tx1", Amount: 5_000_000_000, Sender: "EQa", Memo: "pay aaaa1111", AgeSeconds: 300},
		{Hash: "tx2", Amount: 5_000_000_000, Sender: "EQb", Memo: "pay bbbb2222", AgeSeconds: 300},
	}}
	m := newChainMonitor(t, payments, lister)

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	g1, g2 := payments.get(p1.ID), payments.get(p2.ID)
	if g1.Status != domain.PaymentCompleted || g2.Status != domain.PaymentCompleted {
		t.Fatalf("statuses = %q/%q, want both COMPLETED", g1.Status, g2.Status)
	}
	if g1.TxHash == nil || g2.TxHash == nil || *g1.TxHash == *g2.TxHash {
		t.Fatalf("tx hashes must differ, got %v and %v", g1.TxHash, g2.TxHash)
	}
}

func TestChainMonitorExpiresAfterRateLock(t *testing.T) {
	payments := newFakePaymentStore()
	p := tonPayment(payments, "aaaabbbb-x", 5_000_000_000, time.Now().Add(-time.Minute))
	m := newChainMonitor(t, payments, &fakeChainLister{})

	res, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Expired != 1 {
		t.Fatalf("expired = %d, want 1", res.Expired)
	}
	if got := payments.get(p.ID); got.Status != domain.PaymentExpired {
		t.Fatalf("status = %q, want EXPIRED", got.Status)
	}
}

func TestChainMonitorKeepsWaitingInsideRateLock(t *testing.T) {
	payments := newFakePaymentStore()
	p := tonPayment(payments, "aaaabbbb-x", 5_000_000_000, time.Now().Add(30*time.Minute))
	m := newChainMonitor(t, payments, &fakeChainLister{})

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := payments.get(p.ID); got.Status != domain.PaymentPending {
		t.Fatalf("status = %q, want PENDING untouched", got.Status)
	}
}

func TestChainMonitorListingErrorTouchesNothing(t *testing.T) {
	payments := newFakePaymentStore()
	p := tonPayment(payments, "aaaabbbb-x", 5_000_000_000, time.Now().Add(-time.Minute))
	m := newChainMonitor(t, payments, &fakeChainLister{err: fmt.Errorf("toncenter 502")})

	_, err := m.Run(context.Background())
	if err == nil {
		t.Fatal("listing failure must abort the run with an error")
	}
	if domain.KindOf(err) != domain.KindProviderTransient {
		t.Fatalf("err kind = %v, want provider transient", domain.KindOf(err))
	}
	// Even an elapsed rate lock must not expire on a provider error.
	if got := payments.get(p.ID); got.Status != domain.PaymentPending {
		t.Fatalf("status = %q, want PENDING untouched", got.Status)
	}
}

func TestChainMonitorRejectsAmountOutsideTolerance(t *testing.T) {
	payments := newFakePaymentStore()
	p := tonPayment(payments, "aaaabbbb-x", 5_000_000_000, time.Now().Add(30*time.Minute))
	lister := &fakeChainLister{txs: []payment.ChainTx{
		// 3% short of the quoted amount.
		{Hash: "tx1", Amount: 4_850_000_000, Sender: "EQa", Memo: "aaaabbbb", AgeSeconds: 300},
	}}
	m := newChainMonitor(t, payments, lister)

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := payments.get(p.ID); got.Status != domain.PaymentPending {
		t.Fatalf("status = %q, want PENDING (amount off by more than tolerance)", got.Status)
	}
}
