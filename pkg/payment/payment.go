package payment

import (
	"context"
	"crypto/hmac"
	"errors"
)

// Status is the provider's authoritative view of a charge.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusRejected  Status = "REJECTED"
	StatusExpired   Status = "EXPIRED"
)

// Terminal reports whether the provider will never confirm this charge.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusExpired
}

type ChargeRequest struct {
	UserID      uint
	AmountCents int64
	Currency    string
	// OrderRef is our reference, echoed back by the provider.
	OrderRef    string
	Description string
	// RailAmount is the rail-native amount on non-card rails
	// (Stars count, TON nanotons).
	RailAmount int64
}

type ChargeResponse struct {
	ExternalID  string
	RedirectURL string
	// Instructions replaces RedirectURL on rails with no hosted checkout
	// (TON: destination address + memo).
	Instructions string
}

// RefundRequest asks a rail to reverse AmountCents of a charge that was
// originally OriginalCents. Ref is the rail-specific reverse reference
// captured at confirmation; OriginalCents lets adapters that move rail-native
// units scale the payout to the requested share.
type RefundRequest struct {
	Ref           string
	AmountCents   int64
	OriginalCents int64
}

type RefundResult struct {
	ProviderRef string
	AmountCents int64
}

// ErrRefundUnsupported: the rail has no refund primitive.
var ErrRefundUnsupported = errors.New("refund not supported on this rail")

// ErrPartialRefundUnsupported: the rail reverses charges only in full.
var ErrPartialRefundUnsupported = errors.New("partial refund not supported on this rail")

// Provider is the per-rail adapter contract. QueryStatus returns transient
// failures as errors; explicit declines come back as a terminal Status.
type Provider interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error)
	VerifySignature(payload []byte, signature string) bool
	QueryStatus(ctx context.Context, externalID string) (Status, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// ChainTx is one incoming transfer on the deposit wallet.
type ChainTx struct {
	Hash       string
	Amount     int64 // nanotons
	Sender     string
	Memo       string
	AgeSeconds int64
}

// ChainLister is the pull-only side of the blockchain rail; there is no push
// channel, the chain monitor sweep polls this.
type ChainLister interface {
	ListIncomingTransactions(ctx context.Context, address string, limit int) ([]ChainTx, error)
}

// SecureCompare does a constant-time comparison with both buffers padded to
// equal length first, so timing reveals neither content nor token length.
func SecureCompare(a, b string) bool {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	ab := make([]byte, n)
	bb := make([]byte, n)
	copy(ab, a)
	copy(bb, b)
	return hmac.Equal(ab, bb) && len(a) == len(b)
}
