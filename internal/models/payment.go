package models

import (
	"time"

	"lumora/internal/domain"
)

// Payment is the permanent financial record for one pack purchase. Rows are
// never deleted; status moves only along
// PENDING → {PROCESSING, COMPLETED, EXPIRED} and COMPLETED → REFUNDED, and
// every transition is applied as a conditional single-row update so concurrent
// webhooks and sweeps cannot half-apply or double-apply it.
type Payment struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID uint   `gorm:"not null;index" json:"user_id"`
	Rail   string `gorm:"size:10;not null;index" json:"rail"` // CARD | STARS | TON

	// Fiat bookkeeping in minor units. RailAmount/RailCurrency carry the
	// rail-native figure on non-card rails (Stars count, TON nanotons).
	AmountCents  int64  `gorm:"not null" json:"amount_cents"`
	Currency     string `gorm:"size:3;default:'USD'" json:"currency"`
	RailAmount   int64  `json:"rail_amount"`
	RailCurrency string `gorm:"size:10" json:"rail_currency"`

	Status string `gorm:"size:20;not null;index" json:"status"`
	// ProviderRef is our order reference: echoed back in webhooks, carried in
	// TON transfer memos. ExternalID is the provider-side charge id used for
	// status queries and refunds.
	ProviderRef string `gorm:"size:255;uniqueIndex" json:"provider_ref"`
	ExternalID  string `gorm:"size:255;index" json:"external_id"`
	// RefundRef is whatever the rail needs to reverse the charge, recorded at
	// confirmation time (Stars charge id, TON sender + amount).
	RefundRef string `gorm:"size:255" json:"-"`

	// TON only. TxHash is unique so a chain transaction can satisfy at most one
	// payment; the first conditional update to record it wins.
	TxHash         *string    `gorm:"size:128;uniqueIndex" json:"tx_hash,omitempty"`
	Confirmations  int        `json:"confirmations"`
	RateLockedAt   *time.Time `json:"rate_locked_at,omitempty"`
	RateLockExpiry *time.Time `json:"rate_lock_expiry,omitempty"`

	RefundStatus    string     `gorm:"size:10" json:"refund_status"` // PARTIAL | FULL
	RefundCents     int64      `json:"refund_cents"`                 // cumulative across partial refunds
	RefundReason    string     `gorm:"size:255" json:"refund_reason"`
	RefundedAt      *time.Time `json:"refunded_at"`

	Tier  string `gorm:"size:20;not null" json:"tier"`
	Units int    `gorm:"not null" json:"units"`

	// EntitlementUsed flips one way when a generation job consumes the pack.
	EntitlementUsed   bool       `gorm:"default:false" json:"entitlement_used"`
	EntitlementUsedAt *time.Time `json:"entitlement_used_at"`

	Metadata    string     `gorm:"type:text" json:"metadata"` // JSON
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

func (Payment) TableName() string { return "payments" }

// ShortRef is the reference the payer puts in a TON transfer memo. The chain
// monitor matches on memo-contains-ShortRef.
func (p *Payment) ShortRef() string {
	if len(p.ProviderRef) >= 8 {
		return p.ProviderRef[:8]
	}
	return p.ProviderRef
}

func (p *Payment) IsOpen() bool {
	return p.Status == domain.PaymentPending || p.Status == domain.PaymentProcessing
}

func (p *Payment) RateLockElapsed(now time.Time) bool {
	return p.RateLockExpiry != nil && now.After(*p.RateLockExpiry)
}
