package domain

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Payment rails.
const (
	RailCard  = "CARD"
	RailStars = "STARS"
	RailTon   = "TON"
)

// Payment statuses. PROCESSING is TON-only: a transaction matched the payment
// but has not aged past the confirmation threshold yet.
const (
	PaymentPending    = "PENDING"
	PaymentProcessing = "PROCESSING"
	PaymentCompleted  = "COMPLETED"
	PaymentExpired    = "EXPIRED"
	PaymentRefunded   = "REFUNDED"
)

const (
	RefundNone    = ""
	RefundPartial = "PARTIAL"
	RefundFull    = "FULL"
)

// ReferralEarning statuses. CONFIRMED means paid out; a confirmed earning is
// immutable; refunds never claw it back.
const (
	EarningPending   = "PENDING"
	EarningCredited  = "CREDITED"
	EarningConfirmed = "CONFIRMED"
	EarningCancelled = "CANCELLED"
)

const (
	EarningCancelReasonRefund = "refund"
)

// Generation job statuses.
const (
	JobQueued    = "QUEUED"
	JobRunning   = "RUNNING"
	JobCompleted = "COMPLETED"
	JobFailed    = "FAILED"
)

// Purchase tiers and their unit counts (generated photos per pack).
const (
	TierStarter = "STARTER"
	TierPlus    = "PLUS"
	TierPro     = "PRO"
)

var TierUnits = map[string]int{
	TierStarter: 20,
	TierPlus:    60,
	TierPro:     150,
}

// USD prices in cents, and the Stars price for the in-app rail (Stars have
// their own price point per platform policy).
var TierPriceCents = map[string]int64{
	TierStarter: 999,
	TierPlus:    2499,
	TierPro:     4999,
}

var TierStars = map[string]int64{
	TierStarter: 550,
	TierPlus:    1400,
	TierPro:     2800,
}

// ReferralCommissionRate: share of the payment credited to the referrer when a
// referred user's payment completes.
const ReferralCommissionRate = 0.10

// TonAmountTolerance: an incoming transaction matches a pending TON payment when
// its amount is within this fraction of the expected amount (rounding/fee drift).
const TonAmountTolerance = 0.01

// Transition sources, logged on every mutating path.
const (
	SourceWebhook = "webhook"
	SourceSweep   = "sweep"
	SourceMonitor = "chain_monitor"
	SourceAdmin   = "admin"
	SourceJob     = "job_sweep"
)
