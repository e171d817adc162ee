package service

import "time"

// SweepItem is the per-row outcome reported back to the scheduler.
type SweepItem struct {
	PaymentID uint   `json:"payment_id,omitempty"`
	JobID     uint   `json:"job_id,omitempty"`
	Action    string `json:"action"`
	Detail    string `json:"detail,omitempty"`
}

// SweepResult summarizes one sweep run. Deferred counts rows left for the next
// run because the time budget ran out; partial progress is expected, not a
// failure.
type SweepResult struct {
	Checked   int         `json:"checked"`
	Promoted  int         `json:"promoted"`
	Expired   int         `json:"expired"`
	Processed int         `json:"processed"`
	Deferred  int         `json:"deferred"`
	Items     []SweepItem `json:"items"`
}

func (r *SweepResult) add(item SweepItem) {
	r.Items = append(r.Items, item)
}

// budget tracks the wall-clock allowance of a sweep run. Candidates are
// processed sequentially and the remainder deferred once the budget elapses.
type budget struct {
	start time.Time
	limit time.Duration
}

func startBudget(limit time.Duration) budget {
	return budget{start: time.Now(), limit: limit}
}

func (b budget) exceeded() bool {
	return time.Since(b.start) >= b.limit
}

const (
	actionPromoted = "promoted"
	actionExpired  = "expired"
	actionMatched  = "matched"
	actionSkipped  = "skipped"
	actionDeferred = "deferred"
	actionFailed   = "failed"
	actionRefunded = "refunded"
)
