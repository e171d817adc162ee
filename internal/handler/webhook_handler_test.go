package handler

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"lumora/internal/domain"
	"lumora/internal/models"
	"lumora/internal/service"
	"lumora/pkg/payment"
)

// memPayments is a minimal service.PaymentStore backed by a map, enough for
// webhook flows.
type memPayments struct {
	payments map[uint]*models.Payment
	getErr   error
}

func newMemPayments(seed ...*models.Payment) *memPayments {
	m := &memPayments{payments: map[uint]*models.Payment{}}
	for i, p := range seed {
		if p.ID == 0 {
			p.ID = uint(i + 1)
		}
		m.payments[p.ID] = p
	}
	return m
}

func (m *memPayments) GetByID(id uint) (*models.Payment, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if p, ok := m.payments[id]; ok {
		return p, nil
	}
	return nil, domain.ErrPaymentNotFound
}

func (m *memPayments) GetByProviderRef(ref string) (*models.Payment, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, p := range m.payments {
		if p.ProviderRef == ref {
			return p, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (m *memPayments) ListStalePending(string, time.Time, int) ([]models.Payment, error) {
	return nil, nil
}
func (m *memPayments) ListOpenByRail(string, int) ([]models.Payment, error) { return nil, nil }

func (m *memPayments) MarkCompleted(id uint, refundRef string, from ...string) (bool, error) {
	p, ok := m.payments[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if p.Status == s {
			now := time.Now()
			p.Status = domain.PaymentCompleted
			p.CompletedAt = &now
			if refundRef != "" {
				p.RefundRef = refundRef
			}
			return true, nil
		}
	}
	return false, nil
}

func (m *memPayments) MarkExpired(id uint, from ...string) (bool, error) {
	p, ok := m.payments[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if p.Status == s {
			p.Status = domain.PaymentExpired
			return true, nil
		}
	}
	return false, nil
}

func (m *memPayments) AttachChainMatch(uint, string, string, int) (bool, error) { return false, nil }
func (m *memPayments) UpdateConfirmations(uint, int) error                      { return nil }
func (m *memPayments) TxHashExists(string) (bool, error)                        { return false, nil }
func (m *memPayments) ApplyRefund(uint, int64, string, bool) (bool, error)      { return false, nil }

func (m *memPayments) ConsumeEntitlement(id uint) (bool, error) {
	p, ok := m.payments[id]
	if !ok || p.Status != domain.PaymentCompleted || p.EntitlementUsed {
		return false, nil
	}
	p.EntitlementUsed = true
	return true, nil
}

type memEarnings struct{}

func (memEarnings) Create(*models.ReferralEarning) error { return nil }
func (memEarnings) GetByPaymentID(uint) (*models.ReferralEarning, error) {
	return nil, nil
}
func (memEarnings) CancelByPaymentID(uint, string) (bool, error) { return false, nil }

type memReferrals struct{}

func (memReferrals) GetByReferredUserID(uint) (*models.Referral, error) { return nil, nil }

type memJobs struct{}

func (memJobs) Create(*models.GenerationJob) error { return nil }
func (memJobs) ListStuck(time.Time, time.Time, int) ([]models.GenerationJob, error) {
	return nil, nil
}
func (memJobs) MarkFailed(uint, string) (bool, error) { return false, nil }

type memUsers struct{}

func (memUsers) GetByID(id uint) (*models.User, error) {
	return &models.User{ID: id, TelegramID: int64(id) * 100}, nil
}
func (memUsers) SetBusy(uint, uint) (bool, error) { return true, nil }
func (memUsers) ClearBusy(uint, uint) error       { return nil }

func newIngest(t *testing.T, payments *memPayments) *service.WebhookIngest {
	t.Helper()
	logger := zaptest.NewLogger(t)
	d := service.NewDispatcher(payments, memEarnings{}, memReferrals{}, memJobs{}, memUsers{}, nil, nil, logger)
	return service.NewWebhookIngest(payments, d, logger)
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func cardRouter(t *testing.T, payments *memPayments) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	lava := payment.NewLavaProvider("", "shop", "key", "hook-secret")
	h := NewCardWebhookHandler(lava, newIngest(t, payments), zaptest.NewLogger(t))
	r := gin.New()
	r.POST("/api/v1/webhooks/card", h.Handle)
	return r
}

func postCard(r *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/card", bytes.NewReader(body))
	req.Header.Set("X-Api-Sha256-Signature", signature)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCardWebhookBadSignatureMutatesNothing(t *testing.T) {
	payments := newMemPayments(&models.Payment{
		UserID: 1, Rail: domain.RailCard, AmountCents: 999,
		Status: domain.PaymentPending, ProviderRef: "order-1",
	})
	r := cardRouter(t, payments)
	body := []byte(`{"order_id":"order-1","status":"success"}`)

	w := postCard(r, body, signBody("wrong-secret", body))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	p, _ := payments.GetByProviderRef("order-1")
	if p.Status != domain.PaymentPending {
		t.Fatalf("payment status = %q, unsigned payload must change nothing", p.Status)
	}
}

func TestCardWebhookConfirms(t *testing.T) {
	payments := newMemPayments(&models.Payment{
		UserID: 1, Rail: domain.RailCard, AmountCents: 999,
		Status: domain.PaymentPending, ProviderRef: "order-1",
	})
	r := cardRouter(t, payments)
	body := []byte(`{"order_id":"order-1","invoice_id":"inv-1","status":"success"}`)

	w := postCard(r, body, signBody("hook-secret", body))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}
	p, _ := payments.GetByProviderRef("order-1")
	if p.Status != domain.PaymentCompleted {
		t.Fatalf("payment status = %q, want COMPLETED", p.Status)
	}
}

func TestCardWebhookUnknownReference(t *testing.T) {
	r := cardRouter(t, newMemPayments())
	body := []byte(`{"order_id":"ghost","status":"success"}`)

	w := postCard(r, body, signBody("hook-secret", body))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestCardWebhookStoreFailureAsksForRedelivery(t *testing.T) {
	payments := newMemPayments(&models.Payment{
		UserID: 1, Rail: domain.RailCard, AmountCents: 999,
		Status: domain.PaymentPending, ProviderRef: "order-1",
	})
	payments.getErr = fmt.Errorf("db gone away")
	r := cardRouter(t, payments)
	body := []byte(`{"order_id":"order-1","status":"success"}`)

	// 502 keeps the provider redelivering; a 404 here would drop a real
	// confirmation over a database blip.
	w := postCard(r, body, signBody("hook-secret", body))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestCardWebhookRedeliveryAcks(t *testing.T) {
	payments := newMemPayments(&models.Payment{
		UserID: 1, Rail: domain.RailCard, AmountCents: 999,
		Status: domain.PaymentCompleted, ProviderRef: "order-1", RefundRef: "keep",
	})
	r := cardRouter(t, payments)
	body := []byte(`{"order_id":"order-1","status":"success"}`)

	w := postCard(r, body, signBody("hook-secret", body))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 on redelivery", w.Code)
	}
	p, _ := payments.GetByProviderRef("order-1")
	if p.RefundRef != "keep" {
		t.Fatalf("redelivery mutated refund_ref to %q", p.RefundRef)
	}
}

func TestCardWebhookExpiresOnProviderReject(t *testing.T) {
	payments := newMemPayments(&models.Payment{
		UserID: 1, Rail: domain.RailCard, AmountCents: 999,
		Status: domain.PaymentPending, ProviderRef: "order-1",
	})
	r := cardRouter(t, payments)
	body := []byte(`{"order_id":"order-1","status":"expired"}`)

	w := postCard(r, body, signBody("hook-secret", body))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	p, _ := payments.GetByProviderRef("order-1")
	if p.Status != domain.PaymentExpired {
		t.Fatalf("payment status = %q, want EXPIRED", p.Status)
	}
}

func starsRouter(t *testing.T, payments *memPayments) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	stars := payment.NewStarsProvider("bot-token", "tg-secret")
	h := NewStarsWebhookHandler(stars, payments, newIngest(t, payments), zaptest.NewLogger(t))
	r := gin.New()
	r.POST("/api/v1/webhooks/stars", h.Handle)
	return r
}

func postStars(r *gin.Engine, update any, secretToken string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(update)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stars", bytes.NewReader(body))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", secretToken)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func starsUpdate(payload, chargeID string, fromID, amount int64) map[string]any {
	return map[string]any{
		"update_id": 1,
		"message": map[string]any{
			"from": map[string]any{"id": fromID},
			"successful_payment": map[string]any{
				"currency":                   "XTR",
				"total_amount":               amount,
				"invoice_payload":            payload,
				"telegram_payment_charge_id": chargeID,
			},
		},
	}
}

func TestStarsWebhookBadSecretToken(t *testing.T) {
	payments := newMemPayments(&models.Payment{
		UserID: 1, Rail: domain.RailStars, AmountCents: 999, RailAmount: 550,
		Status: domain.PaymentPending, ProviderRef: "order-1",
	})
	r := starsRouter(t, payments)

	w := postStars(r, starsUpdate("order-1", "chg-1", 700, 550), "wrong")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	p, _ := payments.GetByProviderRef("order-1")
	if p.Status != domain.PaymentPending {
		t.Fatalf("payment status = %q, must be untouched", p.Status)
	}
}

func TestStarsWebhookConfirmsAndRecordsRefundRef(t *testing.T) {
	payments := newMemPayments(&models.Payment{
		UserID: 1, Rail: domain.RailStars, AmountCents: 999, RailAmount: 550,
		Status: domain.PaymentPending, ProviderRef: "order-1",
	})
	r := starsRouter(t, payments)

	w := postStars(r, starsUpdate("order-1", "chg-1", 700, 550), "tg-secret")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}
	p, _ := payments.GetByProviderRef("order-1")
	if p.Status != domain.PaymentCompleted {
		t.Fatalf("payment status = %q, want COMPLETED", p.Status)
	}
	if p.RefundRef != "700:chg-1" {
		t.Fatalf("refund_ref = %q, want payer id + charge id", p.RefundRef)
	}
}

func TestStarsWebhookPreCheckoutApprovesOpenPayment(t *testing.T) {
	payments := newMemPayments(&models.Payment{
		UserID: 1, Rail: domain.RailStars, AmountCents: 999, RailAmount: 550,
		Status: domain.PaymentPending, ProviderRef: "order-1",
	})
	r := starsRouter(t, payments)

	update := map[string]any{
		"update_id": 2,
		"pre_checkout_query": map[string]any{
			"id": "q1", "from": map[string]any{"id": int64(700)},
			"currency": "XTR", "total_amount": int64(550), "invoice_payload": "order-1",
		},
	}
	w := postStars(r, update, "tg-secret")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Method string `json:"method"`
		OK     bool   `json:"ok"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Method != "answerPreCheckoutQuery" || !resp.OK {
		t.Fatalf("resp = %+v, want approval", resp)
	}
}

func TestStarsWebhookPreCheckoutDeclinesAmountMismatch(t *testing.T) {
	payments := newMemPayments(&models.Payment{
		UserID: 1, Rail: domain.RailStars, AmountCents: 999, RailAmount: 550,
		Status: domain.PaymentPending, ProviderRef: "order-1",
	})
	r := starsRouter(t, payments)

	update := map[string]any{
		"update_id": 3,
		"pre_checkout_query": map[string]any{
			"id": "q1", "from": map[string]any{"id": int64(700)},
			"currency": "XTR", "total_amount": int64(100), "invoice_payload": "order-1",
		},
	}
	w := postStars(r, update, "tg-secret")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OK {
		t.Fatal("amount mismatch must decline the pre-checkout query")
	}
}
