package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lumora/internal/domain"
	"lumora/internal/service"
	"lumora/pkg/payment"
)

// StarsWebhookHandler receives Telegram Bot API updates for the Stars rail.
// Telegram authenticates by echoing our secret token in a header; there is no
// body signature.
type StarsWebhookHandler struct {
	provider *payment.StarsProvider
	payments service.PaymentStore
	ingest   *service.WebhookIngest
	log      *zap.Logger
}

func NewStarsWebhookHandler(provider *payment.StarsProvider, payments service.PaymentStore, ingest *service.WebhookIngest, log *zap.Logger) *StarsWebhookHandler {
	return &StarsWebhookHandler{provider: provider, payments: payments, ingest: ingest, log: log}
}

type telegramUpdate struct {
	UpdateID         int64 `json:"update_id"`
	PreCheckoutQuery *struct {
		ID             string `json:"id"`
		From           tgUser `json:"from"`
		Currency       string `json:"currency"`
		TotalAmount    int64  `json:"total_amount"`
		InvoicePayload string `json:"invoice_payload"`
	} `json:"pre_checkout_query"`
	Message *struct {
		From              tgUser `json:"from"`
		SuccessfulPayment *struct {
			Currency                string `json:"currency"`
			TotalAmount             int64  `json:"total_amount"`
			InvoicePayload          string `json:"invoice_payload"`
			TelegramPaymentChargeID string `json:"telegram_payment_charge_id"`
		} `json:"successful_payment"`
	} `json:"message"`
}

type tgUser struct {
	ID int64 `json:"id"`
}

func (h *StarsWebhookHandler) Handle(c *gin.Context) {
	if !h.provider.VerifySignature(nil, c.GetHeader("X-Telegram-Bot-Api-Secret-Token")) {
		h.log.Warn("stars webhook secret token rejected", zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret token"})
		return
	}

	var update telegramUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid update"})
		return
	}

	switch {
	case update.PreCheckoutQuery != nil:
		h.answerPreCheckout(c, update)
	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		h.confirmPayment(c, update)
	default:
		// Non-payment updates are not ours to handle; ack so Telegram moves on.
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// answerPreCheckout approves or declines the pre-checkout query by replying
// with the Bot API method inline, which Telegram executes on receipt. The
// charge is declined when the referenced payment is gone or already closed.
func (h *StarsWebhookHandler) answerPreCheckout(c *gin.Context, update telegramUpdate) {
	q := update.PreCheckoutQuery
	resp := gin.H{
		"method":                "answerPreCheckoutQuery",
		"pre_checkout_query_id": q.ID,
		"ok":                    true,
	}
	p, err := h.payments.GetByProviderRef(q.InvoicePayload)
	if err != nil || !p.IsOpen() || p.RailAmount != q.TotalAmount {
		h.log.Warn("pre-checkout declined",
			zap.String("invoice_payload", q.InvoicePayload),
			zap.Int64("total_amount", q.TotalAmount))
		resp["ok"] = false
		resp["error_message"] = "This purchase is no longer available."
	}
	c.JSON(http.StatusOK, resp)
}

func (h *StarsWebhookHandler) confirmPayment(c *gin.Context, update telegramUpdate) {
	sp := update.Message.SuccessfulPayment
	h.log.Info("stars webhook",
		zap.String("invoice_payload", sp.InvoicePayload),
		zap.Int64("total_amount", sp.TotalAmount),
		zap.String("charge_id", sp.TelegramPaymentChargeID))

	// The charge id alone is not enough to reverse a Stars payment; refunds
	// need the payer's telegram id as well.
	refundRef := fmt.Sprintf("%d:%s", update.Message.From.ID, sp.TelegramPaymentChargeID)
	err := h.ingest.Confirm(c.Request.Context(), sp.InvoicePayload, refundRef)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown invoice payload"})
			return
		}
		c.JSON(domain.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
