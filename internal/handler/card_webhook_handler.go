package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lumora/internal/domain"
	"lumora/internal/service"
	"lumora/pkg/payment"
)

// CardWebhookHandler receives Lava invoice callbacks. The body is HMAC-signed;
// nothing is read from an unverified payload.
type CardWebhookHandler struct {
	provider payment.Provider
	ingest   *service.WebhookIngest
	log      *zap.Logger
}

func NewCardWebhookHandler(provider payment.Provider, ingest *service.WebhookIngest, log *zap.Logger) *CardWebhookHandler {
	return &CardWebhookHandler{provider: provider, ingest: ingest, log: log}
}

type lavaCallback struct {
	InvoiceID string `json:"invoice_id"`
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Amount    string `json:"sum"`
}

func (h *CardWebhookHandler) Handle(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if !h.provider.VerifySignature(body, c.GetHeader("X-Api-Sha256-Signature")) {
		h.log.Warn("card webhook signature rejected", zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var payload lavaCallback
	if err := json.Unmarshal(body, &payload); err != nil || payload.OrderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	h.log.Info("card webhook",
		zap.String("order_id", payload.OrderID),
		zap.String("invoice_id", payload.InvoiceID),
		zap.String("status", payload.Status))

	switch payload.Status {
	case "success", "paid":
		err = h.ingest.Confirm(c.Request.Context(), payload.OrderID, "")
	case "cancel", "cancelled", "rejected", "error", "expired":
		err = h.ingest.Reject(c.Request.Context(), payload.OrderID, payload.Status)
	default:
		// Intermediate states carry no transition for us; ack so Lava stops
		// redelivering.
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown order reference"})
			return
		}
		c.JSON(domain.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
