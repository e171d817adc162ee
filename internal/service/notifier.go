package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// TelegramNotifier sends payment lifecycle messages to the payer's chat.
// Notification failures are logged and swallowed; they never block or roll
// back a state transition.
type TelegramNotifier struct {
	botToken string
	baseURL  string
	client   *http.Client
	log      *zap.Logger
}

// NewTelegramNotifier returns nil when no bot token is configured; callers
// treat a nil notifier as disabled.
func NewTelegramNotifier(botToken string, log *zap.Logger) *TelegramNotifier {
	if botToken == "" {
		return nil
	}
	return &TelegramNotifier{
		botToken: botToken,
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

func (n *TelegramNotifier) send(chatID int64, text string) {
	if n == nil || chatID <= 0 {
		return
	}
	payload, _ := json.Marshal(map[string]any{"chat_id": chatID, "text": text})
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("telegram notify failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		n.log.Warn("telegram notify rejected", zap.Int64("chat_id", chatID), zap.Int("status", resp.StatusCode))
	}
}

func (n *TelegramNotifier) PaymentConfirmed(chatID int64, tier string, units int) {
	n.send(chatID, fmt.Sprintf("Payment confirmed! Your %s pack (%d photos) is ready. Start generating any time.", tier, units))
}

func (n *TelegramNotifier) PaymentRefunded(chatID int64, amountCents int64, full bool) {
	kind := "Partial refund"
	if full {
		kind = "Refund"
	}
	n.send(chatID, fmt.Sprintf("%s issued: %d.%02d. It may take a few days to reach you.", kind, amountCents/100, amountCents%100))
}

func (n *TelegramNotifier) GenerationFailed(chatID int64) {
	n.send(chatID, "Your photo generation could not finish. The payment has been refunded.")
}
