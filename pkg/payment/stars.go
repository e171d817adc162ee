package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// StarsProvider implements the in-app currency rail with Telegram Stars.
// Charges are invoice links in the XTR currency; confirmation arrives as a
// successful_payment update on the bot webhook, authenticated by the secret
// token Telegram echoes back on every delivery.
type StarsProvider struct {
	BaseURL       string
	BotToken      string
	WebhookSecret string
	client        *http.Client
}

func NewStarsProvider(botToken, webhookSecret string) *StarsProvider {
	return &StarsProvider{
		BaseURL:       "https://api.telegram.org",
		BotToken:      botToken,
		WebhookSecret: webhookSecret,
		client:        &http.Client{Timeout: 30 * time.Second},
	}
}

type tgResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

func (p *StarsProvider) call(ctx context.Context, method string, payload any, out any) error {
	body, _ := json.Marshal(payload)
	url := fmt.Sprintf("%s/bot%s/%s", p.BaseURL, p.BotToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	var wrapped tgResponse
	if err := json.Unmarshal(respBody, &wrapped); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if !wrapped.OK {
		return fmt.Errorf("%s: %s", method, wrapped.Description)
	}
	if out != nil {
		return json.Unmarshal(wrapped.Result, out)
	}
	return nil
}

// CreateCharge creates a Stars invoice link. RailAmount is the Stars price;
// the invoice payload carries our OrderRef so the webhook can find the payment.
func (p *StarsProvider) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	payload := map[string]any{
		"title":       "Lumora photo pack",
		"description": req.Description,
		"payload":     req.OrderRef,
		"currency":    "XTR",
		"prices":      []map[string]any{{"label": "pack", "amount": req.RailAmount}},
	}
	var link string
	if err := p.call(ctx, "createInvoiceLink", payload, &link); err != nil {
		return nil, fmt.Errorf("stars invoice: %w", err)
	}
	return &ChargeResponse{ExternalID: req.OrderRef, RedirectURL: link}, nil
}

// VerifySignature checks the X-Telegram-Bot-Api-Secret-Token header value.
func (p *StarsProvider) VerifySignature(_ []byte, signature string) bool {
	if p.WebhookSecret == "" {
		return false
	}
	return SecureCompare(p.WebhookSecret, signature)
}

type starTransaction struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Source *struct {
		Type           string `json:"type"`
		InvoicePayload string `json:"invoice_payload"`
	} `json:"source"`
}

type starTransactions struct {
	Transactions []starTransaction `json:"transactions"`
}

// QueryStatus scans recent star transactions for one whose invoice payload is
// our reference. Telegram reports no intermediate states, so an absent
// transaction stays PENDING; the caller's age threshold decides expiry.
func (p *StarsProvider) QueryStatus(ctx context.Context, externalID string) (Status, error) {
	var out starTransactions
	if err := p.call(ctx, "getStarTransactions", map[string]any{"limit": 100}, &out); err != nil {
		return StatusPending, fmt.Errorf("stars status: %w", err)
	}
	for _, tx := range out.Transactions {
		if tx.Source != nil && tx.Source.InvoicePayload == externalID {
			return StatusConfirmed, nil
		}
	}
	return StatusPending, nil
}

// Refund reverses a Stars payment. req.Ref is the telegram charge id recorded
// at confirmation time, prefixed with the payer id ("<user_tg_id>:<charge_id>")
// because refundStarPayment needs both. refundStarPayment returns the full
// Stars amount; a partial request is rejected before any API call.
func (p *StarsProvider) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.AmountCents != req.OriginalCents {
		return nil, fmt.Errorf("stars refund: %w", ErrPartialRefundUnsupported)
	}
	userID, chargeID, ok := splitStarsRef(req.Ref)
	if !ok {
		return nil, fmt.Errorf("stars refund: malformed charge ref %q", req.Ref)
	}
	err := p.call(ctx, "refundStarPayment", map[string]any{
		"user_id":                    userID,
		"telegram_payment_charge_id": chargeID,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("stars refund: %w", err)
	}
	return &RefundResult{ProviderRef: chargeID, AmountCents: req.AmountCents}, nil
}

func splitStarsRef(ref string) (int64, string, bool) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == ':' {
			id, err := strconv.ParseInt(ref[:i], 10, 64)
			if err != nil || i+1 >= len(ref) {
				return 0, "", false
			}
			return id, ref[i+1:], true
		}
	}
	return 0, "", false
}
