package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// LavaProvider implements the card rail via the Lava merchant API: hosted
// checkout pages, HMAC-SHA256 signed webhooks, status query and refunds.
type LavaProvider struct {
	BaseURL       string
	ShopID        string
	APIKey        string
	WebhookSecret string
	client        *http.Client
}

func NewLavaProvider(baseURL, shopID, apiKey, webhookSecret string) *LavaProvider {
	if baseURL == "" {
		baseURL = "https://gate.lava.top"
	}
	return &LavaProvider{
		BaseURL:       baseURL,
		ShopID:        shopID,
		APIKey:        apiKey,
		WebhookSecret: webhookSecret,
		client:        &http.Client{Timeout: 30 * time.Second},
	}
}

type lavaInvoiceReq struct {
	ShopID  string `json:"shop_id"`
	Amount  string `json:"sum"`
	OrderID string `json:"order_id"`
	Comment string `json:"comment"`
}

type lavaInvoiceResp struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

func (p *LavaProvider) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	payload := lavaInvoiceReq{
		ShopID:  p.ShopID,
		Amount:  formatCents(req.AmountCents),
		OrderID: req.OrderRef,
		Comment: req.Description,
	}
	var out lavaInvoiceResp
	if err := p.post(ctx, "/business/invoice/create", payload, &out); err != nil {
		return nil, fmt.Errorf("lava invoice: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("lava invoice: empty invoice id")
	}
	return &ChargeResponse{ExternalID: out.ID, RedirectURL: out.URL}, nil
}

// VerifySignature checks the X-Api-Sha256-Signature header: hex HMAC-SHA256 of
// the raw body under the webhook secret. Compared constant-time with padding.
func (p *LavaProvider) VerifySignature(payload []byte, signature string) bool {
	if p.WebhookSecret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(p.WebhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return SecureCompare(expected, signature)
}

type lavaStatusResp struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (p *LavaProvider) QueryStatus(ctx context.Context, externalID string) (Status, error) {
	var out lavaStatusResp
	if err := p.post(ctx, "/business/invoice/status", map[string]string{
		"shop_id":    p.ShopID,
		"invoice_id": externalID,
	}, &out); err != nil {
		return StatusPending, fmt.Errorf("lava status: %w", err)
	}
	switch out.Status {
	case "success", "paid", "authorized":
		return StatusConfirmed, nil
	case "cancel", "cancelled", "rejected", "error":
		return StatusRejected, nil
	case "expired":
		return StatusExpired, nil
	default:
		return StatusPending, nil
	}
}

type lavaRefundResp struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

func (p *LavaProvider) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	var out lavaRefundResp
	if err := p.post(ctx, "/business/invoice/refund", map[string]string{
		"shop_id":    p.ShopID,
		"invoice_id": req.Ref,
		"sum":        formatCents(req.AmountCents),
	}, &out); err != nil {
		return nil, fmt.Errorf("lava refund: %w", err)
	}
	if out.Status != "success" && out.Status != "pending" {
		return nil, fmt.Errorf("lava refund: status %q", out.Status)
	}
	return &RefundResult{ProviderRef: out.RefundID, AmountCents: req.AmountCents}, nil
}

func (p *LavaProvider) post(ctx context.Context, path string, payload any, out any) error {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%d %s", resp.StatusCode, string(respBody))
	}
	return json.Unmarshal(respBody, out)
}

// formatCents renders minor units as "12.34" for APIs that take decimal sums.
func formatCents(cents int64) string {
	return strconv.FormatInt(cents/100, 10) + "." + fmt.Sprintf("%02d", cents%100)
}
