package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// TonProvider implements the blockchain rail against a toncenter-style HTTP
// API. There is no push channel and no refund primitive on-chain; refunds go
// out as wallet payouts through the same API, and confirmation is approximated
// by transaction age (anything older than the caller's threshold is treated as
// final).
type TonProvider struct {
	BaseURL       string
	APIKey        string
	WalletAddress string
	client        *http.Client
}

func NewTonProvider(baseURL, apiKey, walletAddress string) *TonProvider {
	if baseURL == "" {
		baseURL = "https://toncenter.com/api/v2"
	}
	return &TonProvider{
		BaseURL:       baseURL,
		APIKey:        apiKey,
		WalletAddress: walletAddress,
		client:        &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateCharge returns transfer instructions: the deposit address and the memo
// the payer must include. The memo is how the chain monitor matches the
// incoming transaction back to this payment.
func (p *TonProvider) CreateCharge(_ context.Context, req ChargeRequest) (*ChargeResponse, error) {
	if p.WalletAddress == "" {
		return nil, fmt.Errorf("ton: deposit wallet not configured")
	}
	memo := req.OrderRef
	if len(memo) > 8 {
		memo = memo[:8]
	}
	instructions := fmt.Sprintf("send %s TON to %s with comment %s",
		formatNano(req.RailAmount), p.WalletAddress, memo)
	return &ChargeResponse{ExternalID: req.OrderRef, Instructions: instructions}, nil
}

// VerifySignature always fails: the TON rail has no webhook.
func (p *TonProvider) VerifySignature(_ []byte, _ string) bool { return false }

// QueryStatus is not meaningful per-charge on a raw chain; the monitor sweep
// owns reconciliation via ListIncomingTransactions.
func (p *TonProvider) QueryStatus(_ context.Context, _ string) (Status, error) {
	return StatusPending, nil
}

type tonMessage struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Value       string `json:"value"`
	Message     string `json:"message"`
}

type tonTransaction struct {
	Utime         int64      `json:"utime"`
	TransactionID struct {
		Hash string `json:"hash"`
	} `json:"transaction_id"`
	InMsg *tonMessage `json:"in_msg"`
}

type tonTxResponse struct {
	OK     bool             `json:"ok"`
	Result []tonTransaction `json:"result"`
}

// ListIncomingTransactions returns recent inbound transfers on address, newest
// first, with amounts in nanotons and ages derived from block unix time.
func (p *TonProvider) ListIncomingTransactions(ctx context.Context, address string, limit int) ([]ChainTx, error) {
	q := url.Values{}
	q.Set("address", address)
	q.Set("limit", strconv.Itoa(limit))
	if p.APIKey != "" {
		q.Set("api_key", p.APIKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/getTransactions?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ton getTransactions: %d %s", resp.StatusCode, string(respBody))
	}
	var out tonTxResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, fmt.Errorf("ton getTransactions: not ok")
	}
	now := time.Now().Unix()
	txs := make([]ChainTx, 0, len(out.Result))
	for _, t := range out.Result {
		if t.InMsg == nil || t.InMsg.Destination != address {
			continue
		}
		amount, err := strconv.ParseInt(t.InMsg.Value, 10, 64)
		if err != nil || amount <= 0 {
			continue
		}
		age := now - t.Utime
		if age < 0 {
			age = 0
		}
		txs = append(txs, ChainTx{
			Hash:       t.TransactionID.Hash,
			Amount:     amount,
			Sender:     t.InMsg.Source,
			Memo:       t.InMsg.Message,
			AgeSeconds: age,
		})
	}
	return txs, nil
}

type tonRateResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		// USD per TON.
		Price float64 `json:"price"`
	} `json:"result"`
}

// GetRate returns the current USD price of one TON, used to quote and
// rate-lock the nanoton amount at checkout.
func (p *TonProvider) GetRate(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/getTokenPrice?token=ton", nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	var out tonRateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return 0, err
	}
	if !out.OK || out.Result.Price <= 0 {
		return 0, fmt.Errorf("ton rate: bad response %s", string(respBody))
	}
	return out.Result.Price, nil
}

type tonPayoutReq struct {
	Address string `json:"address"`
	Amount  string `json:"amount"` // nanotons
	Comment string `json:"comment"`
}

type tonPayoutResp struct {
	OK     bool `json:"ok"`
	Result struct {
		Hash string `json:"hash"`
	} `json:"result"`
}

// Refund sends nanotons back to the original sender through the hosted wallet
// payout endpoint. req.Ref is "<sender_address>:<nanotons>" recorded when the
// deposit was matched; a partial refund pays out the matching share of the
// deposited nanotons.
func (p *TonProvider) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	sender, nano, ok := splitTonRef(req.Ref)
	if !ok {
		return nil, fmt.Errorf("ton refund: malformed payout ref %q", req.Ref)
	}
	if req.AmountCents != req.OriginalCents {
		if req.OriginalCents <= 0 || req.AmountCents <= 0 || req.AmountCents > req.OriginalCents {
			return nil, fmt.Errorf("ton refund: bad amount %d of %d", req.AmountCents, req.OriginalCents)
		}
		nano = nano * req.AmountCents / req.OriginalCents
	}
	payload := tonPayoutReq{Address: sender, Amount: strconv.FormatInt(nano, 10), Comment: "lumora refund"}
	body, _ := json.Marshal(payload)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/wallet/payout", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		httpReq.Header.Set("X-Api-Key", p.APIKey)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ton payout: %d %s", resp.StatusCode, string(respBody))
	}
	var out tonPayoutResp
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, fmt.Errorf("ton payout: not ok")
	}
	return &RefundResult{ProviderRef: out.Result.Hash, AmountCents: req.AmountCents}, nil
}

func splitTonRef(ref string) (string, int64, bool) {
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == ':' {
			nano, err := strconv.ParseInt(ref[i+1:], 10, 64)
			if err != nil || i == 0 {
				return "", 0, false
			}
			return ref[:i], nano, true
		}
	}
	return "", 0, false
}

func formatNano(nano int64) string {
	whole := nano / 1_000_000_000
	frac := nano % 1_000_000_000
	return fmt.Sprintf("%d.%09d", whole, frac)
}
