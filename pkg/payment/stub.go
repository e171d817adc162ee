package payment

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StubProvider is a no-op provider for development; every charge confirms.
type StubProvider struct{}

func (s *StubProvider) CreateCharge(_ context.Context, req ChargeRequest) (*ChargeResponse, error) {
	ref := req.OrderRef
	if ref == "" {
		ref = fmt.Sprintf("stub_%d_%d", time.Now().UnixNano(), req.UserID)
	}
	return &ChargeResponse{ExternalID: "stub_" + ref, RedirectURL: "https://example.test/pay/" + ref}, nil
}

func (s *StubProvider) VerifySignature(_ []byte, signature string) bool {
	return signature == "stub"
}

func (s *StubProvider) QueryStatus(_ context.Context, externalID string) (Status, error) {
	if strings.HasPrefix(externalID, "stub_") {
		return StatusConfirmed, nil
	}
	return StatusRejected, nil
}

func (s *StubProvider) Refund(_ context.Context, req RefundRequest) (*RefundResult, error) {
	return &RefundResult{ProviderRef: "refund_" + req.Ref, AmountCents: req.AmountCents}, nil
}
