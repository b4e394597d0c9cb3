package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/kalamart/marketplace-backend/internal/settlement"
	"github.com/kalamart/marketplace-backend/pkg/enums"
	pkgerrors "github.com/kalamart/marketplace-backend/pkg/errors"
)

type stubRefunder struct {
	fn func(ctx context.Context, orderID uuid.UUID, amountCents int, reason string) (*settlement.RefundResult, error)
}

func (s stubRefunder) Refund(ctx context.Context, orderID uuid.UUID, amountCents int, reason string) (*settlement.RefundResult, error) {
	if s.fn != nil {
		return s.fn(ctx, orderID, amountCents, reason)
	}
	return nil, fmt.Errorf("not implemented")
}

type stubAdvancer struct {
	fn func(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus) error
}

func (s stubAdvancer) AdvanceFulfillment(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus) error {
	if s.fn != nil {
		return s.fn(ctx, orderID, to)
	}
	return fmt.Errorf("not implemented")
}

func TestAdminOrderRefund(t *testing.T) {
	orderID := uuid.New()
	svc := stubRefunder{
		fn: func(ctx context.Context, id uuid.UUID, amountCents int, reason string) (*settlement.RefundResult, error) {
			if id != orderID || amountCents != 500 || reason != "goodwill" {
				t.Fatalf("unexpected args %s %d %q", id, amountCents, reason)
			}
			return &settlement.RefundResult{RefundID: "rfnd_1", AmountCents: 500}, nil
		},
	}

	body := []byte(`{"amount_cents":500,"reason":"goodwill"}`)
	req := withOrderID(httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)), orderID)
	resp := httptest.NewRecorder()
	AdminOrderRefund(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data refundResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.RefundID != "rfnd_1" || envelope.Data.RefundAmountCents != 500 {
		t.Fatalf("unexpected payload %+v", envelope.Data)
	}
}

func TestAdminOrderRefundStateConflict(t *testing.T) {
	svc := stubRefunder{
		fn: func(ctx context.Context, id uuid.UUID, amountCents int, reason string) (*settlement.RefundResult, error) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not refundable")
		},
	}

	req := withOrderID(httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`{}`))), uuid.New())
	resp := httptest.NewRecorder()
	AdminOrderRefund(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestAdminOrderAdvance(t *testing.T) {
	orderID := uuid.New()
	svc := stubAdvancer{
		fn: func(ctx context.Context, id uuid.UUID, to enums.OrderStatus) error {
			if id != orderID || to != enums.OrderStatusShipped {
				t.Fatalf("unexpected args %s %s", id, to)
			}
			return nil
		},
	}

	body := []byte(`{"status":"shipped"}`)
	req := withOrderID(httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)), orderID)
	resp := httptest.NewRecorder()
	AdminOrderAdvance(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestAdminOrderAdvanceRejectsUnknownStatus(t *testing.T) {
	body := []byte(`{"status":"teleported"}`)
	req := withOrderID(httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)), uuid.New())
	resp := httptest.NewRecorder()
	AdminOrderAdvance(stubAdvancer{}, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
