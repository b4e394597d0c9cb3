package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalamart/marketplace-backend/api/middleware"
	checkoutsvc "github.com/kalamart/marketplace-backend/internal/checkout"
	"github.com/kalamart/marketplace-backend/pkg/db/models"
	"github.com/kalamart/marketplace-backend/pkg/enums"
	pkgerrors "github.com/kalamart/marketplace-backend/pkg/errors"
)

type stubOrderCreator struct {
	fn func(ctx context.Context, input checkoutsvc.CreateOrderInput) (*checkoutsvc.CreateOrderResult, error)
}

func (s stubOrderCreator) CreateOrder(ctx context.Context, input checkoutsvc.CreateOrderInput) (*checkoutsvc.CreateOrderResult, error) {
	if s.fn != nil {
		return s.fn(ctx, input)
	}
	return nil, fmt.Errorf("not implemented")
}

type stubVerifier struct {
	fn func(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) (*models.Order, error)
}

func (s stubVerifier) VerifyPayment(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) (*models.Order, error) {
	if s.fn != nil {
		return s.fn(ctx, gatewayOrderID, gatewayPaymentID, signature)
	}
	return nil, fmt.Errorf("not implemented")
}

func authedRequest(method, target string, body []byte, userID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	ctx := middleware.WithUserID(req.Context(), userID.String())
	return req.WithContext(ctx)
}

func withOrderID(req *http.Request, orderID uuid.UUID) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", orderID.String())
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestCheckoutCreateOrder(t *testing.T) {
	userID := uuid.New()
	productID := uuid.New()
	orderID := uuid.New()

	svc := stubOrderCreator{
		fn: func(ctx context.Context, input checkoutsvc.CreateOrderInput) (*checkoutsvc.CreateOrderResult, error) {
			if input.UserID != userID {
				t.Fatalf("unexpected user id %s", input.UserID)
			}
			if len(input.Lines) != 1 || input.Lines[0].ProductID != productID || input.Lines[0].Qty != 2 {
				t.Fatalf("unexpected lines %+v", input.Lines)
			}
			return &checkoutsvc.CreateOrderResult{
				OrderID:        orderID,
				OrderNumber:    "ORD-123456-0042",
				GatewayOrderID: "order_abc",
				AmountCents:    3186,
				Currency:       "INR",
				KeyID:          "key_test",
			}, nil
		},
	}

	body, _ := json.Marshal(map[string]any{
		"items": []map[string]any{{"product_id": productID, "qty": 2}},
	})
	req := authedRequest(http.MethodPost, "/api/v1/checkout/create-order", body, userID)
	resp := httptest.NewRecorder()
	CheckoutCreateOrder(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", resp.Code, resp.Body.String())
	}

	var envelope struct {
		Data createOrderResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.OrderID != orderID || envelope.Data.GatewayOrderID != "order_abc" {
		t.Fatalf("unexpected payload %+v", envelope.Data)
	}
	if envelope.Data.Key != "key_test" || envelope.Data.AmountCents != 3186 {
		t.Fatalf("unexpected payment fields %+v", envelope.Data)
	}
}

func TestCheckoutCreateOrderRequiresUser(t *testing.T) {
	body := []byte(`{"items":[{"product_id":"` + uuid.NewString() + `","qty":1}]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/create-order", bytes.NewReader(body))
	resp := httptest.NewRecorder()
	CheckoutCreateOrder(stubOrderCreator{}, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestCheckoutCreateOrderValidation(t *testing.T) {
	req := authedRequest(http.MethodPost, "/api/v1/checkout/create-order", []byte(`{"items":[]}`), uuid.New())
	resp := httptest.NewRecorder()
	CheckoutCreateOrder(stubOrderCreator{}, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCheckoutVerify(t *testing.T) {
	orderID := uuid.New()
	svc := stubVerifier{
		fn: func(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) (*models.Order, error) {
			if gatewayOrderID != "order_abc" || gatewayPaymentID != "pay_1" || signature != "sig" {
				t.Fatalf("unexpected args %s %s %s", gatewayOrderID, gatewayPaymentID, signature)
			}
			return &models.Order{
				ID:          orderID,
				OrderNumber: "ORD-123456-0042",
				Status:      enums.OrderStatusPaid,
			}, nil
		},
	}

	body := []byte(`{"gateway_order_id":"order_abc","gateway_payment_id":"pay_1","signature":"sig"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/verify", bytes.NewReader(body))
	resp := httptest.NewRecorder()
	CheckoutVerify(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data verifyResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Status != string(enums.OrderStatusPaid) {
		t.Fatalf("unexpected status %s", envelope.Data.Status)
	}
}

func TestCheckoutVerifySignatureMismatchIsGeneric(t *testing.T) {
	svc := stubVerifier{
		fn: func(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) (*models.Order, error) {
			return nil, pkgerrors.New(pkgerrors.CodeSignature, "hmac mismatch for order order_abc")
		},
	}

	body := []byte(`{"gateway_order_id":"order_abc","gateway_payment_id":"pay_1","signature":"bad"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/verify", bytes.NewReader(body))
	resp := httptest.NewRecorder()
	CheckoutVerify(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeSignature) {
		t.Fatalf("unexpected code %s", envelope.Error.Code)
	}
	// Internal detail must not leak through the public message.
	if envelope.Error.Message != "invalid payment signature" {
		t.Fatalf("unexpected message %q", envelope.Error.Message)
	}
}
