package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/kalamart/marketplace-backend/api/middleware"
	"github.com/kalamart/marketplace-backend/api/responses"
	"github.com/kalamart/marketplace-backend/api/validators"
	checkoutsvc "github.com/kalamart/marketplace-backend/internal/checkout"
	"github.com/kalamart/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/kalamart/marketplace-backend/pkg/errors"
	"github.com/kalamart/marketplace-backend/pkg/logger"
	"github.com/kalamart/marketplace-backend/pkg/types"
)

// OrderCreator assembles an order and opens the gateway payment for it.
type OrderCreator interface {
	CreateOrder(ctx context.Context, input checkoutsvc.CreateOrderInput) (*checkoutsvc.CreateOrderResult, error)
}

// PaymentVerifier settles a checkout callback against the gateway.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) (*models.Order, error)
}

// CheckoutCreateOrder handles submission of the buyer's cart lines.
func CheckoutCreateOrder(svc OrderCreator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		userID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lines := make([]checkoutsvc.LineInput, 0, len(payload.Items))
		for _, item := range payload.Items {
			lines = append(lines, checkoutsvc.LineInput{ProductID: item.ProductID, Qty: item.Qty})
		}

		result, err := svc.CreateOrder(r.Context(), checkoutsvc.CreateOrderInput{
			UserID:          userID,
			Lines:           lines,
			ShippingAddress: payload.ShippingAddress,
			DiscountCents:   payload.DiscountCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, createOrderResponse{
			OrderID:        result.OrderID,
			OrderNumber:    result.OrderNumber,
			GatewayOrderID: result.GatewayOrderID,
			AmountCents:    result.AmountCents,
			Currency:       result.Currency,
			Key:            result.KeyID,
		})
	}
}

// CheckoutVerify settles the browser payment callback. A bad signature is a
// generic 400 so callers cannot probe which part of the check failed.
func CheckoutVerify(svc PaymentVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		var payload verifyRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.VerifyPayment(r.Context(), payload.GatewayOrderID, payload.GatewayPaymentID, payload.Signature)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, verifyResponse{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Status:      string(order.Status),
		})
	}
}

type createOrderRequest struct {
	Items           []createOrderItem `json:"items" validate:"required,min=1,dive"`
	ShippingAddress *types.Address    `json:"shipping_address,omitempty"`
	DiscountCents   int               `json:"discount_cents,omitempty" validate:"omitempty,min=0"`
}

type createOrderItem struct {
	ProductID uuid.UUID `json:"product_id" validate:"required,uuid4"`
	Qty       int       `json:"qty" validate:"required,gt=0"`
}

type createOrderResponse struct {
	OrderID        uuid.UUID `json:"order_id"`
	OrderNumber    string    `json:"order_number"`
	GatewayOrderID string    `json:"gateway_order_id"`
	AmountCents    int       `json:"amount_cents"`
	Currency       string    `json:"currency"`
	Key            string    `json:"key"`
}

type verifyRequest struct {
	GatewayOrderID   string `json:"gateway_order_id" validate:"required"`
	GatewayPaymentID string `json:"gateway_payment_id" validate:"required"`
	Signature        string `json:"signature" validate:"required"`
}

type verifyResponse struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Status      string    `json:"status"`
}

func userIDFromContext(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user context")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user context")
	}
	return userID, nil
}
