package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/kalamart/marketplace-backend/api/responses"
	"github.com/kalamart/marketplace-backend/api/validators"
	"github.com/kalamart/marketplace-backend/internal/settlement"
	"github.com/kalamart/marketplace-backend/pkg/enums"
	pkgerrors "github.com/kalamart/marketplace-backend/pkg/errors"
	"github.com/kalamart/marketplace-backend/pkg/logger"
)

// OrderRefunder issues gateway refunds for captured payments.
type OrderRefunder interface {
	Refund(ctx context.Context, orderID uuid.UUID, amountCents int, reason string) (*settlement.RefundResult, error)
}

// FulfillmentAdvancer walks an order through the fulfillment states.
type FulfillmentAdvancer interface {
	AdvanceFulfillment(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus) error
}

// AdminOrderRefund issues a full or partial refund. Amount defaults to the
// order grand total when omitted.
func AdminOrderRefund(svc OrderRefunder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		orderID, err := orderIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload refundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Refund(r.Context(), orderID, payload.AmountCents, payload.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, refundResponse{
			RefundID:          result.RefundID,
			RefundAmountCents: result.AmountCents,
		})
	}
}

// AdminOrderAdvance moves a paid order one step along the fulfillment path.
func AdminOrderAdvance(svc FulfillmentAdvancer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		orderID, err := orderIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload advanceRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := enums.ParseOrderStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target status"))
			return
		}

		if err := svc.AdvanceFulfillment(r.Context(), orderID, status); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, advanceResponse{Status: string(status)})
	}
}

type refundRequest struct {
	AmountCents int    `json:"amount_cents,omitempty" validate:"omitempty,min=0"`
	Reason      string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type refundResponse struct {
	RefundID          string `json:"refund_id"`
	RefundAmountCents int    `json:"refund_amount_cents"`
}

type advanceRequest struct {
	Status string `json:"status" validate:"required"`
}

type advanceResponse struct {
	Status string `json:"status"`
}
