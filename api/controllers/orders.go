package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalamart/marketplace-backend/api/responses"
	"github.com/kalamart/marketplace-backend/api/validators"
	"github.com/kalamart/marketplace-backend/internal/settlement"
	pkgerrors "github.com/kalamart/marketplace-backend/pkg/errors"
	"github.com/kalamart/marketplace-backend/pkg/logger"
)

// OrderCanceller cancels an order and reverses its side effects.
type OrderCanceller interface {
	Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*settlement.CancelResult, error)
}

// OrderCancel handles a buyer-initiated cancellation. A cancelled order
// whose refund could not be issued still returns 200 with the
// manual_intervention flag set.
func OrderCancel(svc OrderCanceller, logg *logger.Logger) http.HandlerFunc {
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

		var payload cancelRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		reason := payload.Reason
		if reason == "" {
			reason = "cancelled by buyer"
		}

		result, err := svc.Cancel(r.Context(), orderID, reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, cancelResponse{
			Status:             string(result.Status),
			RefundEligible:     result.RefundEligible,
			RefundAmountCents:  result.RefundAmountCents,
			ManualIntervention: result.ManualIntervention,
		})
	}
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type cancelResponse struct {
	Status             string `json:"status"`
	RefundEligible     bool   `json:"refund_eligible"`
	RefundAmountCents  int    `json:"refund_amount_cents"`
	ManualIntervention bool   `json:"manual_intervention,omitempty"`
}

func orderIDFromPath(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "orderId")
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return orderID, nil
}
