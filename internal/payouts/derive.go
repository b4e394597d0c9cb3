package payouts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kalamart/marketplace-backend/pkg/config"
	"github.com/kalamart/marketplace-backend/pkg/db/models"
	"github.com/kalamart/marketplace-backend/pkg/enums"
	pkgerrors "github.com/kalamart/marketplace-backend/pkg/errors"
)

// Split is a seller's gross share of one order, as computed by pricing.
type Split struct {
	SellerID   uuid.UUID
	GrossCents int
}

// Derive turns per-seller splits into pending ledger rows. The platform fee
// is a basis-point cut of gross rounded half away from zero; the processing
// fee is a flat deduction. Net is clamped at zero so a tiny split can never
// produce a negative payout.
func Derive(orderID uuid.UUID, splits []Split, fees config.FeeConfig, now time.Time) ([]models.Payout, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if len(splits) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one seller split required")
	}

	windowStart := now
	windowEnd := now.AddDate(0, 0, fees.SettlementDays)

	rows := make([]models.Payout, 0, len(splits))
	for _, split := range splits {
		if split.GrossCents < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "split gross must not be negative")
		}
		platformFee := applyRateBps(split.GrossCents, fees.PlatformFeeBps)
		net := split.GrossCents - platformFee - fees.ProcessingFee
		if net < 0 {
			net = 0
		}
		rows = append(rows, models.Payout{
			OrderID:            orderID,
			SellerID:           split.SellerID,
			GrossCents:         split.GrossCents,
			PlatformFeeCents:   platformFee,
			ProcessingFeeCents: fees.ProcessingFee,
			NetCents:           net,
			Status:             enums.PayoutStatusPending,
			WindowStart:        windowStart,
			WindowEnd:          windowEnd,
		})
	}
	return rows, nil
}

func applyRateBps(amountCents, rateBps int) int {
	if amountCents == 0 || rateBps == 0 {
		return 0
	}
	rate := decimal.NewFromInt(int64(rateBps)).Div(decimal.NewFromInt(10000))
	return int(decimal.NewFromInt(int64(amountCents)).Mul(rate).Round(0).IntPart())
}
