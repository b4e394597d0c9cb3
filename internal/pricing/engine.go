package pricing

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kalamart/marketplace-backend/pkg/config"
	pkgerrors "github.com/kalamart/marketplace-backend/pkg/errors"
)

// LineItem is a priced order line. Prices arrive in minor units from the
// authoritative catalog read, never from the client.
type LineItem struct {
	ProductID      uuid.UUID
	SellerID       uuid.UUID
	UnitPriceCents int
	Qty            int
}

// SellerSplit is one seller's share of an order subtotal.
type SellerSplit struct {
	SellerID   uuid.UUID
	GrossCents int
}

// Totals carries every derived amount for one order.
type Totals struct {
	SubtotalCents   int
	TaxCents        int
	ShippingCents   int
	DiscountCents   int
	GrandTotalCents int
}

// Engine computes order totals from injected pricing knobs. It is pure:
// same inputs, same outputs, no clock and no I/O.
type Engine struct {
	cfg config.PricingConfig
}

func NewEngine(cfg config.PricingConfig) (*Engine, error) {
	if cfg.TaxRateBps < 0 {
		return nil, fmt.Errorf("tax rate must not be negative")
	}
	if cfg.FlatShippingFee < 0 {
		return nil, fmt.Errorf("flat shipping fee must not be negative")
	}
	return &Engine{cfg: cfg}, nil
}

// ComputeTotals derives subtotal, tax, shipping and the grand total along
// with the per-seller subtotal split.
//
// Tax applies to the full subtotal before discount. The discount is a
// pre-validated flat amount in minor units, clamped to the subtotal so the
// grand total can never go negative from discounting alone.
func (e *Engine) ComputeTotals(items []LineItem, discountCents int) (Totals, []SellerSplit, error) {
	if len(items) == 0 {
		return Totals{}, nil, pkgerrors.New(pkgerrors.CodeValidation, "order must contain at least one item")
	}
	if discountCents < 0 {
		return Totals{}, nil, pkgerrors.New(pkgerrors.CodeValidation, "discount must not be negative")
	}

	subtotal := 0
	grossBySeller := map[uuid.UUID]int{}
	for i, item := range items {
		if item.Qty <= 0 {
			return Totals{}, nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("item %d: quantity must be positive", i))
		}
		if item.UnitPriceCents < 0 {
			return Totals{}, nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("item %d: unit price must not be negative", i))
		}
		lineTotal := item.UnitPriceCents * item.Qty
		subtotal += lineTotal
		grossBySeller[item.SellerID] += lineTotal
	}

	if discountCents > subtotal {
		discountCents = subtotal
	}

	totals := Totals{
		SubtotalCents: subtotal,
		TaxCents:      applyRateBps(subtotal, e.cfg.TaxRateBps),
		ShippingCents: e.shippingFor(subtotal),
		DiscountCents: discountCents,
	}
	totals.GrandTotalCents = totals.SubtotalCents + totals.TaxCents + totals.ShippingCents - totals.DiscountCents

	splits := make([]SellerSplit, 0, len(grossBySeller))
	for sellerID, gross := range grossBySeller {
		splits = append(splits, SellerSplit{SellerID: sellerID, GrossCents: gross})
	}
	sort.Slice(splits, func(i, j int) bool {
		return splits[i].SellerID.String() < splits[j].SellerID.String()
	})

	return totals, splits, nil
}

func (e *Engine) shippingFor(subtotalCents int) int {
	if subtotalCents >= e.cfg.FreeShippingThreshold {
		return 0
	}
	return e.cfg.FlatShippingFee
}

// applyRateBps multiplies an amount by a basis-point rate and rounds
// half away from zero, so 0.5 of a minor unit always rounds up.
func applyRateBps(amountCents, rateBps int) int {
	if amountCents == 0 || rateBps == 0 {
		return 0
	}
	rate := decimal.NewFromInt(int64(rateBps)).Div(decimal.NewFromInt(10000))
	return int(decimal.NewFromInt(int64(amountCents)).Mul(rate).Round(0).IntPart())
}
