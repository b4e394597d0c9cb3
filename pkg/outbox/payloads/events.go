package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/kalamart/marketplace-backend/pkg/enums"
)

// OrderCreatedEvent signals a new order entering the settlement pipeline.
type OrderCreatedEvent struct {
	OrderID        uuid.UUID `json:"order_id"`
	OrderNumber    string    `json:"order_number"`
	BuyerID        uuid.UUID `json:"buyer_id"`
	GrandTotal     int       `json:"grand_total_cents"`
	GatewayOrderID string    `json:"gateway_order_id,omitempty"`
	SellerCount    int       `json:"seller_count"`
}

// OrderPaidEvent is emitted once when the payment is captured.
type OrderPaidEvent struct {
	OrderID          uuid.UUID `json:"order_id"`
	OrderNumber      string    `json:"order_number"`
	GatewayPaymentID string    `json:"gateway_payment_id"`
	AmountCents      int       `json:"amount_cents"`
	CapturedAt       time.Time `json:"captured_at"`
}

// OrderStateChangedEvent reports any applied status transition.
type OrderStateChangedEvent struct {
	OrderID    uuid.UUID          `json:"order_id"`
	FromStatus *enums.OrderStatus `json:"from_status,omitempty"`
	ToStatus   enums.OrderStatus  `json:"to_status"`
	Note       string             `json:"note,omitempty"`
}

// OrderCancelledEvent is emitted whenever an order is cancelled.
type OrderCancelledEvent struct {
	OrderID      uuid.UUID `json:"order_id"`
	OrderNumber  string    `json:"order_number"`
	CancelledAt  time.Time `json:"cancelled_at"`
	Reason       string    `json:"reason,omitempty"`
	RefundIssued bool      `json:"refund_issued"`
}

// OrderRefundedEvent is emitted when a refund settles, via API call or webhook.
type OrderRefundedEvent struct {
	OrderID         uuid.UUID `json:"order_id"`
	GatewayRefundID string    `json:"gateway_refund_id,omitempty"`
	AmountCents     int       `json:"amount_cents"`
	RefundedAt      time.Time `json:"refunded_at"`
}

// PayoutStatusEvent reports a ledger entry changing state.
type PayoutStatusEvent struct {
	PayoutID   uuid.UUID          `json:"payout_id"`
	OrderID    uuid.UUID          `json:"order_id"`
	SellerID   uuid.UUID          `json:"seller_id"`
	NetCents   int                `json:"net_cents"`
	Status     enums.PayoutStatus `json:"status"`
	TransferID string             `json:"transfer_id,omitempty"`
	Reason     string             `json:"reason,omitempty"`
}

// SellerSaleRecordedEvent feeds seller-facing sales reporting.
type SellerSaleRecordedEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	SellerID   uuid.UUID `json:"seller_id"`
	GrossCents int       `json:"gross_cents"`
	NetCents   int       `json:"net_cents"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ManualReviewEvent flags a partial failure that needs an operator.
type ManualReviewEvent struct {
	OrderID uuid.UUID `json:"order_id"`
	Kind    string    `json:"kind"`
	Detail  string    `json:"detail"`
}

// SettlementAnomalyEvent records a gateway event that contradicted local state.
type SettlementAnomalyEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	EventType   string    `json:"event_type"`
	LocalStatus string    `json:"local_status"`
	Detail      string    `json:"detail,omitempty"`
}
