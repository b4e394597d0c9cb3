package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder  OutboxAggregateType = "order"
	AggregatePayout OutboxAggregateType = "payout"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePayout,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated       OutboxEventType = "order_created"
	EventOrderPaid          OutboxEventType = "order_paid"
	EventOrderCancelled     OutboxEventType = "order_cancelled"
	EventOrderRefunded      OutboxEventType = "order_refunded"
	EventOrderStateChanged  OutboxEventType = "order_state_changed"
	EventPaymentCaptured    OutboxEventType = "payment_captured"
	EventPaymentFailed      OutboxEventType = "payment_failed"
	EventPayoutProcessing   OutboxEventType = "payout_processing"
	EventPayoutCompleted    OutboxEventType = "payout_completed"
	EventPayoutFailed       OutboxEventType = "payout_failed"
	EventRefundNeedsReview  OutboxEventType = "refund_needs_review"
	EventStockNeedsReview   OutboxEventType = "stock_needs_review"
	EventSettlementAnomaly  OutboxEventType = "settlement_anomaly"
	EventSellerSaleRecorded OutboxEventType = "seller_sale_recorded"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderCancelled,
	EventOrderRefunded,
	EventOrderStateChanged,
	EventPaymentCaptured,
	EventPaymentFailed,
	EventPayoutProcessing,
	EventPayoutCompleted,
	EventPayoutFailed,
	EventRefundNeedsReview,
	EventStockNeedsReview,
	EventSettlementAnomaly,
	EventSellerSaleRecorded,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
