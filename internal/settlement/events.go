package settlement

import (
	"encoding/json"
	"strings"

	pkgerrors "github.com/kalamart/marketplace-backend/pkg/errors"
)

// Gateway webhook event names this service understands.
const (
	EventNamePaymentAuthorized = "payment.authorized"
	EventNamePaymentCaptured   = "payment.captured"
	EventNamePaymentFailed     = "payment.failed"
	EventNameOrderPaid         = "order.paid"
	EventNameRefundProcessed   = "refund.processed"
	EventNameTransferProcessed = "transfer.processed"
	EventNameTransferFailed    = "transfer.failed"
)

// Event is the closed set of settlement inputs. Webhook bodies are decoded
// into exactly one of these at the boundary; everything past DecodeEvent
// works with typed data only.
type Event interface {
	Name() string
	isSettlementEvent()
}

type PaymentAuthorized struct {
	GatewayOrderID   string
	GatewayPaymentID string
	AmountCents      int
}

type PaymentCaptured struct {
	GatewayOrderID   string
	GatewayPaymentID string
	AmountCents      int
}

type PaymentFailed struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Reason           string
}

// OrderPaid is the gateway's order-level paid notification. It moves the
// order forward but never touches the payment row or stock; those belong
// to the payment.captured event, which carries the capture itself.
type OrderPaid struct {
	GatewayOrderID   string
	GatewayPaymentID string
}

type RefundProcessed struct {
	GatewayPaymentID string
	GatewayRefundID  string
	AmountCents      int
}

type TransferProcessed struct {
	TransferID string
}

type TransferFailed struct {
	TransferID string
	Reason     string
}

// Unknown carries event names outside the closed set. The caller logs and
// acknowledges so the gateway stops retrying.
type Unknown struct {
	EventName string
}

func (PaymentAuthorized) Name() string { return EventNamePaymentAuthorized }
func (PaymentCaptured) Name() string   { return EventNamePaymentCaptured }
func (PaymentFailed) Name() string     { return EventNamePaymentFailed }
func (OrderPaid) Name() string         { return EventNameOrderPaid }
func (RefundProcessed) Name() string   { return EventNameRefundProcessed }
func (TransferProcessed) Name() string { return EventNameTransferProcessed }
func (TransferFailed) Name() string    { return EventNameTransferFailed }
func (e Unknown) Name() string         { return e.EventName }

func (PaymentAuthorized) isSettlementEvent() {}
func (PaymentCaptured) isSettlementEvent()   {}
func (PaymentFailed) isSettlementEvent()     {}
func (OrderPaid) isSettlementEvent()         {}
func (RefundProcessed) isSettlementEvent()   {}
func (TransferProcessed) isSettlementEvent() {}
func (TransferFailed) isSettlementEvent()    {}
func (Unknown) isSettlementEvent()           {}

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Refund struct {
			Entity refundEntity `json:"entity"`
		} `json:"refund"`
		Transfer struct {
			Entity transferEntity `json:"entity"`
		} `json:"transfer"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int    `json:"amount"`
	Status           string `json:"status"`
	ErrorDescription string `json:"error_description"`
}

type refundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int    `json:"amount"`
}

type transferEntity struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// DecodeEvent parses a verified webhook body into a typed event. Unknown
// event names are not an error; malformed JSON is.
func DecodeEvent(body []byte) (Event, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook body")
	}
	name := strings.TrimSpace(envelope.Event)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook body missing event name")
	}

	switch name {
	case EventNamePaymentAuthorized:
		p := envelope.Payload.Payment.Entity
		return PaymentAuthorized{
			GatewayOrderID:   p.OrderID,
			GatewayPaymentID: p.ID,
			AmountCents:      p.Amount,
		}, nil

	case EventNamePaymentCaptured:
		p := envelope.Payload.Payment.Entity
		return PaymentCaptured{
			GatewayOrderID:   p.OrderID,
			GatewayPaymentID: p.ID,
			AmountCents:      p.Amount,
		}, nil

	case EventNameOrderPaid:
		p := envelope.Payload.Payment.Entity
		return OrderPaid{
			GatewayOrderID:   p.OrderID,
			GatewayPaymentID: p.ID,
		}, nil

	case EventNamePaymentFailed:
		p := envelope.Payload.Payment.Entity
		return PaymentFailed{
			GatewayOrderID:   p.OrderID,
			GatewayPaymentID: p.ID,
			Reason:           p.ErrorDescription,
		}, nil

	case EventNameRefundProcessed:
		r := envelope.Payload.Refund.Entity
		return RefundProcessed{
			GatewayPaymentID: r.PaymentID,
			GatewayRefundID:  r.ID,
			AmountCents:      r.Amount,
		}, nil

	case EventNameTransferProcessed:
		return TransferProcessed{TransferID: envelope.Payload.Transfer.Entity.ID}, nil

	case EventNameTransferFailed:
		return TransferFailed{
			TransferID: envelope.Payload.Transfer.Entity.ID,
			Reason:     envelope.Payload.Transfer.Entity.Error,
		}, nil

	default:
		return Unknown{EventName: name}, nil
	}
}
