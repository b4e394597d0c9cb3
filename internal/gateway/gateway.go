package gateway

import "context"

// RemoteOrder is the gateway-side order a client pays against.
type RemoteOrder struct {
	ID          string
	AmountCents int
	Currency    string
}

// PaymentInfo is the gateway's authoritative view of a payment.
type PaymentInfo struct {
	ID          string
	OrderID     string
	Status      string
	AmountCents int
	Method      string
}

// Refund is the gateway's record of a refund request.
type Refund struct {
	ID          string
	AmountCents int
	Status      string
}

// Gateway payment statuses as reported by the provider.
const (
	PaymentStatusAuthorized = "authorized"
	PaymentStatusCaptured   = "captured"
	PaymentStatusFailed     = "failed"
)

// Gateway abstracts the payment provider. Implementations must verify
// signatures in constant time and bound every remote call.
type Gateway interface {
	CreateRemoteOrder(ctx context.Context, receipt string, amountCents int, currency string) (RemoteOrder, error)
	VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) error
	FetchPayment(ctx context.Context, paymentID string) (PaymentInfo, error)
	CreateRefund(ctx context.Context, paymentID string, amountCents int, notes map[string]string) (Refund, error)
	VerifyWebhookSignature(body []byte, signature string) error
}
