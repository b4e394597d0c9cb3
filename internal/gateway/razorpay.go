package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	razorpay "github.com/razorpay/razorpay-go"

	"github.com/kalamart/marketplace-backend/pkg/config"
	pkgerrors "github.com/kalamart/marketplace-backend/pkg/errors"
	"github.com/kalamart/marketplace-backend/pkg/metrics"
)

// RazorpayGateway implements Gateway against the Razorpay REST API.
type RazorpayGateway struct {
	client  *razorpay.Client
	cfg     config.GatewayConfig
	metrics *metrics.SettlementMetrics
}

// NewRazorpayGateway builds the provider client with a bounded call timeout.
func NewRazorpayGateway(cfg config.GatewayConfig, m *metrics.SettlementMetrics) (*RazorpayGateway, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, fmt.Errorf("gateway key id and secret are required")
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("gateway webhook secret is required")
	}
	client := razorpay.NewClient(cfg.KeyID, cfg.KeySecret)
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client.SetTimeout(int16(timeout / time.Second))
	return &RazorpayGateway{client: client, cfg: cfg, metrics: m}, nil
}

// CreateRemoteOrder registers an order with the provider so the client can
// collect payment against it.
func (g *RazorpayGateway) CreateRemoteOrder(ctx context.Context, receipt string, amountCents int, currency string) (RemoteOrder, error) {
	if err := ctx.Err(); err != nil {
		return RemoteOrder{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway call aborted")
	}
	if amountCents <= 0 {
		return RemoteOrder{}, pkgerrors.New(pkgerrors.CodeValidation, "order amount must be positive")
	}
	if currency == "" {
		currency = g.cfg.Currency
	}

	started := time.Now()
	body, err := g.client.Order.Create(map[string]interface{}{
		"amount":   amountCents,
		"currency": currency,
		"receipt":  receipt,
	}, nil)
	g.metrics.ObserveGatewayCall("create_order", time.Since(started))
	if err != nil {
		return RemoteOrder{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating gateway order")
	}

	id, _ := body["id"].(string)
	if id == "" {
		return RemoteOrder{}, pkgerrors.New(pkgerrors.CodeDependency, "gateway returned order without id")
	}
	return RemoteOrder{
		ID:          id,
		AmountCents: asInt(body["amount"]),
		Currency:    asString(body["currency"], currency),
	}, nil
}

// VerifySignature checks the checkout callback signature: HMAC-SHA256 over
// "<gateway_order_id>|<gateway_payment_id>" under the key secret.
func (g *RazorpayGateway) VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) error {
	message := gatewayOrderID + "|" + gatewayPaymentID
	if !VerifyHMAC(g.cfg.KeySecret, []byte(message), signature) {
		return pkgerrors.New(pkgerrors.CodeSignature, "payment signature mismatch")
	}
	return nil
}

// FetchPayment reads the authoritative payment state from the provider.
func (g *RazorpayGateway) FetchPayment(ctx context.Context, paymentID string) (PaymentInfo, error) {
	if err := ctx.Err(); err != nil {
		return PaymentInfo{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway call aborted")
	}
	if strings.TrimSpace(paymentID) == "" {
		return PaymentInfo{}, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}

	started := time.Now()
	body, err := g.client.Payment.Fetch(paymentID, nil, nil)
	g.metrics.ObserveGatewayCall("fetch_payment", time.Since(started))
	if err != nil {
		return PaymentInfo{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetching gateway payment")
	}

	return PaymentInfo{
		ID:          asString(body["id"], paymentID),
		OrderID:     asString(body["order_id"], ""),
		Status:      asString(body["status"], ""),
		AmountCents: asInt(body["amount"]),
		Method:      asString(body["method"], ""),
	}, nil
}

// CreateRefund asks the provider to return amountCents to the payer.
func (g *RazorpayGateway) CreateRefund(ctx context.Context, paymentID string, amountCents int, notes map[string]string) (Refund, error) {
	if err := ctx.Err(); err != nil {
		return Refund{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway call aborted")
	}
	if amountCents <= 0 {
		return Refund{}, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}

	data := map[string]interface{}{}
	if len(notes) > 0 {
		noteData := map[string]interface{}{}
		for k, v := range notes {
			noteData[k] = v
		}
		data["notes"] = noteData
	}

	started := time.Now()
	body, err := g.client.Payment.Refund(paymentID, amountCents, data, nil)
	g.metrics.ObserveGatewayCall("create_refund", time.Since(started))
	if err != nil {
		return Refund{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating gateway refund")
	}

	id, _ := body["id"].(string)
	if id == "" {
		return Refund{}, pkgerrors.New(pkgerrors.CodeDependency, "gateway returned refund without id")
	}
	return Refund{
		ID:          id,
		AmountCents: asInt(body["amount"]),
		Status:      asString(body["status"], ""),
	}, nil
}

// VerifyWebhookSignature checks the raw webhook body against the webhook
// secret. It runs before any parsing, so a forged body is rejected without
// ever being decoded.
func (g *RazorpayGateway) VerifyWebhookSignature(body []byte, signature string) error {
	if !VerifyHMAC(g.cfg.WebhookSecret, body, signature) {
		return pkgerrors.New(pkgerrors.CodeSignature, "webhook signature mismatch")
	}
	return nil
}

func asInt(value interface{}) int {
	switch v := value.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func asString(value interface{}, fallback string) string {
	if s, ok := value.(string); ok && s != "" {
		return s
	}
	return fallback
}
