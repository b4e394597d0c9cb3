package settlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/kalamart/marketplace-backend/pkg/errors"
)

func TestDecodeEventPaymentCaptured(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"event": "payment.captured",
		"payload": {
			"payment": {
				"entity": {
					"id": "pay_123",
					"order_id": "order_456",
					"amount": 2832,
					"status": "captured"
				}
			}
		}
	}`)

	event, err := DecodeEvent(body)
	require.NoError(t, err)

	captured, ok := event.(PaymentCaptured)
	require.True(t, ok)
	assert.Equal(t, "pay_123", captured.GatewayPaymentID)
	assert.Equal(t, "order_456", captured.GatewayOrderID)
	assert.Equal(t, 2832, captured.AmountCents)
}

func TestDecodeEventOrderPaid(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"event": "order.paid",
		"payload": {"payment": {"entity": {"id": "pay_9", "order_id": "order_9", "amount": 100}}}
	}`)

	event, err := DecodeEvent(body)
	require.NoError(t, err)

	paid, ok := event.(OrderPaid)
	require.True(t, ok)
	assert.Equal(t, "order_9", paid.GatewayOrderID)
	assert.Equal(t, "pay_9", paid.GatewayPaymentID)
}

func TestDecodeEventRefundProcessed(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"event": "refund.processed",
		"payload": {"refund": {"entity": {"id": "rfnd_1", "payment_id": "pay_1", "amount": 500}}}
	}`)

	event, err := DecodeEvent(body)
	require.NoError(t, err)

	refund, ok := event.(RefundProcessed)
	require.True(t, ok)
	assert.Equal(t, "rfnd_1", refund.GatewayRefundID)
	assert.Equal(t, "pay_1", refund.GatewayPaymentID)
	assert.Equal(t, 500, refund.AmountCents)
}

func TestDecodeEventTransfer(t *testing.T) {
	t.Parallel()

	event, err := DecodeEvent([]byte(`{
		"event": "transfer.processed",
		"payload": {"transfer": {"entity": {"id": "trf_7"}}}
	}`))
	require.NoError(t, err)
	processed, ok := event.(TransferProcessed)
	require.True(t, ok)
	assert.Equal(t, "trf_7", processed.TransferID)

	event, err = DecodeEvent([]byte(`{
		"event": "transfer.failed",
		"payload": {"transfer": {"entity": {"id": "trf_8", "error": "account closed"}}}
	}`))
	require.NoError(t, err)
	failed, ok := event.(TransferFailed)
	require.True(t, ok)
	assert.Equal(t, "account closed", failed.Reason)
}

func TestDecodeEventUnknownIsNotAnError(t *testing.T) {
	t.Parallel()

	event, err := DecodeEvent([]byte(`{"event": "invoice.generated", "payload": {}}`))
	require.NoError(t, err)

	unknown, ok := event.(Unknown)
	require.True(t, ok)
	assert.Equal(t, "invoice.generated", unknown.Name())
}

func TestDecodeEventMalformed(t *testing.T) {
	t.Parallel()

	_, err := DecodeEvent([]byte(`{not json`))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = DecodeEvent([]byte(`{"payload": {}}`))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
