package orders

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kalamart/marketplace-backend/pkg/db/models"
	"github.com/kalamart/marketplace-backend/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:orders_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Order{},
		&models.OrderItem{},
		&models.Payment{},
		&models.Payout{},
		&models.OrderStatusChange{},
	))
	return db
}

func seedOrder(t *testing.T, repo Repository, status enums.OrderStatus) *models.Order {
	t.Helper()

	order := &models.Order{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		OrderNumber:     "ORD-" + uuid.NewString()[:8],
		Status:          status,
		Currency:        enums.CurrencyINR,
		SubtotalCents:   2400,
		TaxCents:        432,
		GrandTotalCents: 2832,
	}
	_, err := repo.CreateOrder(context.Background(), order)
	require.NoError(t, err)
	return order
}

func TestTransitionAppliesOnceAndAppendsHistory(t *testing.T) {
	t.Parallel()

	repo := NewRepository(newTestDB(t))
	ctx := context.Background()
	order := seedOrder(t, repo, enums.OrderStatusPendingPayment)

	applied, err := repo.Transition(ctx, order.ID, enums.OrderStatusPendingPayment, enums.OrderStatusPaid, nil)
	require.NoError(t, err)
	assert.True(t, applied)

	// replay of the same transition is a no-op
	applied, err = repo.Transition(ctx, order.ID, enums.OrderStatusPendingPayment, enums.OrderStatusPaid, nil)
	require.NoError(t, err)
	assert.False(t, applied)

	reloaded, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, reloaded.Status)

	history, err := repo.StatusHistory(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].FromStatus)
	assert.Equal(t, enums.OrderStatusPendingPayment, *history[0].FromStatus)
	assert.Equal(t, enums.OrderStatusPaid, history[0].ToStatus)
}

func TestTransitionRejectsWrongPrecondition(t *testing.T) {
	t.Parallel()

	repo := NewRepository(newTestDB(t))
	ctx := context.Background()
	order := seedOrder(t, repo, enums.OrderStatusCancelled)

	applied, err := repo.Transition(ctx, order.ID, enums.OrderStatusPendingPayment, enums.OrderStatusPaid, nil)
	require.NoError(t, err)
	assert.False(t, applied)

	history, err := repo.StatusHistory(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestFindByGatewayOrderID(t *testing.T) {
	t.Parallel()

	repo := NewRepository(newTestDB(t))
	ctx := context.Background()
	order := seedOrder(t, repo, enums.OrderStatusPendingPayment)

	_, err := repo.CreatePayment(ctx, &models.Payment{
		ID:             uuid.New(),
		OrderID:        order.ID,
		GatewayOrderID: "order_gw123",
		Status:         enums.PaymentStatusCreated,
	})
	require.NoError(t, err)

	found, err := repo.FindByGatewayOrderID(ctx, "order_gw123")
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)
	require.NotNil(t, found.Payment)
	assert.Equal(t, "order_gw123", found.Payment.GatewayOrderID)

	_, err = repo.FindByGatewayOrderID(ctx, "order_missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestTransitionPaymentGatesOnStatus(t *testing.T) {
	t.Parallel()

	repo := NewRepository(newTestDB(t))
	ctx := context.Background()
	order := seedOrder(t, repo, enums.OrderStatusPendingPayment)

	payment, err := repo.CreatePayment(ctx, &models.Payment{
		ID:             uuid.New(),
		OrderID:        order.ID,
		GatewayOrderID: "order_gw456",
		Status:         enums.PaymentStatusCreated,
	})
	require.NoError(t, err)

	applied, err := repo.TransitionPayment(ctx, payment.ID,
		[]enums.PaymentStatus{enums.PaymentStatusCreated, enums.PaymentStatusAuthorized},
		map[string]any{"status": enums.PaymentStatusCaptured, "gateway_payment_id": "pay_abc"})
	require.NoError(t, err)
	assert.True(t, applied)

	// a second capture finds no row in a capturable status
	applied, err = repo.TransitionPayment(ctx, payment.ID,
		[]enums.PaymentStatus{enums.PaymentStatusCreated, enums.PaymentStatusAuthorized},
		map[string]any{"status": enums.PaymentStatusCaptured})
	require.NoError(t, err)
	assert.False(t, applied)

	reloaded, err := repo.FindPaymentByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCaptured, reloaded.Status)
	require.NotNil(t, reloaded.GatewayPaymentID)
	assert.Equal(t, "pay_abc", *reloaded.GatewayPaymentID)
}

func TestSetCancelReason(t *testing.T) {
	t.Parallel()

	repo := NewRepository(newTestDB(t))
	ctx := context.Background()
	order := seedOrder(t, repo, enums.OrderStatusPaid)

	require.NoError(t, repo.SetCancelReason(ctx, order.ID, "changed my mind"))

	reloaded, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.CancelReason)
	assert.Equal(t, "changed my mind", *reloaded.CancelReason)
}
