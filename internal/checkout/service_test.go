package checkout

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kalamart/marketplace-backend/internal/catalog"
	"github.com/kalamart/marketplace-backend/internal/gateway"
	"github.com/kalamart/marketplace-backend/internal/inventory"
	"github.com/kalamart/marketplace-backend/internal/orders"
	"github.com/kalamart/marketplace-backend/internal/payouts"
	"github.com/kalamart/marketplace-backend/internal/pricing"
	"github.com/kalamart/marketplace-backend/pkg/config"
	"github.com/kalamart/marketplace-backend/pkg/db/models"
	"github.com/kalamart/marketplace-backend/pkg/enums"
	pkgerrors "github.com/kalamart/marketplace-backend/pkg/errors"
	"github.com/kalamart/marketplace-backend/pkg/logger"
	"github.com/kalamart/marketplace-backend/pkg/outbox"
)

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

type stubGateway struct {
	orderID string
	err     error
	calls   int
}

func (g *stubGateway) CreateRemoteOrder(_ context.Context, _ string, amountCents int, currency string) (gateway.RemoteOrder, error) {
	g.calls++
	if g.err != nil {
		return gateway.RemoteOrder{}, g.err
	}
	return gateway.RemoteOrder{ID: g.orderID, AmountCents: amountCents, Currency: currency}, nil
}

type recordingOutbox struct {
	events []outbox.DomainEvent
}

func (o *recordingOutbox) Emit(_ context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if tx == nil {
		return assert.AnError
	}
	o.events = append(o.events, event)
	return nil
}

type checkoutFixture struct {
	db      *gorm.DB
	svc     *Service
	gw      *stubGateway
	outbox  *recordingOutbox
	orders  orders.Repository
	payouts payouts.Repository
}

func newFixture(t *testing.T, gw *stubGateway) *checkoutFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:checkout_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Product{},
		&models.Order{},
		&models.OrderItem{},
		&models.Payment{},
		&models.Payout{},
		&models.OrderStatusChange{},
	))

	logg := logger.New(logger.Options{ServiceName: "checkout-test", Output: io.Discard})

	engine, err := pricing.NewEngine(config.PricingConfig{
		TaxRateBps:            1800,
		FreeShippingThreshold: 500,
		FlatShippingFee:       50,
	})
	require.NoError(t, err)

	stock, err := inventory.NewService(logg)
	require.NoError(t, err)

	ordersRepo := orders.NewRepository(db)
	payoutsRepo := payouts.NewRepository(db)
	recorder := &recordingOutbox{}

	svc, err := NewService(
		testTxRunner{db: db},
		catalog.NewRepository(db),
		engine,
		stock,
		ordersRepo,
		payoutsRepo,
		gw,
		recorder,
		config.FeeConfig{PlatformFeeBps: 1000, SettlementDays: 7},
		config.GatewayConfig{KeyID: "rzp_test_key", Currency: "INR", CallTimeout: 0},
		logg,
	)
	require.NoError(t, err)

	return &checkoutFixture{
		db:      db,
		svc:     svc,
		gw:      gw,
		outbox:  recorder,
		orders:  ordersRepo,
		payouts: payoutsRepo,
	}
}

func (f *checkoutFixture) seedProduct(t *testing.T, sellerID uuid.UUID, priceCents, stock int) uuid.UUID {
	t.Helper()

	product := models.Product{
		ID:         uuid.New(),
		SellerID:   sellerID,
		Name:       "widget",
		PriceCents: priceCents,
		Stock:      stock,
		Status:     enums.ProductStatusActive,
	}
	require.NoError(t, f.db.Create(&product).Error)
	return product.ID
}

func TestCreateOrderPersistsAggregateAndPayouts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &stubGateway{orderID: "order_gw001"})
	ctx := context.Background()
	sellerA := uuid.New()
	sellerB := uuid.New()
	productA := f.seedProduct(t, sellerA, 1200, 10)
	productB := f.seedProduct(t, sellerB, 300, 5)

	result, err := f.svc.CreateOrder(ctx, CreateOrderInput{
		UserID: uuid.New(),
		Lines: []LineInput{
			{ProductID: productA, Qty: 2},
			{ProductID: productB, Qty: 1},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "order_gw001", result.GatewayOrderID)
	assert.Equal(t, "rzp_test_key", result.KeyID)
	assert.Contains(t, result.OrderNumber, "ORD-")

	order, err := f.orders.FindByID(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPendingPayment, order.Status)
	assert.Equal(t, 2700, order.SubtotalCents)
	assert.Equal(t, 486, order.TaxCents)
	assert.Equal(t, 0, order.ShippingCents)
	assert.Equal(t, 3186, order.GrandTotalCents)
	assert.Len(t, order.Items, 2)
	require.NotNil(t, order.Payment)
	assert.Equal(t, enums.PaymentStatusCreated, order.Payment.Status)

	rows, err := f.payouts.FindByOrder(ctx, result.OrderID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, enums.PayoutStatusPending, row.Status)
	}

	// stock is validated, never decremented, at checkout
	var product models.Product
	require.NoError(t, f.db.First(&product, "id = ?", productA).Error)
	assert.Equal(t, 10, product.Stock)

	require.Len(t, f.outbox.events, 1)
	assert.Equal(t, enums.EventOrderCreated, f.outbox.events[0].EventType)
}

func TestCreateOrderRejectsInsufficientStock(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &stubGateway{orderID: "order_gw002"})
	productID := f.seedProduct(t, uuid.New(), 500, 1)

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: uuid.New(),
		Lines:  []LineInput{{ProductID: productID, Qty: 2}},
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock))
	assert.Equal(t, 0, f.gw.calls)
}

func TestCreateOrderRejectsInactiveProduct(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &stubGateway{orderID: "order_gw003"})
	product := models.Product{
		ID:         uuid.New(),
		SellerID:   uuid.New(),
		Name:       "retired widget",
		PriceCents: 500,
		Stock:      5,
		Status:     enums.ProductStatusArchived,
	}
	require.NoError(t, f.db.Create(&product).Error)

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: uuid.New(),
		Lines:  []LineInput{{ProductID: product.ID, Qty: 1}},
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestCreateOrderRejectsUnknownProduct(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &stubGateway{orderID: "order_gw004"})

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: uuid.New(),
		Lines:  []LineInput{{ProductID: uuid.New(), Qty: 1}},
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestCreateOrderGatewayFailureCancelsOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &stubGateway{err: pkgerrors.New(pkgerrors.CodeDependency, "gateway down")})
	ctx := context.Background()
	productID := f.seedProduct(t, uuid.New(), 1000, 5)

	_, err := f.svc.CreateOrder(ctx, CreateOrderInput{
		UserID: uuid.New(),
		Lines:  []LineInput{{ProductID: productID, Qty: 1}},
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))

	var order models.Order
	require.NoError(t, f.db.First(&order).Error)
	assert.Equal(t, enums.OrderStatusCancelled, order.Status)

	rows, err := f.payouts.FindByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.PayoutStatusReversed, rows[0].Status)

	// order_created then order_cancelled
	require.Len(t, f.outbox.events, 2)
	assert.Equal(t, enums.EventOrderCancelled, f.outbox.events[1].EventType)
}

type failingPaymentRepo struct {
	orders.Repository
	err error
}

func (r failingPaymentRepo) WithTx(tx *gorm.DB) orders.Repository {
	return failingPaymentRepo{Repository: r.Repository.WithTx(tx), err: r.err}
}

func (r failingPaymentRepo) CreatePayment(context.Context, *models.Payment) (*models.Payment, error) {
	return nil, r.err
}

func TestCreateOrderPaymentRecordFailureCancelsOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &stubGateway{orderID: "order_gw006"})
	ctx := context.Background()
	productID := f.seedProduct(t, uuid.New(), 1000, 5)

	failing := failingPaymentRepo{Repository: f.orders, err: assert.AnError}
	svc, err := NewService(
		testTxRunner{db: f.db},
		catalog.NewRepository(f.db),
		mustEngine(t),
		mustStock(t),
		failing,
		f.payouts,
		f.gw,
		f.outbox,
		config.FeeConfig{PlatformFeeBps: 1000, SettlementDays: 7},
		config.GatewayConfig{KeyID: "rzp_test_key", Currency: "INR", CallTimeout: 0},
		logger.New(logger.Options{ServiceName: "checkout-test", Output: io.Discard}),
	)
	require.NoError(t, err)

	_, err = svc.CreateOrder(ctx, CreateOrderInput{
		UserID: uuid.New(),
		Lines:  []LineInput{{ProductID: productID, Qty: 1}},
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInternal))
	assert.Equal(t, 1, f.gw.calls)

	// no dangling pending_payment order without its gateway reference
	var order models.Order
	require.NoError(t, f.db.First(&order).Error)
	assert.Equal(t, enums.OrderStatusCancelled, order.Status)

	rows, err := f.payouts.FindByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.PayoutStatusReversed, rows[0].Status)

	require.Len(t, f.outbox.events, 2)
	assert.Equal(t, enums.EventOrderCancelled, f.outbox.events[1].EventType)
}

func mustEngine(t *testing.T) *pricing.Engine {
	t.Helper()
	engine, err := pricing.NewEngine(config.PricingConfig{
		TaxRateBps:            1800,
		FreeShippingThreshold: 500,
		FlatShippingFee:       50,
	})
	require.NoError(t, err)
	return engine
}

func mustStock(t *testing.T) *inventory.Service {
	t.Helper()
	stock, err := inventory.NewService(logger.New(logger.Options{ServiceName: "checkout-test", Output: io.Discard}))
	require.NoError(t, err)
	return stock
}

func TestCreateOrderValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &stubGateway{orderID: "order_gw005"})
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, CreateOrderInput{Lines: []LineInput{{ProductID: uuid.New(), Qty: 1}}})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.CreateOrder(ctx, CreateOrderInput{UserID: uuid.New()})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.CreateOrder(ctx, CreateOrderInput{
		UserID: uuid.New(),
		Lines:  []LineInput{{ProductID: uuid.New(), Qty: -1}},
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
