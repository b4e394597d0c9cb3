package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kalamart/marketplace-backend/internal/gateway"
	"github.com/kalamart/marketplace-backend/internal/orders"
	"github.com/kalamart/marketplace-backend/internal/payouts"
	"github.com/kalamart/marketplace-backend/internal/pricing"
	"github.com/kalamart/marketplace-backend/pkg/config"
	dbpkg "github.com/kalamart/marketplace-backend/pkg/db"
	"github.com/kalamart/marketplace-backend/pkg/db/models"
	"github.com/kalamart/marketplace-backend/pkg/enums"
	pkgerrors "github.com/kalamart/marketplace-backend/pkg/errors"
	"github.com/kalamart/marketplace-backend/pkg/logger"
	"github.com/kalamart/marketplace-backend/pkg/outbox"
	"github.com/kalamart/marketplace-backend/pkg/outbox/payloads"
	"github.com/kalamart/marketplace-backend/pkg/types"
)

const orderNumberAttempts = 3

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type productCatalog interface {
	FindByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
}

type totalsComputer interface {
	ComputeTotals(items []pricing.LineItem, discountCents int) (pricing.Totals, []pricing.SellerSplit, error)
}

type stockChecker interface {
	CheckAvailability(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
}

type remoteOrderCreator interface {
	CreateRemoteOrder(ctx context.Context, receipt string, amountCents int, currency string) (gateway.RemoteOrder, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// LineInput is one requested order line. Quantity only; price always comes
// from the catalog.
type LineInput struct {
	ProductID uuid.UUID
	Qty       int
}

// CreateOrderInput carries everything checkout needs from the caller.
type CreateOrderInput struct {
	UserID          uuid.UUID
	Lines           []LineInput
	ShippingAddress *types.Address
	DiscountCents   int
}

// CreateOrderResult is what the client needs to start collecting payment.
type CreateOrderResult struct {
	OrderID        uuid.UUID
	OrderNumber    string
	GatewayOrderID string
	AmountCents    int
	Currency       string
	KeyID          string
}

// Service assembles orders: authoritative catalog read, totals, pending
// payouts, then the remote gateway order.
type Service struct {
	tx      txRunner
	catalog productCatalog
	pricer  totalsComputer
	stock   stockChecker
	orders  orders.Repository
	payouts payouts.Repository
	gateway remoteOrderCreator
	outbox  outboxPublisher
	fees    config.FeeConfig
	gwCfg   config.GatewayConfig
	logg    *logger.Logger
}

func NewService(
	tx txRunner,
	catalog productCatalog,
	pricer totalsComputer,
	stock stockChecker,
	ordersRepo orders.Repository,
	payoutsRepo payouts.Repository,
	gw remoteOrderCreator,
	publisher outboxPublisher,
	fees config.FeeConfig,
	gwCfg config.GatewayConfig,
	logg *logger.Logger,
) (*Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("product catalog required")
	}
	if pricer == nil {
		return nil, fmt.Errorf("pricing engine required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock checker required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if payoutsRepo == nil {
		return nil, fmt.Errorf("payouts repository required")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		tx:      tx,
		catalog: catalog,
		pricer:  pricer,
		stock:   stock,
		orders:  ordersRepo,
		payouts: payoutsRepo,
		gateway: gw,
		outbox:  publisher,
		fees:    fees,
		gwCfg:   gwCfg,
		logg:    logg,
	}, nil
}

// CreateOrder persists the order aggregate in pending_payment and registers
// the matching gateway order. Stock is validated but not decremented here;
// the decrement happens exactly once at payment capture.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	var order *models.Order
	var err error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		order, err = s.persistOrder(ctx, input)
		if err == nil {
			break
		}
		if !dbpkg.IsUniqueViolation(err, "ux_orders_order_number") {
			return nil, err
		}
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "allocating order number")
	}

	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	gwCtx, cancel := context.WithTimeout(ctx, s.callTimeout())
	defer cancel()
	remote, gwErr := s.gateway.CreateRemoteOrder(gwCtx, order.OrderNumber, order.GrandTotalCents, order.Currency.String())
	if gwErr != nil {
		s.logg.Error(ctx, "gateway order creation failed, cancelling order", gwErr)
		if cancelErr := s.cancelPendingOrder(ctx, order, "gateway order creation failed"); cancelErr != nil {
			s.logg.Error(ctx, "cancelling order after gateway failure", cancelErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, gwErr, "payment gateway unavailable")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := s.orders.WithTx(tx).CreatePayment(ctx, &models.Payment{
			OrderID:        order.ID,
			GatewayOrderID: remote.ID,
			Status:         enums.PaymentStatusCreated,
		})
		return err
	})
	if err != nil {
		// The order must not stay pending_payment without its gateway
		// reference; the remote order is abandoned and a new checkout
		// starts clean.
		s.logg.Error(ctx, "recording gateway order failed, cancelling order", err)
		if cancelErr := s.cancelPendingOrder(ctx, order, "gateway order could not be recorded"); cancelErr != nil {
			s.logg.Error(ctx, "cancelling order after record failure", cancelErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording gateway order")
	}

	s.logg.Info(ctx, "order created")

	return &CreateOrderResult{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		GatewayOrderID: remote.ID,
		AmountCents:    order.GrandTotalCents,
		Currency:       order.Currency.String(),
		KeyID:          s.gwCfg.KeyID,
	}, nil
}

// persistOrder runs one attempt at writing the order aggregate, pending
// payouts and the order_created outbox event in a single transaction.
func (s *Service) persistOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	var created *models.Order

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ids := make([]uuid.UUID, 0, len(input.Lines))
		for _, line := range input.Lines {
			ids = append(ids, line.ProductID)
		}
		products, err := s.catalog.FindByIDs(ctx, tx, ids)
		if err != nil {
			return err
		}

		items := make([]pricing.LineItem, 0, len(input.Lines))
		orderItems := make([]models.OrderItem, 0, len(input.Lines))
		for _, line := range input.Lines {
			product, ok := products[line.ProductID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound,
					fmt.Sprintf("product %s not found", line.ProductID))
			}
			if product.Status != enums.ProductStatusActive {
				return pkgerrors.New(pkgerrors.CodeValidation,
					fmt.Sprintf("product %s is not purchasable", line.ProductID))
			}
			if err := s.stock.CheckAvailability(ctx, tx, line.ProductID, line.Qty); err != nil {
				return err
			}
			items = append(items, pricing.LineItem{
				ProductID:      product.ID,
				SellerID:       product.SellerID,
				UnitPriceCents: product.PriceCents,
				Qty:            line.Qty,
			})
			orderItems = append(orderItems, models.OrderItem{
				ProductID:      product.ID,
				SellerID:       product.SellerID,
				Name:           product.Name,
				SKU:            product.SKU,
				UnitPriceCents: product.PriceCents,
				Qty:            line.Qty,
			})
		}

		totals, sellerSplits, err := s.pricer.ComputeTotals(items, input.DiscountCents)
		if err != nil {
			return err
		}

		now := time.Now()
		order := &models.Order{
			UserID:          input.UserID,
			OrderNumber:     newOrderNumber(now),
			Status:          enums.OrderStatusPendingPayment,
			Currency:        enums.Currency(s.gwCfg.Currency),
			SubtotalCents:   totals.SubtotalCents,
			TaxCents:        totals.TaxCents,
			ShippingCents:   totals.ShippingCents,
			DiscountCents:   totals.DiscountCents,
			GrandTotalCents: totals.GrandTotalCents,
			ShippingAddress: input.ShippingAddress,
			Items:           orderItems,
		}
		if _, err := s.orders.WithTx(tx).CreateOrder(ctx, order); err != nil {
			return err
		}

		payoutSplits := make([]payouts.Split, 0, len(sellerSplits))
		for _, split := range sellerSplits {
			payoutSplits = append(payoutSplits, payouts.Split{
				SellerID:   split.SellerID,
				GrossCents: split.GrossCents,
			})
		}
		rows, err := payouts.Derive(order.ID, payoutSplits, s.fees, now)
		if err != nil {
			return err
		}
		if err := s.payouts.WithTx(tx).CreateAll(ctx, rows); err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.UserID},
			Data: payloads.OrderCreatedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				BuyerID:     input.UserID,
				GrandTotal:  order.GrandTotalCents,
				SellerCount: len(rows),
			},
		}); err != nil {
			return err
		}

		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// cancelPendingOrder unwinds a freshly created order that never became
// payable: status to cancelled, payouts reversed, cancellation emitted.
func (s *Service) cancelPendingOrder(ctx context.Context, order *models.Order, note string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		applied, err := s.orders.WithTx(tx).Transition(ctx, order.ID,
			enums.OrderStatusPendingPayment, enums.OrderStatusCancelled, &note)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		if err := s.orders.WithTx(tx).SetCancelReason(ctx, order.ID, note); err != nil {
			return err
		}
		if _, err := s.payouts.WithTx(tx).ReverseForOrder(ctx, order.ID, note); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderCancelledEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				CancelledAt: time.Now(),
				Reason:      note,
			},
		})
	})
}

func (s *Service) callTimeout() time.Duration {
	if s.gwCfg.CallTimeout > 0 {
		return s.gwCfg.CallTimeout
	}
	return 10 * time.Second
}

func validateInput(input CreateOrderInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if len(input.Lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order must contain at least one line")
	}
	for i, line := range input.Lines {
		if line.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: product id required", i))
		}
		if line.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: quantity must be positive", i))
		}
	}
	if input.DiscountCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "discount must not be negative")
	}
	if input.ShippingAddress != nil {
		if err := input.ShippingAddress.Validate(); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address").WithDetails(err)
		}
	}
	return nil
}
