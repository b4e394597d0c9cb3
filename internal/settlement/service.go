package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kalamart/marketplace-backend/internal/gateway"
	"github.com/kalamart/marketplace-backend/internal/orders"
	"github.com/kalamart/marketplace-backend/internal/payouts"
	"github.com/kalamart/marketplace-backend/pkg/config"
	"github.com/kalamart/marketplace-backend/pkg/db/models"
	"github.com/kalamart/marketplace-backend/pkg/enums"
	pkgerrors "github.com/kalamart/marketplace-backend/pkg/errors"
	"github.com/kalamart/marketplace-backend/pkg/logger"
	"github.com/kalamart/marketplace-backend/pkg/metrics"
	"github.com/kalamart/marketplace-backend/pkg/outbox"
	"github.com/kalamart/marketplace-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockMover interface {
	Decrement(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
	Restore(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
}

type paymentGateway interface {
	VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) error
	FetchPayment(ctx context.Context, paymentID string) (gateway.PaymentInfo, error)
	CreateRefund(ctx context.Context, paymentID string, amountCents int, notes map[string]string) (gateway.Refund, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// CancelResult reports what the cancellation did. ManualIntervention is set
// when the order is cancelled but the refund could not be issued.
type CancelResult struct {
	Status             enums.OrderStatus
	RefundEligible     bool
	RefundAmountCents  int
	ManualIntervention bool
}

// RefundResult reports an admin-initiated refund.
type RefundResult struct {
	RefundID    string
	AmountCents int
}

// Service is the settlement state machine. Every transition is a
// conditional update keyed on the current status; a transition whose
// precondition no longer holds reports applied=false and mutates nothing.
type Service struct {
	tx      txRunner
	orders  orders.Repository
	payouts payouts.Repository
	stock   stockMover
	gateway paymentGateway
	outbox  outboxPublisher
	metrics *metrics.SettlementMetrics
	gwCfg   config.GatewayConfig
	logg    *logger.Logger
}

func NewService(
	tx txRunner,
	ordersRepo orders.Repository,
	payoutsRepo payouts.Repository,
	stock stockMover,
	gw paymentGateway,
	publisher outboxPublisher,
	m *metrics.SettlementMetrics,
	gwCfg config.GatewayConfig,
	logg *logger.Logger,
) (*Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if payoutsRepo == nil {
		return nil, fmt.Errorf("payouts repository required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock mover required")
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
		orders:  ordersRepo,
		payouts: payoutsRepo,
		stock:   stock,
		gateway: gw,
		outbox:  publisher,
		metrics: m,
		gwCfg:   gwCfg,
		logg:    logg,
	}, nil
}

// Apply feeds one settlement event through the state machine. applied=false
// with a nil error means the event was a duplicate, arrived against
// incompatible local state, or is outside the closed set; all three are
// normal operation, not failures.
func (s *Service) Apply(ctx context.Context, event Event) (bool, error) {
	ctx = s.logg.WithEventType(ctx, event.Name())

	switch ev := event.(type) {
	case PaymentAuthorized:
		return s.applyPaymentAuthorized(ctx, ev)
	case PaymentCaptured:
		return s.applyPaymentCaptured(ctx, ev)
	case OrderPaid:
		return s.applyOrderPaid(ctx, ev)
	case PaymentFailed:
		return s.applyPaymentFailed(ctx, ev)
	case RefundProcessed:
		return s.applyRefundProcessed(ctx, ev)
	case TransferProcessed:
		return s.applyTransferProcessed(ctx, ev)
	case TransferFailed:
		return s.applyTransferFailed(ctx, ev)
	case Unknown:
		s.logg.Warn(ctx, "ignoring unknown settlement event")
		return false, nil
	default:
		return false, pkgerrors.New(pkgerrors.CodeInternal, "unhandled settlement event type")
	}
}

func (s *Service) applyPaymentAuthorized(ctx context.Context, ev PaymentAuthorized) (bool, error) {
	applied := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		order, err := repo.FindByGatewayOrderID(ctx, ev.GatewayOrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return s.recordAnomaly(ctx, tx, uuid.Nil, ev.Name(), "", "no local order for gateway order "+ev.GatewayOrderID)
			}
			return err
		}
		ok, err := repo.TransitionPayment(ctx, order.Payment.ID,
			[]enums.PaymentStatus{enums.PaymentStatusCreated},
			map[string]any{
				"status":             enums.PaymentStatusAuthorized,
				"gateway_payment_id": ev.GatewayPaymentID,
			})
		if err != nil {
			return err
		}
		applied = ok
		return nil
	})
	s.observeEvent(ev.Name(), applied, err)
	return applied, err
}

func (s *Service) applyPaymentCaptured(ctx context.Context, ev PaymentCaptured) (bool, error) {
	applied := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		order, err := repo.FindByGatewayOrderID(ctx, ev.GatewayOrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return s.recordAnomaly(ctx, tx, uuid.Nil, ev.Name(), "", "no local order for gateway order "+ev.GatewayOrderID)
			}
			return err
		}
		ctx := s.logg.WithOrderID(ctx, order.ID.String())

		// A capture landing on a dead order is money the platform holds
		// with nothing to fulfil. Never resurrect the order; flag it.
		if order.Status == enums.OrderStatusCancelled || order.Status == enums.OrderStatusRefunded {
			s.logg.Warn(ctx, "payment captured for an order that is no longer open")
			return s.recordAnomaly(ctx, tx, order.ID, ev.Name(), order.Status.String(), "capture arrived after order left the open states")
		}

		now := time.Now()
		ok, err := repo.TransitionPayment(ctx, order.Payment.ID,
			[]enums.PaymentStatus{enums.PaymentStatusCreated, enums.PaymentStatusAuthorized},
			map[string]any{
				"status":             enums.PaymentStatusCaptured,
				"gateway_payment_id": ev.GatewayPaymentID,
				"captured_at":        now,
			})
		if err != nil {
			return err
		}
		if !ok {
			// duplicate delivery; the first one captured
			return nil
		}

		if _, err := repo.Transition(ctx, order.ID,
			enums.OrderStatusPendingPayment, enums.OrderStatusPaid, strPtr("payment captured")); err != nil {
			return err
		}
		s.observeTransition(enums.OrderStatusPaid)

		// Stock comes off exactly here, once, under the captured payment.
		// A failed decrement must not void the capture; it becomes an
		// operator task instead.
		for _, item := range order.Items {
			if derr := s.stock.Decrement(ctx, tx, item.ProductID, item.Qty); derr != nil {
				s.logg.Error(ctx, "stock decrement failed after capture", derr)
				s.observeAnomaly("stock_decrement_failed")
				if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
					EventType:     enums.EventStockNeedsReview,
					AggregateType: enums.AggregateOrder,
					AggregateID:   order.ID,
					Data: payloads.ManualReviewEvent{
						OrderID: order.ID,
						Kind:    "stock_decrement_failed",
						Detail:  derr.Error(),
					},
				}); err != nil {
					return err
				}
			}
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderPaidEvent{
				OrderID:          order.ID,
				OrderNumber:      order.OrderNumber,
				GatewayPaymentID: ev.GatewayPaymentID,
				AmountCents:      order.GrandTotalCents,
				CapturedAt:       now,
			},
		}); err != nil {
			return err
		}

		applied = true
		return nil
	})
	s.observeEvent(ev.Name(), applied, err)
	return applied, err
}

// applyOrderPaid nudges the order to paid when the capture has not done so
// yet. It deliberately leaves the payment row and stock alone: the capture
// event owns both, and an order already past paid stays where it is.
func (s *Service) applyOrderPaid(ctx context.Context, ev OrderPaid) (bool, error) {
	applied := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		order, err := repo.FindByGatewayOrderID(ctx, ev.GatewayOrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return s.recordAnomaly(ctx, tx, uuid.Nil, ev.Name(), "", "no local order for gateway order "+ev.GatewayOrderID)
			}
			return err
		}
		ctx := s.logg.WithOrderID(ctx, order.ID.String())

		ok, err := repo.Transition(ctx, order.ID,
			enums.OrderStatusPendingPayment, enums.OrderStatusPaid, strPtr("gateway reported order paid"))
		if err != nil {
			return err
		}
		if !ok {
			// capture already moved the order, or it is past paid
			return nil
		}
		s.observeTransition(enums.OrderStatusPaid)

		from := enums.OrderStatusPendingPayment
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStateChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderStateChangedEvent{
				OrderID:    order.ID,
				FromStatus: &from,
				ToStatus:   enums.OrderStatusPaid,
				Note:       "gateway reported order paid",
			},
		}); err != nil {
			return err
		}
		applied = true
		return nil
	})
	s.observeEvent(ev.Name(), applied, err)
	return applied, err
}

func (s *Service) applyPaymentFailed(ctx context.Context, ev PaymentFailed) (bool, error) {
	applied := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		order, err := repo.FindByGatewayOrderID(ctx, ev.GatewayOrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return s.recordAnomaly(ctx, tx, uuid.Nil, ev.Name(), "", "no local order for gateway order "+ev.GatewayOrderID)
			}
			return err
		}
		updates := map[string]any{
			"status":         enums.PaymentStatusFailed,
			"failure_reason": ev.Reason,
		}
		if ev.GatewayPaymentID != "" {
			updates["gateway_payment_id"] = ev.GatewayPaymentID
		}
		ok, err := repo.TransitionPayment(ctx, order.Payment.ID,
			[]enums.PaymentStatus{enums.PaymentStatusCreated, enums.PaymentStatusAuthorized},
			updates)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		// A failed payment closes the order; the buyer starts a fresh
		// checkout rather than retrying against a dead gateway order.
		moved, err := repo.Transition(ctx, order.ID,
			enums.OrderStatusPendingPayment, enums.OrderStatusCancelled, strPtr("payment failed: "+ev.Reason))
		if err != nil {
			return err
		}
		if moved {
			s.observeTransition(enums.OrderStatusCancelled)
			if _, err := s.payouts.WithTx(tx).ReverseForOrder(ctx, order.ID, "payment failed"); err != nil {
				return err
			}
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderStateChangedEvent{
				OrderID:  order.ID,
				ToStatus: enums.OrderStatusCancelled,
				Note:     "payment failed: " + ev.Reason,
			},
		}); err != nil {
			return err
		}
		applied = true
		return nil
	})
	s.observeEvent(ev.Name(), applied, err)
	return applied, err
}

func (s *Service) applyRefundProcessed(ctx context.Context, ev RefundProcessed) (bool, error) {
	applied := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		payment, err := repo.FindPaymentByGatewayPaymentID(ctx, ev.GatewayPaymentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return s.recordAnomaly(ctx, tx, uuid.Nil, ev.Name(), "", "no local payment for gateway payment "+ev.GatewayPaymentID)
			}
			return err
		}

		now := time.Now()
		// refund_pending is accepted because the webhook can land while an
		// API-initiated refund still holds the claim
		ok, err := repo.TransitionPayment(ctx, payment.ID,
			[]enums.PaymentStatus{enums.PaymentStatusCaptured, enums.PaymentStatusRefundPending},
			map[string]any{
				"status":              enums.PaymentStatusRefunded,
				"refunded_at":         now,
				"refund_amount_cents": ev.AmountCents,
				"gateway_refund_id":   ev.GatewayRefundID,
			})
		if err != nil {
			return err
		}
		if !ok {
			// refund already recorded locally (API path landed first)
			return nil
		}

		order, err := repo.FindByID(ctx, payment.OrderID)
		if err != nil {
			return err
		}
		// a cancelled order already unwound stock and payouts; it keeps
		// its cancelled status and only the payment record moves
		if order.Status != enums.OrderStatusCancelled {
			if _, err := repo.Transition(ctx, order.ID,
				order.Status, enums.OrderStatusRefunded, strPtr("refund processed")); err != nil {
				return err
			}
			s.observeTransition(enums.OrderStatusRefunded)
			if _, err := s.payouts.WithTx(tx).ReverseForOrder(ctx, order.ID, "order refunded"); err != nil {
				return err
			}
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderRefundedEvent{
				OrderID:         order.ID,
				GatewayRefundID: ev.GatewayRefundID,
				AmountCents:     ev.AmountCents,
				RefundedAt:      now,
			},
		}); err != nil {
			return err
		}
		applied = true
		return nil
	})
	s.observeEvent(ev.Name(), applied, err)
	return applied, err
}

func (s *Service) applyTransferProcessed(ctx context.Context, ev TransferProcessed) (bool, error) {
	applied := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.payouts.WithTx(tx)
		ok, err := repo.TransitionByTransfer(ctx, ev.TransferID,
			enums.PayoutStatusProcessing, enums.PayoutStatusCompleted, nil)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		payout, err := repo.FindByTransferID(ctx, ev.TransferID)
		if err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutCompleted,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payout.ID,
			Data: payloads.PayoutStatusEvent{
				PayoutID:   payout.ID,
				OrderID:    payout.OrderID,
				SellerID:   payout.SellerID,
				NetCents:   payout.NetCents,
				Status:     enums.PayoutStatusCompleted,
				TransferID: ev.TransferID,
			},
		}); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSellerSaleRecorded,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payout.ID,
			Data: payloads.SellerSaleRecordedEvent{
				OrderID:    payout.OrderID,
				SellerID:   payout.SellerID,
				GrossCents: payout.GrossCents,
				NetCents:   payout.NetCents,
				RecordedAt: time.Now(),
			},
		}); err != nil {
			return err
		}
		applied = true
		return nil
	})
	s.observeEvent(ev.Name(), applied, err)
	return applied, err
}

func (s *Service) applyTransferFailed(ctx context.Context, ev TransferFailed) (bool, error) {
	applied := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.payouts.WithTx(tx)
		ok, err := repo.TransitionByTransfer(ctx, ev.TransferID,
			enums.PayoutStatusProcessing, enums.PayoutStatusFailed, strPtr(ev.Reason))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		payout, err := repo.FindByTransferID(ctx, ev.TransferID)
		if err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutFailed,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payout.ID,
			Data: payloads.PayoutStatusEvent{
				PayoutID:   payout.ID,
				OrderID:    payout.OrderID,
				SellerID:   payout.SellerID,
				NetCents:   payout.NetCents,
				Status:     enums.PayoutStatusFailed,
				TransferID: ev.TransferID,
				Reason:     ev.Reason,
			},
		}); err != nil {
			return err
		}
		applied = true
		return nil
	})
	s.observeEvent(ev.Name(), applied, err)
	return applied, err
}

// VerifyPayment handles the client checkout callback: constant-time
// signature check, then an authoritative fetch from the gateway, then the
// same state machine the webhook path drives. Running both paths against
// identical preconditions is what lets them race safely.
func (s *Service) VerifyPayment(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) (*models.Order, error) {
	if err := s.gateway.VerifySignature(gatewayOrderID, gatewayPaymentID, signature); err != nil {
		return nil, err
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.callTimeout())
	defer cancel()
	info, err := s.gateway.FetchPayment(gwCtx, gatewayPaymentID)
	if err != nil {
		return nil, err
	}

	switch info.Status {
	case gateway.PaymentStatusCaptured:
		if _, err := s.Apply(ctx, PaymentCaptured{
			GatewayOrderID:   gatewayOrderID,
			GatewayPaymentID: gatewayPaymentID,
			AmountCents:      info.AmountCents,
		}); err != nil {
			return nil, err
		}
	case gateway.PaymentStatusAuthorized:
		if _, err := s.Apply(ctx, PaymentAuthorized{
			GatewayOrderID:   gatewayOrderID,
			GatewayPaymentID: gatewayPaymentID,
			AmountCents:      info.AmountCents,
		}); err != nil {
			return nil, err
		}
	case gateway.PaymentStatusFailed:
		if _, err := s.Apply(ctx, PaymentFailed{
			GatewayOrderID:   gatewayOrderID,
			GatewayPaymentID: gatewayPaymentID,
			Reason:           "reported failed on verification",
		}); err != nil {
			return nil, err
		}
	}

	order, err := s.orders.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}
	return order, nil
}

// Cancel stops an order that has not shipped. Stock and payouts are
// unwound in the same transaction as the status change; the refund happens
// after commit, because a gateway outage must not resurrect the order.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*CancelResult, error) {
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	var order *models.Order
	captured := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		var err error
		order, err = repo.FindByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return err
		}
		if !order.Status.IsCancellable() {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("order in status %s cannot be cancelled", order.Status))
		}

		applied, err := repo.Transition(ctx, order.ID, order.Status, enums.OrderStatusCancelled, strPtr(reason))
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order state changed concurrently")
		}
		s.observeTransition(enums.OrderStatusCancelled)
		if err := repo.SetCancelReason(ctx, order.ID, reason); err != nil {
			return err
		}

		captured = order.Payment != nil && order.Payment.Status == enums.PaymentStatusCaptured
		if captured {
			// stock was decremented at capture; give it back
			for _, item := range order.Items {
				if rerr := s.stock.Restore(ctx, tx, item.ProductID, item.Qty); rerr != nil {
					s.logg.Error(ctx, "stock restore failed during cancel", rerr)
					s.observeAnomaly("stock_restore_failed")
					if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
						EventType:     enums.EventStockNeedsReview,
						AggregateType: enums.AggregateOrder,
						AggregateID:   order.ID,
						Data: payloads.ManualReviewEvent{
							OrderID: order.ID,
							Kind:    "stock_restore_failed",
							Detail:  rerr.Error(),
						},
					}); err != nil {
						return err
					}
				}
			}
		}

		if _, err := s.payouts.WithTx(tx).ReverseForOrder(ctx, order.ID, "order cancelled"); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderCancelledEvent{
				OrderID:      order.ID,
				OrderNumber:  order.OrderNumber,
				CancelledAt:  time.Now(),
				Reason:       reason,
				RefundIssued: captured,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	result := &CancelResult{
		Status:         enums.OrderStatusCancelled,
		RefundEligible: captured,
	}
	if !captured {
		return result, nil
	}

	result.RefundAmountCents = order.GrandTotalCents
	if err := s.issueRefund(ctx, order, order.GrandTotalCents, "order cancelled"); err != nil {
		// the cancellation stands; the money needs an operator
		s.logg.Error(ctx, "refund failed after cancel", err)
		s.observeAnomaly("refund_failed_after_cancel")
		result.ManualIntervention = true
		if recErr := s.recordRefundFailure(ctx, order.ID, err); recErr != nil {
			s.logg.Error(ctx, "recording refund failure", recErr)
		}
	}
	return result, nil
}

// Refund is the admin path: money back without reopening fulfilment state.
// Partial amounts are allowed; the default is the full grand total.
func (s *Service) Refund(ctx context.Context, orderID uuid.UUID, amountCents int, reason string) (*RefundResult, error) {
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}
	if !order.Status.IsRefundable() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order in status %s cannot be refunded", order.Status))
	}
	if order.Payment != nil && order.Payment.Status == enums.PaymentStatusRefundPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refund already in progress")
	}
	if order.Payment == nil || order.Payment.Status != enums.PaymentStatusCaptured {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is not captured")
	}
	if amountCents == 0 {
		amountCents = order.GrandTotalCents
	}
	if amountCents < 0 || amountCents > order.GrandTotalCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount out of range")
	}

	// Claim the payment before the money moves. The conditional update is
	// what keeps a concurrent refund (admin retry or cancel) off the
	// gateway: only one caller wins captured -> refund_pending.
	if err := s.claimRefund(ctx, order.Payment.ID); err != nil {
		return nil, err
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.callTimeout())
	defer cancel()
	refund, err := s.gateway.CreateRefund(gwCtx, *order.Payment.GatewayPaymentID, amountCents,
		map[string]string{"reason": reason})
	if err != nil {
		s.releaseRefundClaim(ctx, order.Payment.ID)
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		now := time.Now()
		if _, err := repo.TransitionPayment(ctx, order.Payment.ID,
			[]enums.PaymentStatus{enums.PaymentStatusRefundPending},
			map[string]any{
				"status":              enums.PaymentStatusRefunded,
				"refunded_at":         now,
				"refund_amount_cents": amountCents,
				"gateway_refund_id":   refund.ID,
			}); err != nil {
			return err
		}
		applied, err := repo.Transition(ctx, order.ID, order.Status, enums.OrderStatusRefunded, strPtr(reason))
		if err != nil {
			return err
		}
		if applied {
			s.observeTransition(enums.OrderStatusRefunded)
		}
		if _, err := s.payouts.WithTx(tx).ReverseForOrder(ctx, order.ID, "order refunded"); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderRefundedEvent{
				OrderID:         order.ID,
				GatewayRefundID: refund.ID,
				AmountCents:     amountCents,
				RefundedAt:      now,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeManualIntervention, err,
			"refund issued at gateway but local state update failed")
	}

	return &RefundResult{RefundID: refund.ID, AmountCents: amountCents}, nil
}

// AdvanceFulfillment walks the forward path paid -> processing -> shipped
// -> delivered one step at a time.
func (s *Service) AdvanceFulfillment(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus) error {
	from, ok := fulfillmentPredecessor[to]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("%s is not a fulfilment status", to))
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		applied, err := repo.Transition(ctx, orderID, from, to, nil)
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("order is not in %s", from))
		}
		s.observeTransition(to)
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStateChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data: payloads.OrderStateChangedEvent{
				OrderID:    orderID,
				FromStatus: &from,
				ToStatus:   to,
			},
		})
	})
}

// MarkPayoutProcessing attaches a gateway transfer to a pending ledger row.
func (s *Service) MarkPayoutProcessing(ctx context.Context, payoutID uuid.UUID, transferID string) (bool, error) {
	applied := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.payouts.WithTx(tx)
		ok, err := repo.MarkProcessing(ctx, payoutID, transferID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		payout, err := repo.FindByTransferID(ctx, transferID)
		if err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutProcessing,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payout.ID,
			Data: payloads.PayoutStatusEvent{
				PayoutID:   payout.ID,
				OrderID:    payout.OrderID,
				SellerID:   payout.SellerID,
				NetCents:   payout.NetCents,
				Status:     enums.PayoutStatusProcessing,
				TransferID: transferID,
			},
		}); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

var fulfillmentPredecessor = map[enums.OrderStatus]enums.OrderStatus{
	enums.OrderStatusProcessing: enums.OrderStatusPaid,
	enums.OrderStatusShipped:    enums.OrderStatusProcessing,
	enums.OrderStatusDelivered:  enums.OrderStatusShipped,
}

// issueRefund requests the refund at the gateway and records it locally.
// It claims the payment first so a concurrent Refund call cannot issue a
// second gateway refund for the same payment.
func (s *Service) issueRefund(ctx context.Context, order *models.Order, amountCents int, reason string) error {
	if order.Payment == nil || order.Payment.GatewayPaymentID == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "captured payment has no gateway payment id")
	}
	if err := s.claimRefund(ctx, order.Payment.ID); err != nil {
		return err
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.callTimeout())
	defer cancel()
	refund, err := s.gateway.CreateRefund(gwCtx, *order.Payment.GatewayPaymentID, amountCents,
		map[string]string{"reason": reason})
	if err != nil {
		s.releaseRefundClaim(ctx, order.Payment.ID)
		return err
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := s.orders.WithTx(tx).TransitionPayment(ctx, order.Payment.ID,
			[]enums.PaymentStatus{enums.PaymentStatusRefundPending},
			map[string]any{
				"status":              enums.PaymentStatusRefunded,
				"refunded_at":         time.Now(),
				"refund_amount_cents": amountCents,
				"gateway_refund_id":   refund.ID,
			})
		return err
	})
}

// claimRefund moves the payment captured -> refund_pending. The conditional
// update guarantees at most one in-flight refund per payment.
func (s *Service) claimRefund(ctx context.Context, paymentID uuid.UUID) error {
	var claimed bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.orders.WithTx(tx).TransitionPayment(ctx, paymentID,
			[]enums.PaymentStatus{enums.PaymentStatusCaptured},
			map[string]any{"status": enums.PaymentStatusRefundPending})
		if err != nil {
			return err
		}
		claimed = ok
		return nil
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claiming refund")
	}
	if !claimed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "refund already in progress")
	}
	return nil
}

// releaseRefundClaim returns the payment to captured after a failed gateway
// call. If the release does not apply the refund webhook won the race and
// already completed the payment, which needs no correction.
func (s *Service) releaseRefundClaim(ctx context.Context, paymentID uuid.UUID) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := s.orders.WithTx(tx).TransitionPayment(ctx, paymentID,
			[]enums.PaymentStatus{enums.PaymentStatusRefundPending},
			map[string]any{"status": enums.PaymentStatusCaptured})
		return err
	})
	if err != nil {
		s.logg.Error(ctx, "releasing refund claim failed", err)
	}
}

func (s *Service) recordRefundFailure(ctx context.Context, orderID uuid.UUID, cause error) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundNeedsReview,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data: payloads.ManualReviewEvent{
				OrderID: orderID,
				Kind:    "refund_failed_after_cancel",
				Detail:  cause.Error(),
			},
		})
	})
}

// recordAnomaly emits the anomaly outbox event and counts it. It returns
// nil so the surrounding transaction commits the record.
func (s *Service) recordAnomaly(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, eventName, localStatus, detail string) error {
	s.observeAnomaly(eventName)
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSettlementAnomaly,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Data: payloads.SettlementAnomalyEvent{
			OrderID:     orderID,
			EventType:   eventName,
			LocalStatus: localStatus,
			Detail:      detail,
		},
	})
}

func (s *Service) observeEvent(name string, applied bool, err error) {
	outcome := "applied"
	switch {
	case err != nil:
		outcome = "failed"
	case !applied:
		outcome = "ignored"
	}
	s.metrics.ObserveWebhookEvent(name, outcome)
}

func (s *Service) observeTransition(to enums.OrderStatus) {
	s.metrics.ObserveTransition(to.String())
}

func (s *Service) observeAnomaly(kind string) {
	s.metrics.ObserveAnomaly(kind)
}

func (s *Service) callTimeout() time.Duration {
	if s.gwCfg.CallTimeout > 0 {
		return s.gwCfg.CallTimeout
	}
	return 10 * time.Second
}

func strPtr(s string) *string {
	return &s
}
