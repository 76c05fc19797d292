package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/flicky/go-storefront-api/internal/apperr"
	"github.com/flicky/go-storefront-api/internal/dto"
	"github.com/flicky/go-storefront-api/internal/events"
	"github.com/flicky/go-storefront-api/internal/model"
	"github.com/flicky/go-storefront-api/internal/payment"
	"github.com/flicky/go-storefront-api/internal/repository"
)

type PaymentResult struct {
	PaymentID string
	Message   string
	Order     *model.Order
}

type PaymentService struct {
	orderRepo repository.OrderRepository
	gateways  *payment.Registry
	publisher events.Publisher
	log       *slog.Logger
}

func NewPaymentService(orderRepo repository.OrderRepository, gateways *payment.Registry, publisher events.Publisher, log *slog.Logger) *PaymentService {
	return &PaymentService{orderRepo: orderRepo, gateways: gateways, publisher: publisher, log: log}
}

// ProcessPayment charges the order through the requested gateway and marks it
// PAID. The order row stays locked from the status check until the status
// update, so concurrent attempts for the same order charge the gateway once.
func (s *PaymentService) ProcessPayment(ctx context.Context, userID uuid.UUID, req dto.PaymentRequest) (*PaymentResult, error) {
	if userID == uuid.Nil {
		return nil, apperr.Unauthorized()
	}
	if req.OrderID == uuid.Nil || !req.Amount.IsPositive() || req.PaymentMethod == "" {
		return nil, apperr.InvalidRequest("order_id, amount and payment_method are required")
	}
	gateway, err := s.gateways.Lookup(req.PaymentMethod)
	if err != nil {
		return nil, apperr.InvalidRequest("unsupported payment method: %s", req.PaymentMethod).
			With("supported", s.gateways.Methods())
	}

	var result payment.Result
	charge := func(ctx context.Context, order *model.Order) error {
		switch order.Status {
		case model.OrderStatusPending:
		case model.OrderStatusPaid:
			return apperr.AlreadyPaid()
		default:
			return apperr.InvalidState("order cannot be paid in status %s", order.Status)
		}
		if !req.Amount.Equal(order.TotalAmount) {
			return apperr.AmountMismatch().
				With("expected", order.TotalAmount.String()).
				With("received", req.Amount.String())
		}

		res, err := gateway.Charge(ctx, payment.Charge{OrderID: order.ID, Amount: order.TotalAmount})
		if err != nil {
			return apperr.Internal(fmt.Errorf("charge %s: %w", gateway.Method(), err))
		}
		if !res.Success {
			return apperr.GatewayRejected(res.Message).With("order_id", order.ID.String())
		}
		result = res
		return nil
	}

	if err := s.orderRepo.Pay(ctx, req.OrderID, userID, charge); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, apperr.NotFound("order not found")
		case errors.Is(err, repository.ErrStatusConflict):
			return nil, apperr.AlreadyPaid()
		}
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			if appErr.Kind == apperr.KindGatewayRejected {
				s.log.Info("payment rejected", "order_id", req.OrderID, "method", gateway.Method(), "reason", appErr.Message)
			}
			return nil, appErr
		}
		return nil, apperr.Internal(fmt.Errorf("pay order: %w", err))
	}

	s.log.Info("payment captured", "order_id", req.OrderID, "method", gateway.Method(), "payment_id", result.PaymentID)

	order, err := s.orderRepo.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("reload paid order: %w", err))
	}
	if order == nil {
		return nil, apperr.Internal(fmt.Errorf("reload paid order %s: %w", req.OrderID, repository.ErrNotFound))
	}

	e := events.NewOrderEvent(events.OrderPaid, order)
	e.PaymentID = result.PaymentID
	publishEvent(ctx, s.publisher, s.log, e)

	return &PaymentResult{PaymentID: result.PaymentID, Message: result.Message, Order: order}, nil
}
