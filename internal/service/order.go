package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flicky/go-storefront-api/internal/apperr"
	"github.com/flicky/go-storefront-api/internal/dto"
	"github.com/flicky/go-storefront-api/internal/events"
	"github.com/flicky/go-storefront-api/internal/model"
	"github.com/flicky/go-storefront-api/internal/repository"
)

type OrderService struct {
	orderRepo   repository.OrderRepository
	productRepo repository.ProductRepository
	cache       ProductCache
	publisher   events.Publisher
	log         *slog.Logger
}

// NewOrderService builds the order service. cache may be nil when product
// reads are not cached.
func NewOrderService(orderRepo repository.OrderRepository, productRepo repository.ProductRepository, cache ProductCache, publisher events.Publisher, log *slog.Logger) *OrderService {
	return &OrderService{orderRepo: orderRepo, productRepo: productRepo, cache: cache, publisher: publisher, log: log}
}

// CreateOrder validates the request against the current catalog, then stores
// the order and decrements stock in one transaction. Nothing is written when
// any check fails.
func (s *OrderService) CreateOrder(ctx context.Context, userID uuid.UUID, req dto.CreateOrderRequest) (*model.Order, error) {
	if userID == uuid.Nil {
		return nil, apperr.Unauthorized()
	}
	if len(req.Items) == 0 {
		return nil, apperr.InvalidRequest("order items are required")
	}
	if !req.TotalAmount.IsPositive() {
		return nil, apperr.InvalidRequest("valid total amount is required")
	}

	var ids []uuid.UUID
	requested := make(map[uuid.UUID]int, len(req.Items))
	for i, item := range req.Items {
		if item.ProductID == uuid.Nil {
			return nil, apperr.InvalidRequest("item %d: product_id is required", i).With("index", i)
		}
		if item.Quantity <= 0 {
			return nil, apperr.InvalidRequest("item %d: quantity must be positive", i).With("index", i)
		}
		if item.Price.IsNegative() {
			return nil, apperr.InvalidRequest("item %d: price must not be negative", i).With("index", i)
		}
		if _, seen := requested[item.ProductID]; !seen {
			ids = append(ids, item.ProductID)
		}
		requested[item.ProductID] += item.Quantity
	}

	products, err := s.productRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("resolve products: %w", err))
	}
	byID := make(map[uuid.UUID]model.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	var missing []string
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id.String())
		}
	}
	if len(missing) > 0 {
		return nil, apperr.NotFound("products not found: %s", strings.Join(missing, ", ")).
			With("product_ids", missing)
	}

	for _, id := range ids {
		p := byID[id]
		if requested[id] > p.Stock {
			return nil, apperr.InsufficientStock(p.ID, p.Name, requested[id], p.Stock)
		}
	}

	items := make([]model.OrderItem, 0, len(req.Items))
	total := decimal.Zero
	for _, item := range req.Items {
		p := byID[item.ProductID]
		if !item.Price.Equal(p.Price) {
			return nil, apperr.InvalidRequest("price of %s changed to %s", p.Name, p.Price.StringFixed(2)).
				With("product_id", p.ID.String()).
				With("price", p.Price.String())
		}
		line := model.OrderItem{ProductID: p.ID, Quantity: item.Quantity, Price: p.Price}
		total = total.Add(line.Subtotal())
		items = append(items, line)
	}
	if !req.TotalAmount.Equal(total) {
		return nil, apperr.InvalidRequest("total amount %s does not match items total %s",
			req.TotalAmount.String(), total.StringFixed(2))
	}

	order := &model.Order{
		UserID:      userID,
		Status:      model.OrderStatusPending,
		TotalAmount: total,
		Items:       items,
	}
	if err := s.orderRepo.Create(ctx, order); err != nil {
		var stockErr *repository.InsufficientStockError
		if errors.As(err, &stockErr) {
			return nil, s.raceLost(ctx, byID[stockErr.ProductID], requested[stockErr.ProductID])
		}
		return nil, apperr.Internal(fmt.Errorf("create order: %w", err))
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, ids...)
	}

	created, err := s.orderRepo.GetByID(ctx, order.ID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("reload order: %w", err))
	}
	if created == nil {
		return nil, apperr.Internal(fmt.Errorf("reload order %s: %w", order.ID, repository.ErrNotFound))
	}

	s.publish(ctx, events.NewOrderEvent(events.OrderCreated, created))
	return created, nil
}

// raceLost reports a stock decrement that failed inside the transaction,
// with the stock as it stands after the competing order.
func (s *OrderService) raceLost(ctx context.Context, p model.Product, requested int) error {
	available := 0
	if current, err := s.productRepo.GetByID(ctx, p.ID); err == nil && current != nil {
		available = current.Stock
	}
	return apperr.InsufficientStock(p.ID, p.Name, requested, available)
}

func (s *OrderService) GetByID(ctx context.Context, orderID, userID uuid.UUID) (*model.Order, error) {
	if userID == uuid.Nil {
		return nil, apperr.Unauthorized()
	}
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("get order: %w", err))
	}
	if order == nil || order.UserID != userID {
		return nil, apperr.NotFound("order not found")
	}
	return order, nil
}

func (s *OrderService) ListByUserID(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	if userID == uuid.Nil {
		return nil, apperr.Unauthorized()
	}
	orders, err := s.orderRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("list orders: %w", err))
	}
	return orders, nil
}

func (s *OrderService) publish(ctx context.Context, e events.OrderEvent) {
	publishEvent(ctx, s.publisher, s.log, e)
}

func publishEvent(ctx context.Context, publisher events.Publisher, log *slog.Logger, e events.OrderEvent) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, e); err != nil {
		log.Error("publish order event", "type", e.Type, "order_id", e.OrderID, "error", err)
	}
}
