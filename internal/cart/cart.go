// Package cart holds the shopper's basket on the client. It is persisted
// through a Store after every change and only reaches the server at checkout,
// as a create-order request.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flicky/go-storefront-api/internal/dto"
)

var (
	ErrEmpty           = errors.New("cart is empty")
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// Item is a product line with the price and stock seen when it was added.
type Item struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Stock     int             `json:"stock"`
	Image     *string         `json:"image,omitempty"`
}

type Store interface {
	Load(ctx context.Context) ([]Item, error)
	Save(ctx context.Context, items []Item) error
}

type Cart struct {
	mu    sync.Mutex
	items []Item
	store Store
}

// New loads the persisted snapshot. An unreadable snapshot is logged and
// the cart starts empty.
func New(ctx context.Context, store Store, log *slog.Logger) *Cart {
	c := &Cart{store: store}
	items, err := store.Load(ctx)
	if err != nil {
		log.Warn("discarding unreadable cart", "error", err)
		return c
	}
	for _, it := range items {
		if it.ProductID != uuid.Nil && it.Quantity > 0 {
			c.items = append(c.items, it)
		}
	}
	return c
}

// Add merges item into the cart. A line already present takes the incoming
// name, price, stock and image snapshot, and the summed quantity is capped at
// that stock.
func (c *Cart) Add(ctx context.Context, item Item) error {
	if item.Quantity <= 0 {
		return ErrInvalidQuantity
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.index(item.ProductID); i >= 0 {
		item.Quantity = min(c.items[i].Quantity+item.Quantity, item.Stock)
		if item.Quantity <= 0 {
			c.items = slices.Delete(c.items, i, i+1)
		} else {
			c.items[i] = item
		}
	} else {
		item.Quantity = min(item.Quantity, item.Stock)
		if item.Quantity == 0 {
			return nil
		}
		c.items = append(c.items, item)
	}
	return c.save(ctx)
}

// UpdateQuantity clamps quantity to [0, stock]. A line reaching zero is removed.
func (c *Cart) UpdateQuantity(ctx context.Context, productID uuid.UUID, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.index(productID)
	if i < 0 {
		return nil
	}
	q := min(max(quantity, 0), c.items[i].Stock)
	if q == 0 {
		c.items = slices.Delete(c.items, i, i+1)
	} else {
		c.items[i].Quantity = q
	}
	return c.save(ctx)
}

func (c *Cart) Remove(ctx context.Context, productID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = slices.DeleteFunc(c.items, func(it Item) bool { return it.ProductID == productID })
	return c.save(ctx)
}

func (c *Cart) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = nil
	return c.save(ctx)
}

func (c *Cart) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.items)
}

func (c *Cart) TotalAmount() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := decimal.Zero
	for _, it := range c.items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

func (c *Cart) TotalItems() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, it := range c.items {
		n += it.Quantity
	}
	return n
}

// Checkout builds the create-order request for the current contents.
func (c *Cart) Checkout() (dto.CreateOrderRequest, error) {
	items := c.Items()
	if len(items) == 0 {
		return dto.CreateOrderRequest{}, ErrEmpty
	}
	req := dto.CreateOrderRequest{
		Items:       make([]dto.CreateOrderItem, 0, len(items)),
		TotalAmount: c.TotalAmount(),
	}
	for _, it := range items {
		req.Items = append(req.Items, dto.CreateOrderItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price,
		})
	}
	return req, nil
}

func (c *Cart) index(productID uuid.UUID) int {
	return slices.IndexFunc(c.items, func(it Item) bool { return it.ProductID == productID })
}

func (c *Cart) save(ctx context.Context) error {
	if err := c.store.Save(ctx, slices.Clone(c.items)); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}
