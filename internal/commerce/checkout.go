package commerce

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Order statuses.
const (
	OrderPendingPayment = "pending_payment"
)

// FreeShippingThreshold is the cart total above which shipping is free.
const FreeShippingThreshold int64 = 9900

// ShippingFee is charged below FreeShippingThreshold.
const ShippingFee int64 = 990

// Order is created from a cart when checkout starts.
type Order struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"sessionId"`
	Items       []CartItem `json:"items"`
	Subtotal    int64      `json:"subtotal"`
	Shipping    int64      `json:"shipping"`
	Total       int64      `json:"total"`
	Status      string     `json:"status"`
	CheckoutURL string     `json:"checkoutUrl"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Checkout turns carts into orders and reserves stock.
type Checkout struct {
	mu      sync.Mutex
	catalog *Catalog
	carts   *Carts
	orders  map[string]Order
}

// NewCheckout creates a checkout over the given catalog and carts.
func NewCheckout(catalog *Catalog, carts *Carts) *Checkout {
	return &Checkout{catalog: catalog, carts: carts, orders: make(map[string]Order)}
}

// Start creates a pending order from the session's cart, reserves its
// stock, and empties the cart. Nothing is reserved if any line fails.
func (c *Checkout) Start(sessionID string) (Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cart := c.carts.Get(sessionID)
	if len(cart.Items) == 0 {
		return Order{}, ErrEmptyCart
	}

	var reserved []CartItem
	for _, item := range cart.Items {
		if err := c.catalog.reserve(item.ProductID, item.Quantity); err != nil {
			for _, r := range reserved {
				_ = c.catalog.reserve(r.ProductID, -r.Quantity)
			}
			return Order{}, fmt.Errorf("reserve %s: %w", item.ProductID, err)
		}
		reserved = append(reserved, item)
	}

	subtotal := cart.Total()
	shipping := ShippingFee
	if subtotal >= FreeShippingThreshold {
		shipping = 0
	}
	id := uuid.Must(uuid.NewV7()).String()
	order := Order{
		ID:          id,
		SessionID:   sessionID,
		Items:       cart.Items,
		Subtotal:    subtotal,
		Shipping:    shipping,
		Total:       subtotal + shipping,
		Status:      OrderPendingPayment,
		CheckoutURL: "/checkout/" + id,
		CreatedAt:   time.Now().UTC(),
	}
	c.orders[id] = order
	c.carts.Clear(sessionID)
	return order, nil
}

// Order returns a previously created order.
func (c *Checkout) Order(id string) (Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[id]
	return o, ok
}
