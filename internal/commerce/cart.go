package commerce

import (
	"fmt"
	"sync"
	"time"
)

// CartItem is one product line in a cart. UnitPrice is captured when the
// line is added or changed.
type CartItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
}

// Subtotal is the line total in centavos.
func (i CartItem) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Cart is a snapshot of one session's cart.
type Cart struct {
	SessionID string     `json:"sessionId"`
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Total sums all lines in centavos.
func (c Cart) Total() int64 {
	var t int64
	for _, i := range c.Items {
		t += i.Subtotal()
	}
	return t
}

// Count is the number of units across all lines.
func (c Cart) Count() int {
	n := 0
	for _, i := range c.Items {
		n += i.Quantity
	}
	return n
}

// Carts holds one cart per session. All mutations of a cart happen under
// the store lock, so concurrent tool calls cannot interleave.
type Carts struct {
	mu      sync.Mutex
	catalog *Catalog
	carts   map[string]*Cart
	now     func() time.Time
}

// NewCarts creates an empty cart store backed by catalog.
func NewCarts(catalog *Catalog) *Carts {
	return &Carts{
		catalog: catalog,
		carts:   make(map[string]*Cart),
		now:     time.Now,
	}
}

// Get returns a snapshot of the session's cart, empty if none exists.
func (s *Carts) Get(sessionID string) Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(sessionID)
}

func (s *Carts) snapshot(sessionID string) Cart {
	c, ok := s.carts[sessionID]
	if !ok {
		return Cart{SessionID: sessionID, Items: []CartItem{}}
	}
	out := *c
	out.Items = append([]CartItem(nil), c.Items...)
	return out
}

func (s *Carts) cart(sessionID string) *Cart {
	c, ok := s.carts[sessionID]
	if !ok {
		c = &Cart{SessionID: sessionID}
		s.carts[sessionID] = c
	}
	return c
}

// Add puts qty units of a product in the cart, merging with an existing
// line. The resulting quantity must fit in stock.
func (s *Carts) Add(sessionID, productID string, qty int) (Cart, error) {
	if qty <= 0 {
		return Cart{}, ErrInvalidQuantity
	}
	p, err := s.catalog.Get(productID)
	if err != nil {
		return Cart{}, err
	}
	if p.RequiresPrescription {
		return Cart{}, fmt.Errorf("%w: %s", ErrPrescriptionRequired, p.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cart(sessionID)
	for i := range c.Items {
		if c.Items[i].ProductID != productID {
			continue
		}
		if c.Items[i].Quantity+qty > p.Stock {
			return Cart{}, fmt.Errorf("%w: %s has %d units", ErrOutOfStock, p.Name, p.Stock)
		}
		c.Items[i].Quantity += qty
		c.Items[i].UnitPrice = p.EffectivePrice()
		c.UpdatedAt = s.now()
		return s.snapshot(sessionID), nil
	}

	if qty > p.Stock {
		return Cart{}, fmt.Errorf("%w: %s has %d units", ErrOutOfStock, p.Name, p.Stock)
	}
	c.Items = append(c.Items, CartItem{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.EffectivePrice(),
		Quantity:  qty,
	})
	c.UpdatedAt = s.now()
	return s.snapshot(sessionID), nil
}

// SetQuantity changes a line's quantity. Zero removes the line.
func (s *Carts) SetQuantity(sessionID, productID string, qty int) (Cart, error) {
	if qty < 0 {
		return Cart{}, ErrInvalidQuantity
	}
	if qty == 0 {
		return s.Remove(sessionID, productID)
	}
	p, err := s.catalog.Get(productID)
	if err != nil {
		return Cart{}, err
	}
	if qty > p.Stock {
		return Cart{}, fmt.Errorf("%w: %s has %d units", ErrOutOfStock, p.Name, p.Stock)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cart(sessionID)
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity = qty
			c.Items[i].UnitPrice = p.EffectivePrice()
			c.UpdatedAt = s.now()
			return s.snapshot(sessionID), nil
		}
	}
	return Cart{}, fmt.Errorf("%w: %s", ErrNotInCart, productID)
}

// Remove deletes a product line.
func (s *Carts) Remove(sessionID, productID string) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cart(sessionID)
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			c.UpdatedAt = s.now()
			return s.snapshot(sessionID), nil
		}
	}
	return Cart{}, fmt.Errorf("%w: %s", ErrNotInCart, productID)
}

// Clear empties the session's cart.
func (s *Carts) Clear(sessionID string) Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, sessionID)
	return s.snapshot(sessionID)
}
