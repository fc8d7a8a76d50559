// Package commerce implements the in-process storefront backends the
// agent's tools call: product catalog, carts, checkout, and budget
// planning. State is held in memory and keyed by session ID.
package commerce

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Sentinel errors returned by the commerce backends. Tool handlers turn
// them into failed tool results.
var (
	ErrProductNotFound      = errors.New("product not found")
	ErrOutOfStock           = errors.New("insufficient stock")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrPrescriptionRequired = errors.New("product requires a retained prescription")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrNotInCart            = errors.New("product is not in the cart")
)

// Product is one sellable catalog item. Prices are in centavos.
type Product struct {
	ID                   string   `yaml:"id" json:"id"`
	Name                 string   `yaml:"name" json:"name"`
	Description          string   `yaml:"description" json:"description,omitempty"`
	Category             string   `yaml:"category" json:"category"`
	Price                int64    `yaml:"price" json:"price"`
	PromoPrice           int64    `yaml:"promo_price" json:"promoPrice,omitempty"`
	Stock                int      `yaml:"stock" json:"stock"`
	RequiresPrescription bool     `yaml:"requires_prescription" json:"requiresPrescription,omitempty"`
	Symptoms             []string `yaml:"symptoms" json:"symptoms,omitempty"`
	Tags                 []string `yaml:"tags" json:"tags,omitempty"`
}

// OnPromotion reports whether the product has an active promo price.
func (p Product) OnPromotion() bool {
	return p.PromoPrice > 0 && p.PromoPrice < p.Price
}

// EffectivePrice is the price charged today.
func (p Product) EffectivePrice() int64 {
	if p.OnPromotion() {
		return p.PromoPrice
	}
	return p.Price
}

// Catalog is a concurrency-safe product index.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]*Product
	order    []string
}

// NewCatalog builds a catalog from products. Later duplicates replace
// earlier ones.
func NewCatalog(products []Product) *Catalog {
	c := &Catalog{products: make(map[string]*Product)}
	for i := range products {
		p := products[i]
		if _, exists := c.products[p.ID]; !exists {
			c.order = append(c.order, p.ID)
		}
		c.products[p.ID] = &p
	}
	return c
}

type seedFile struct {
	Products []Product `yaml:"products"`
}

// LoadCatalog reads a YAML seed file. An empty path returns the built-in
// demo catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(DefaultProducts()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog seed: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse catalog seed %s: %w", path, err)
	}
	for i, p := range seed.Products {
		if p.ID == "" || p.Name == "" {
			return nil, fmt.Errorf("catalog seed %s: product %d needs id and name", path, i)
		}
		if p.Price <= 0 {
			return nil, fmt.Errorf("catalog seed %s: product %s needs a positive price", path, p.ID)
		}
	}
	return NewCatalog(seed.Products), nil
}

// Len returns the number of products.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.products)
}

// Get returns a copy of the product with the given ID.
func (c *Catalog) Get(id string) (Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return *p, nil
}

// reserve decrements stock by qty. A negative qty returns stock.
func (c *Catalog) reserve(id string, qty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	if qty > p.Stock {
		return fmt.Errorf("%w: %s has %d units", ErrOutOfStock, p.Name, p.Stock)
	}
	p.Stock -= qty
	return nil
}

// Search ranks products against query by name, tag, category, and
// description matches. Accents and case are ignored.
func (c *Catalog) Search(query string, limit int) []Product {
	terms := strings.Fields(Fold(query))
	if len(terms) == 0 {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	type scored struct {
		p     Product
		score int
	}
	var hits []scored
	for _, id := range c.order {
		p := c.products[id]
		name := Fold(p.Name)
		tags := Fold(strings.Join(p.Tags, " "))
		category := Fold(p.Category)
		desc := Fold(p.Description)

		score := 0
		for _, t := range terms {
			if len(t) < 3 || stopwords[t] {
				continue
			}
			switch {
			case strings.Contains(name, t):
				score += 10
			case strings.Contains(tags, t):
				score += 5
			case strings.Contains(category, t):
				score += 3
			case strings.Contains(desc, t):
				score += 1
			}
		}
		if score > 0 {
			hits = append(hits, scored{*p, score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	out := make([]Product, 0, len(hits))
	for _, h := range hits {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, h.p)
	}
	return out
}

// stopwords are ignored as search terms.
var stopwords = map[string]bool{
	"com": true, "para": true, "uma": true, "tem": true, "que": true,
	"dos": true, "das": true, "por": true, "voce": true, "quero": true,
}

// Promotions lists products with an active promo price, largest
// discount first.
func (c *Catalog) Promotions() []Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Product
	for _, id := range c.order {
		if p := c.products[id]; p.OnPromotion() && p.Stock > 0 {
			out = append(out, *p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Price-out[i].PromoPrice > out[j].Price-out[j].PromoPrice
	})
	return out
}

// BySymptom lists in-stock, over-the-counter products indicated for a
// symptom.
func (c *Catalog) BySymptom(symptom string) []Product {
	s := Fold(symptom)
	if s == "" {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Product
	for _, id := range c.order {
		p := c.products[id]
		if p.RequiresPrescription || p.Stock == 0 {
			continue
		}
		for _, sym := range p.Symptoms {
			f := Fold(sym)
			if strings.Contains(s, f) || strings.Contains(f, s) {
				out = append(out, *p)
				break
			}
		}
	}
	return out
}

// All returns every product in catalog order.
func (c *Catalog) All() []Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Product, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.products[id])
	}
	return out
}

// Fold lower-cases s and strips diacritics so "Promoção" matches
// "promocao".
func Fold(s string) string {
	// Chained transformers keep state, so each call builds its own.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

// FormatBRL renders centavos as "R$ 12,90".
func FormatBRL(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%sR$ %d,%02d", sign, cents/100, cents%100)
}
