package commerce

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testCatalog() *Catalog {
	return NewCatalog([]Product{
		{ID: "dip", Name: "Dipirona 500mg", Category: "analgésicos", Price: 890, PromoPrice: 690, Stock: 5, Symptoms: []string{"dor", "febre"}, Tags: []string{"dipirona"}},
		{ID: "par", Name: "Paracetamol 750mg", Category: "analgésicos", Price: 1450, Stock: 10, Symptoms: []string{"dor de cabeça", "febre"}},
		{ID: "amox", Name: "Amoxicilina 500mg", Category: "antibióticos", Price: 3290, Stock: 5, RequiresPrescription: true},
		{ID: "prot", Name: "Protetor Solar FPS 50", Category: "dermocosméticos", Price: 5990, PromoPrice: 4790, Stock: 2},
	})
}

func TestSearch(t *testing.T) {
	c := testCatalog()

	tests := []struct {
		query   string
		wantIDs []string
	}{
		{"dipirona", []string{"dip"}},
		{"DIPIRONA", []string{"dip"}},
		{"analgésicos", []string{"dip", "par"}},
		{"analgesicos", []string{"dip", "par"}},
		{"protetor solar", []string{"prot"}},
		{"xyz", nil},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := c.Search(tt.query, 10)
			var ids []string
			for _, p := range got {
				ids = append(ids, p.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("Search(%q) = %v, want %v", tt.query, ids, tt.wantIDs)
			}
		})
	}

	if got := c.Search("analgésicos", 1); len(got) != 1 {
		t.Errorf("limit ignored: got %d results", len(got))
	}
}

func TestPromotions(t *testing.T) {
	got := testCatalog().Promotions()
	if len(got) != 2 {
		t.Fatalf("Promotions = %d products, want 2", len(got))
	}
	if got[0].ID != "prot" {
		t.Errorf("largest discount should come first, got %s", got[0].ID)
	}
}

func TestBySymptom(t *testing.T) {
	got := testCatalog().BySymptom("febre")
	if len(got) != 2 {
		t.Fatalf("BySymptom(febre) = %d, want 2", len(got))
	}
	if got := testCatalog().BySymptom("dor de cabeça forte"); len(got) == 0 {
		t.Error("symptom contained in a longer phrase should match")
	}
}

func TestFold(t *testing.T) {
	if got := Fold("  Promoção Ação "); got != "promocao acao" {
		t.Errorf("Fold = %q", got)
	}
}

func TestFormatBRL(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{890, "R$ 8,90"},
		{100000, "R$ 1000,00"},
		{5, "R$ 0,05"},
		{-250, "-R$ 2,50"},
	}
	for _, tt := range tests {
		if got := FormatBRL(tt.cents); got != tt.want {
			t.Errorf("FormatBRL(%d) = %q, want %q", tt.cents, got, tt.want)
		}
	}
}

func TestCarts(t *testing.T) {
	c := testCatalog()
	carts := NewCarts(c)

	cart, err := carts.Add("s1", "dip", 2)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if cart.Count() != 2 || cart.Total() != 1380 {
		t.Errorf("cart count=%d total=%d, want 2 / 1380 (promo price)", cart.Count(), cart.Total())
	}

	cart, err = carts.Add("s1", "dip", 3)
	if err != nil {
		t.Fatalf("Add merge: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 5 {
		t.Errorf("expected merged line of 5, got %+v", cart.Items)
	}

	if _, err := carts.Add("s1", "dip", 1); !errors.Is(err, ErrOutOfStock) {
		t.Errorf("Add beyond stock err = %v, want ErrOutOfStock", err)
	}
	if _, err := carts.Add("s1", "amox", 1); !errors.Is(err, ErrPrescriptionRequired) {
		t.Errorf("Add prescription err = %v", err)
	}
	if _, err := carts.Add("s1", "nope", 1); !errors.Is(err, ErrProductNotFound) {
		t.Errorf("Add unknown err = %v", err)
	}
	if _, err := carts.Add("s1", "dip", 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("Add zero err = %v", err)
	}

	if cart, err = carts.SetQuantity("s1", "dip", 1); err != nil || cart.Count() != 1 {
		t.Errorf("SetQuantity: cart=%+v err=%v", cart, err)
	}
	if _, err := carts.SetQuantity("s1", "par", 1); !errors.Is(err, ErrNotInCart) {
		t.Errorf("SetQuantity missing line err = %v", err)
	}

	if got := carts.Get("s2"); len(got.Items) != 0 {
		t.Error("carts must be isolated per session")
	}

	if cart, err = carts.SetQuantity("s1", "dip", 0); err != nil || len(cart.Items) != 0 {
		t.Errorf("SetQuantity 0 should remove: cart=%+v err=%v", cart, err)
	}
	if _, err := carts.Remove("s1", "dip"); !errors.Is(err, ErrNotInCart) {
		t.Errorf("Remove missing err = %v", err)
	}

	carts.Add("s1", "par", 1)
	if got := carts.Clear("s1"); len(got.Items) != 0 {
		t.Error("Clear should empty the cart")
	}
}

func TestCarts_SnapshotIsolation(t *testing.T) {
	carts := NewCarts(testCatalog())
	cart, _ := carts.Add("s1", "dip", 1)
	cart.Items[0].Quantity = 99
	if got := carts.Get("s1"); got.Items[0].Quantity != 1 {
		t.Error("mutating a snapshot changed the stored cart")
	}
}

func TestCheckout(t *testing.T) {
	c := testCatalog()
	carts := NewCarts(c)
	co := NewCheckout(c, carts)

	if _, err := co.Start("s1"); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("empty checkout err = %v", err)
	}

	carts.Add("s1", "dip", 2)
	carts.Add("s1", "prot", 2)
	order, err := co.Start("s1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if order.Subtotal != 2*690+2*4790 {
		t.Errorf("subtotal = %d", order.Subtotal)
	}
	if order.Shipping != 0 {
		t.Errorf("shipping = %d, want free above threshold", order.Shipping)
	}
	if order.Status != OrderPendingPayment || !strings.HasPrefix(order.CheckoutURL, "/checkout/") {
		t.Errorf("order = %+v", order)
	}
	if got := carts.Get("s1"); len(got.Items) != 0 {
		t.Error("checkout should empty the cart")
	}
	if p, _ := c.Get("prot"); p.Stock != 0 {
		t.Errorf("stock after checkout = %d, want 0", p.Stock)
	}
	if _, ok := co.Order(order.ID); !ok {
		t.Error("order not retrievable")
	}
}

func TestCheckout_RollsBackReservation(t *testing.T) {
	c := testCatalog()
	carts := NewCarts(c)
	co := NewCheckout(c, carts)

	carts.Add("s1", "dip", 1)
	carts.Add("s1", "prot", 2)
	// Another buyer takes the sunscreen first.
	carts.Add("s2", "prot", 1)
	if _, err := co.Start("s2"); err != nil {
		t.Fatalf("Start s2: %v", err)
	}

	if _, err := co.Start("s1"); !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("Start s1 err = %v, want ErrOutOfStock", err)
	}
	if p, _ := c.Get("dip"); p.Stock != 5 {
		t.Errorf("dipirona stock = %d, reservation not rolled back", p.Stock)
	}
	if got := carts.Get("s1"); len(got.Items) != 2 {
		t.Error("failed checkout must keep the cart")
	}
}

func TestPlanBudget(t *testing.T) {
	c := testCatalog()

	plan := c.PlanBudget(2000, []string{"febre", "protetor solar"})
	if len(plan.Items) != 1 || plan.Items[0].ID != "dip" {
		t.Fatalf("items = %+v, want only dipirona", plan.Items)
	}
	if plan.Total != 690 || plan.Remaining != 1310 {
		t.Errorf("total=%d remaining=%d", plan.Total, plan.Remaining)
	}
	if len(plan.Unmet) != 1 || plan.Unmet[0] != "protetor solar" {
		t.Errorf("unmet = %v", plan.Unmet)
	}

	plan = c.PlanBudget(10000, []string{"febre", "dor"})
	if len(plan.Items) != 2 {
		t.Errorf("two needs should pick two distinct products, got %+v", plan.Items)
	}

	plan = c.PlanBudget(10000, []string{"antibiótico"})
	if len(plan.Items) != 0 {
		t.Error("prescription products must not be planned")
	}
}

func TestLoadCatalog(t *testing.T) {
	c, err := LoadCatalog("")
	if err != nil || c.Len() == 0 {
		t.Fatalf("default catalog: len=%d err=%v", c.Len(), err)
	}

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	os.WriteFile(path, []byte(`products:
  - id: a1
    name: Produto A
    price: 1000
    stock: 3
    symptoms: [dor]
`), 0600)
	c, err = LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	p, err := c.Get("a1")
	if err != nil || p.Stock != 3 || p.Price != 1000 {
		t.Errorf("product = %+v, err = %v", p, err)
	}

	os.WriteFile(path, []byte("products:\n  - id: b\n    name: B\n"), 0600)
	if _, err := LoadCatalog(path); err == nil {
		t.Error("product without price should be rejected")
	}
}
