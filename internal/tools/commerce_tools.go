package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/commerce"
)

// Storefront groups the commerce backends the storefront tools act on.
type Storefront struct {
	Catalog  *commerce.Catalog
	Carts    *commerce.Carts
	Checkout *commerce.Checkout
}

const defaultSearchLimit = 8

// productView is the compact product shape returned to the model.
type productView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Category     string `json:"category,omitempty"`
	Price        string `json:"price"`
	FullPrice    string `json:"fullPrice,omitempty"`
	InStock      bool   `json:"inStock"`
	Prescription bool   `json:"requiresPrescription,omitempty"`
	Description  string `json:"description,omitempty"`
}

func viewProduct(p commerce.Product, detailed bool) productView {
	v := productView{
		ID:           p.ID,
		Name:         p.Name,
		Category:     p.Category,
		Price:        commerce.FormatBRL(p.EffectivePrice()),
		InStock:      p.Stock > 0,
		Prescription: p.RequiresPrescription,
	}
	if p.OnPromotion() {
		v.FullPrice = commerce.FormatBRL(p.Price)
	}
	if detailed {
		v.Description = p.Description
	}
	return v
}

func viewProducts(ps []commerce.Product) []productView {
	out := make([]productView, 0, len(ps))
	for _, p := range ps {
		out = append(out, viewProduct(p, false))
	}
	return out
}

func productIDs(ps []commerce.Product) []string {
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
	}
	return ids
}

type cartView struct {
	Items []cartLine `json:"items"`
	Count int        `json:"count"`
	Total string     `json:"total"`
}

type cartLine struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Subtotal  string `json:"subtotal"`
}

func viewCart(c commerce.Cart) cartView {
	v := cartView{Items: []cartLine{}, Count: c.Count(), Total: commerce.FormatBRL(c.Total())}
	for _, i := range c.Items {
		v.Items = append(v.Items, cartLine{
			ProductID: i.ProductID,
			Name:      i.Name,
			Quantity:  i.Quantity,
			Subtotal:  commerce.FormatBRL(i.Subtotal()),
		})
	}
	return v
}

// commerceFailure maps backend sentinel errors to results the model can
// relay. Anything unrecognized is returned as a Go error.
func commerceFailure(err error) (Result, error) {
	switch {
	case errors.Is(err, commerce.ErrProductNotFound):
		return Fail("Produto não encontrado. Use search_products para obter o ID correto."), nil
	case errors.Is(err, commerce.ErrOutOfStock):
		return Fail("Estoque insuficiente: " + err.Error()), nil
	case errors.Is(err, commerce.ErrInvalidQuantity):
		return Fail("A quantidade deve ser um número inteiro positivo."), nil
	case errors.Is(err, commerce.ErrPrescriptionRequired):
		return Fail("Este medicamento exige receita retida e não pode ser vendido pelo chat."), nil
	case errors.Is(err, commerce.ErrEmptyCart):
		return Fail("O carrinho está vazio."), nil
	case errors.Is(err, commerce.ErrNotInCart):
		return Fail("Este produto não está no carrinho."), nil
	default:
		return Result{}, err
	}
}

func (s Storefront) cartChanged(turn *Turn, c commerce.Cart) cartView {
	v := viewCart(c)
	turn.Emit(Action{Type: ActionCartUpdated, Payload: map[string]any{
		"count": v.Count,
		"total": c.Total(),
	}})
	return v
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var (
	productIDProp = map[string]any{"type": "string", "description": "ID do produto, como retornado por search_products"}
	quantityProp  = map[string]any{"type": "integer", "description": "Quantidade de unidades"}
)

// RegisterStorefront adds the storefront tool set to the registry.
func RegisterStorefront(r *Registry, s Storefront) {
	r.Register(&Tool{
		Name:        "search_products",
		Description: "Busca produtos no catálogo por nome, princípio ativo, marca ou categoria.",
		InputSchema: objectSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "Termos de busca"},
			"limit": map[string]any{"type": "integer", "description": "Máximo de resultados (padrão 8)"},
		}, "query"),
		Handler: s.searchProducts,
	})
	r.Register(&Tool{
		Name:        "get_product",
		Description: "Retorna os detalhes de um produto pelo ID.",
		InputSchema: objectSchema(map[string]any{"productId": productIDProp}, "productId"),
		Handler:     s.getProduct,
	})
	r.Register(&Tool{
		Name:        "list_promotions",
		Description: "Lista os produtos em promoção, maiores descontos primeiro.",
		InputSchema: objectSchema(map[string]any{
			"limit": map[string]any{"type": "integer"},
		}),
		Handler: s.listPromotions,
	})
	r.Register(&Tool{
		Name:        "search_by_symptom",
		Description: "Sugere produtos isentos de prescrição indicados para um sintoma.",
		InputSchema: objectSchema(map[string]any{
			"symptom": map[string]any{"type": "string", "description": "Sintoma descrito pelo cliente"},
		}, "symptom"),
		Handler: s.searchBySymptom,
	})
	r.Register(&Tool{
		Name:        "view_cart",
		Description: "Mostra o conteúdo e o total do carrinho.",
		InputSchema: objectSchema(map[string]any{}),
		Handler:     s.viewCart,
	})
	r.Register(&Tool{
		Name:        "add_to_cart",
		Description: "Adiciona um produto ao carrinho.",
		InputSchema: objectSchema(map[string]any{
			"productId": productIDProp,
			"quantity":  quantityProp,
		}, "productId"),
		Handler: s.addToCart,
	})
	r.Register(&Tool{
		Name:        "remove_from_cart",
		Description: "Remove um produto do carrinho.",
		InputSchema: objectSchema(map[string]any{"productId": productIDProp}, "productId"),
		Handler:     s.removeFromCart,
	})
	r.Register(&Tool{
		Name:        "update_cart_quantity",
		Description: "Altera a quantidade de um produto no carrinho. Quantidade 0 remove o item.",
		InputSchema: objectSchema(map[string]any{
			"productId": productIDProp,
			"quantity":  quantityProp,
		}, "productId", "quantity"),
		Handler: s.updateCartQuantity,
	})
	r.Register(&Tool{
		Name:        "clear_cart",
		Description: "Esvazia o carrinho.",
		InputSchema: objectSchema(map[string]any{}),
		Handler:     s.clearCart,
	})
	r.Register(&Tool{
		Name:        "start_checkout",
		Description: "Finaliza a compra: cria o pedido a partir do carrinho e leva o cliente ao pagamento.",
		InputSchema: objectSchema(map[string]any{}),
		Handler:     s.startCheckout,
	})
	r.Register(&Tool{
		Name:        "navigate_to",
		Description: "Leva o cliente a uma página da loja.",
		InputSchema: objectSchema(map[string]any{
			"page": map[string]any{
				"type": "string",
				"enum": []any{"home", "cart", "checkout", "promotions", "product", "search", "category"},
			},
			"productId": productIDProp,
			"query":     map[string]any{"type": "string", "description": "Termo de busca ou nome da categoria"},
		}, "page"),
		Handler: s.navigateTo,
	})
	r.Register(&Tool{
		Name:        "plan_budget",
		Description: "Monta a opção mais barata que atende às necessidades do cliente dentro de um orçamento em reais.",
		InputSchema: objectSchema(map[string]any{
			"budget": map[string]any{"type": "number", "description": "Orçamento em reais"},
			"needs": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Sintomas ou produtos desejados",
			},
		}, "budget", "needs"),
		Handler: s.planBudget,
	})
}

func (s Storefront) searchProducts(_ context.Context, turn *Turn, args map[string]any) (Result, error) {
	query := stringArg(args, "query")
	if query == "" {
		return Fail("Informe um termo de busca."), nil
	}
	found := s.Catalog.Search(query, int(intArg(args, "limit", defaultSearchLimit)))
	if len(found) == 0 {
		return OK(fmt.Sprintf("Nenhum produto encontrado para %q.", query), []productView{}), nil
	}
	turn.Emit(Action{Type: ActionShowProducts, Payload: map[string]any{"productIds": productIDs(found), "query": query}})
	return OK(fmt.Sprintf("%d produto(s) encontrado(s) para %q.", len(found), query), viewProducts(found)), nil
}

func (s Storefront) getProduct(_ context.Context, _ *Turn, args map[string]any) (Result, error) {
	p, err := s.Catalog.Get(stringArg(args, "productId"))
	if err != nil {
		return commerceFailure(err)
	}
	return OK(p.Name, viewProduct(p, true)), nil
}

func (s Storefront) listPromotions(_ context.Context, turn *Turn, args map[string]any) (Result, error) {
	promos := s.Catalog.Promotions()
	if limit := int(intArg(args, "limit", 0)); limit > 0 && limit < len(promos) {
		promos = promos[:limit]
	}
	if len(promos) == 0 {
		return OK("Não há promoções ativas no momento.", []productView{}), nil
	}
	turn.Emit(Action{Type: ActionShowProducts, Payload: map[string]any{"productIds": productIDs(promos)}})
	return OK(fmt.Sprintf("%d produto(s) em promoção.", len(promos)), viewProducts(promos)), nil
}

func (s Storefront) searchBySymptom(_ context.Context, turn *Turn, args map[string]any) (Result, error) {
	symptom := stringArg(args, "symptom")
	var sellable []commerce.Product
	for _, p := range s.Catalog.BySymptom(symptom) {
		if !p.RequiresPrescription {
			sellable = append(sellable, p)
		}
	}
	if len(sellable) == 0 {
		return OK(fmt.Sprintf("Nenhum produto isento de prescrição para %q. Recomende procurar um farmacêutico ou médico.", symptom), []productView{}), nil
	}
	turn.Emit(Action{Type: ActionShowProducts, Payload: map[string]any{"productIds": productIDs(sellable), "symptom": symptom}})
	return OK(fmt.Sprintf("%d sugestão(ões) para %q. Lembre o cliente de ler a bula.", len(sellable), symptom), viewProducts(sellable)), nil
}

func (s Storefront) viewCart(_ context.Context, turn *Turn, _ map[string]any) (Result, error) {
	c := s.Carts.Get(turn.SessionID)
	if len(c.Items) == 0 {
		return OK("O carrinho está vazio.", viewCart(c)), nil
	}
	return OK(fmt.Sprintf("%d item(ns) no carrinho, total %s.", c.Count(), commerce.FormatBRL(c.Total())), viewCart(c)), nil
}

func (s Storefront) addToCart(_ context.Context, turn *Turn, args map[string]any) (Result, error) {
	qty := intArg(args, "quantity", 1)
	c, err := s.Carts.Add(turn.SessionID, stringArg(args, "productId"), int(qty))
	if err != nil {
		return commerceFailure(err)
	}
	v := s.cartChanged(turn, c)
	return OK(fmt.Sprintf("Adicionado. O carrinho tem %d item(ns), total %s.", v.Count, v.Total), v), nil
}

func (s Storefront) removeFromCart(_ context.Context, turn *Turn, args map[string]any) (Result, error) {
	c, err := s.Carts.Remove(turn.SessionID, stringArg(args, "productId"))
	if err != nil {
		return commerceFailure(err)
	}
	v := s.cartChanged(turn, c)
	return OK(fmt.Sprintf("Removido. Total atual %s.", v.Total), v), nil
}

func (s Storefront) updateCartQuantity(_ context.Context, turn *Turn, args map[string]any) (Result, error) {
	qty := intArg(args, "quantity", -1)
	if qty < 0 {
		return commerceFailure(commerce.ErrInvalidQuantity)
	}
	c, err := s.Carts.SetQuantity(turn.SessionID, stringArg(args, "productId"), int(qty))
	if err != nil {
		return commerceFailure(err)
	}
	v := s.cartChanged(turn, c)
	return OK(fmt.Sprintf("Quantidade atualizada. Total atual %s.", v.Total), v), nil
}

func (s Storefront) clearCart(_ context.Context, turn *Turn, _ map[string]any) (Result, error) {
	v := s.cartChanged(turn, s.Carts.Clear(turn.SessionID))
	return OK("Carrinho esvaziado.", v), nil
}

func (s Storefront) startCheckout(_ context.Context, turn *Turn, _ map[string]any) (Result, error) {
	order, err := s.Checkout.Start(turn.SessionID)
	if err != nil {
		return commerceFailure(err)
	}
	s.cartChanged(turn, s.Carts.Get(turn.SessionID))
	turn.Emit(Action{Type: ActionCheckout, Payload: map[string]any{
		"orderId": order.ID,
		"url":     order.CheckoutURL,
	}})
	msg := fmt.Sprintf("Pedido criado. Subtotal %s, frete %s, total %s. O cliente foi direcionado ao pagamento.",
		commerce.FormatBRL(order.Subtotal), commerce.FormatBRL(order.Shipping), commerce.FormatBRL(order.Total))
	return OK(msg, map[string]any{
		"orderId":     order.ID,
		"total":       commerce.FormatBRL(order.Total),
		"checkoutUrl": order.CheckoutURL,
	}), nil
}

func (s Storefront) navigateTo(_ context.Context, turn *Turn, args map[string]any) (Result, error) {
	page := stringArg(args, "page")
	var path string
	switch page {
	case "home":
		path = "/"
	case "cart":
		path = "/carrinho"
	case "checkout":
		path = "/checkout"
	case "promotions":
		path = "/promocoes"
	case "product":
		p, err := s.Catalog.Get(stringArg(args, "productId"))
		if err != nil {
			return commerceFailure(err)
		}
		path = "/produto/" + url.PathEscape(p.ID)
	case "search":
		q := stringArg(args, "query")
		if q == "" {
			return Fail("Informe o termo de busca para a página de busca."), nil
		}
		path = "/busca?q=" + url.QueryEscape(q)
	case "category":
		q := stringArg(args, "query")
		if q == "" {
			return Fail("Informe a categoria."), nil
		}
		path = "/categoria/" + url.PathEscape(strings.ReplaceAll(commerce.Fold(q), " ", "-"))
	default:
		return Fail(fmt.Sprintf("Página desconhecida: %q.", page)), nil
	}
	turn.Emit(Action{Type: ActionNavigate, Payload: map[string]any{"path": path}})
	return OK("Cliente direcionado para "+path+".", map[string]any{"path": path}), nil
}

func (s Storefront) planBudget(_ context.Context, turn *Turn, args map[string]any) (Result, error) {
	reais, _ := toFloat(args["budget"])
	if reais <= 0 {
		return Fail("O orçamento deve ser maior que zero."), nil
	}
	needs := stringsArg(args, "needs")
	if len(needs) == 0 {
		return Fail("Informe ao menos uma necessidade."), nil
	}
	plan := s.Catalog.PlanBudget(int64(math.Round(reais*100)), needs)

	msg := fmt.Sprintf("%d produto(s) cabem no orçamento de %s, total %s, sobra %s.",
		len(plan.Items), commerce.FormatBRL(plan.Budget), commerce.FormatBRL(plan.Total), commerce.FormatBRL(plan.Remaining))
	if len(plan.Unmet) > 0 {
		msg += " Não atendidas: " + strings.Join(plan.Unmet, ", ") + "."
	}
	if len(plan.Items) > 0 {
		turn.Emit(Action{Type: ActionShowProducts, Payload: map[string]any{"productIds": productIDs(plan.Items)}})
	}
	return OK(msg, map[string]any{
		"items":     viewProducts(plan.Items),
		"total":     commerce.FormatBRL(plan.Total),
		"remaining": commerce.FormatBRL(plan.Remaining),
		"unmet":     plan.Unmet,
	}), nil
}
