// Package classifier decides from the raw user text whether a turn must
// use tools. The decision is a pure function over an ordered rule table,
// so it can be tested without a model.
package classifier

import (
	"regexp"
	"strings"
)

// Category names the kind of intent a rule detects.
type Category string

const (
	CategoryCart         Category = "cart"
	CategoryCartMutation Category = "cart_mutation"
	CategorySearch       Category = "search"
	CategoryPromotion    Category = "promotion"
	CategorySymptom      Category = "symptom"
	CategoryCheckout     Category = "checkout"
	CategoryProductName  Category = "product_name"
	CategoryQuestion     Category = "question"
)

// Rule tags one pattern with the category it detects.
type Rule struct {
	Category Category
	Pattern  *regexp.Regexp
}

// Rules is the ordered rule table. Patterns run against lower-cased,
// whitespace-trimmed text. Several rules may share a category.
var Rules = []Rule{
	{CategoryCart, regexp.MustCompile(`\b(carrinho|sacola|minha cesta)\b`)},
	{CategoryCartMutation, regexp.MustCompile(`\b(adicion\w*|coloc\w*|inclu\w*|remov\w*|retir\w*|tir[ae]r?|bot[ae]r?|ponha|p[oõ]e|aument\w*|diminu\w*|troc\w*)\b`)},
	{CategoryCartMutation, regexp.MustCompile(`\b\d+\s*(x|un|und|unidades?|cx|caixas?|frascos?|cartelas?|tubos?)\b`)},
	{CategorySearch, regexp.MustCompile(`\b(tem|t[eê]m|procur\w*|busc\w*|encontr\w*|vende[mn]?|pre[cç]o|quanto custa|qto custa|dispon[ií]ve(l|is)|estoque)\b`)},
	{CategoryPromotion, regexp.MustCompile(`\b(promo\w*|ofertas?|descontos?|cupo(m|ns)|liquida\w*|barato)\b`)},
	{CategorySymptom, regexp.MustCompile(`\b(dor|dores|febre|gripe|gripad[oa]|resfriad[oa]|tosse|alergia|azia|enjoo|n[aá]usea|diarreia|gastrite|ins[oô]nia|c[oó]lica|enxaqueca|garganta|sintomas?|machuc\w*|estou com|t[oô] com)\b`)},
	{CategoryCheckout, regexp.MustCompile(`\b(finaliz\w*|fechar (o )?pedido|checkout|pagar|pagamento|concluir (a )?compra|comprar agora|frete)\b`)},
	{CategoryProductName, regexp.MustCompile(`\b(dipirona|paracetamol|ibuprofeno|amoxicilina|omeprazol|loratadina|dorflex|neosaldina|buscopan|tylenol|novalgina|vitamina( [a-z0-9]+)?|protetor solar|shampoo|sabonete|fraldas?|soro|xarope|pomada|curativos?|preservativos?|absorventes?|term[oô]metro)\b`)},
	{CategoryQuestion, regexp.MustCompile(`\?\s*$`)},
}

// smallTalk matches greetings and pleasantries. The rewriter leaves these
// alone even when they are short.
var smallTalk = regexp.MustCompile(`^(oi+|ol[aá]|opa|e a[ií]|bom dia|boa tarde|boa noite|tudo bem|tudo bom|como vai|obrigad[oa]|valeu|tchau|quem (é|e) voc[eê])(\W|$)`)

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// IsSmallTalk reports whether text opens with a greeting or pleasantry.
func IsSmallTalk(text string) bool {
	return smallTalk.MatchString(normalize(text))
}

// Classify returns the matched categories in table order, without
// duplicates.
func Classify(text string) []Category {
	t := normalize(text)
	if t == "" {
		return nil
	}
	var out []Category
	seen := make(map[Category]bool)
	for _, r := range Rules {
		if seen[r.Category] {
			continue
		}
		if r.Pattern.MatchString(t) {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	return out
}

// MustUseTools reports whether the turn for text must call at least one
// tool. Any matched rule forces tools, the trailing question mark
// included.
func MustUseTools(text string) bool {
	return Decide(Classify(text))
}

// Decide is MustUseTools for callers that already classified text.
func Decide(categories []Category) bool {
	return len(categories) > 0
}

// Strings converts categories for logging and prompts.
func Strings(categories []Category) []string {
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = string(c)
	}
	return out
}
