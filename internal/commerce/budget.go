package commerce

import "sort"

// BudgetPlan is a set of products that fits within a budget.
type BudgetPlan struct {
	Budget    int64     `json:"budget"`
	Items     []Product `json:"items"`
	Total     int64     `json:"total"`
	Remaining int64     `json:"remaining"`
	// Unmet lists requested needs no affordable product could cover.
	Unmet []string `json:"unmet,omitempty"`
}

// PlanBudget picks, for each need, the cheapest in-stock over-the-counter
// product matching it, cheapest needs first, while the running total fits
// the budget. Needs are matched as symptoms first, then as search terms.
func (c *Catalog) PlanBudget(budget int64, needs []string) BudgetPlan {
	plan := BudgetPlan{Budget: budget}

	type candidate struct {
		need string
		p    Product
	}
	var picks []candidate
	for _, need := range needs {
		options := c.BySymptom(need)
		if len(options) == 0 {
			options = c.Search(need, 0)
		}
		best, ok := cheapest(options, picks, func(x candidate) string { return x.p.ID })
		if !ok {
			plan.Unmet = append(plan.Unmet, need)
			continue
		}
		picks = append(picks, candidate{need, best})
	}

	sort.SliceStable(picks, func(i, j int) bool {
		return picks[i].p.EffectivePrice() < picks[j].p.EffectivePrice()
	})
	for _, pk := range picks {
		price := pk.p.EffectivePrice()
		if plan.Total+price > budget {
			plan.Unmet = append(plan.Unmet, pk.need)
			continue
		}
		plan.Total += price
		plan.Items = append(plan.Items, pk.p)
	}
	plan.Remaining = budget - plan.Total
	return plan
}

// cheapest returns the lowest-priced sellable option not already picked.
func cheapest[T any](options []Product, picked []T, id func(T) string) (Product, bool) {
	taken := make(map[string]bool, len(picked))
	for _, p := range picked {
		taken[id(p)] = true
	}
	var best Product
	found := false
	for _, p := range options {
		if p.RequiresPrescription || p.Stock == 0 || taken[p.ID] {
			continue
		}
		if !found || p.EffectivePrice() < best.EffectivePrice() {
			best = p
			found = true
		}
	}
	return best, found
}
