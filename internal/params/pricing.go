package params

import "genbot/internal/domain"

// Price evaluates a pricing rule against normalized parameters. The first
// override whose conditions all match wins; PerUnit then multiplies by the
// integer value of that parameter (missing or non-positive counts as one).
func Price(rule domain.PricingRule, normalized map[string]any) int64 {
	price := rule.Base
	for _, o := range rule.Overrides {
		if matches(o.When, normalized) {
			price = o.Price
			break
		}
	}
	if rule.PerUnit != "" {
		if units, ok := toFloat(normalized[rule.PerUnit]); ok && units > 0 {
			price *= int64(units)
		}
	}
	if price < 0 {
		return 0
	}
	return price
}

func matches(when map[string]string, normalized map[string]any) bool {
	if len(when) == 0 {
		return false
	}
	for k, want := range when {
		v, ok := normalized[k]
		if !ok || canonical(v) != canonical(want) {
			return false
		}
	}
	return true
}
