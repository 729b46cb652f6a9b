package catalog

import "strings"

// AllCategories disables the category filter.
const AllCategories = "All"

// Categories is the fixed browsing menu, in display order.
var Categories = []string{
	AllCategories,
	"Pain Relief",
	"Antibiotic",
	"Diabetes",
	"Cardiac",
	"Allergy",
	"Gastro",
	"Respiratory",
	"Vitamins",
	"First Aid",
	"Thyroid",
}

// Filter keeps products in the given category whose name, active ingredient
// or manufacturer contains query, ignoring case. An empty result is valid.
func Filter(products []Product, category, query string) []Product {
	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]Product, 0, len(products))
	for _, p := range products {
		if category != "" && category != AllCategories && p.Category != category {
			continue
		}
		if query != "" && !matches(p, query) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func matches(p Product, query string) bool {
	for _, field := range []string{p.Name, p.ActiveIngredient, p.Manufacturer} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}
