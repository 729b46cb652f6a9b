// Package catalog describes the medicines offered by the pharmacy and the
// browsing rules of the storefront.
package catalog

import "github.com/shopspring/decimal"

// Product is one medicine as listed by the backend.
type Product struct {
	ID                   string          `json:"product_id"`
	Name                 string          `json:"product_name"`
	Price                decimal.Decimal `json:"price"`
	Description          string          `json:"description"`
	PackageSize          string          `json:"package_size"`
	StockQuantity        int             `json:"stock_quantity"`
	PrescriptionRequired bool            `json:"prescription_required"`
	ActiveIngredient     string          `json:"active_ingredient"`
	Category             string          `json:"category"`
	Manufacturer         string          `json:"manufacturer"`
	ImageURL             string          `json:"image_url"`
	DosageFrequency      string          `json:"dosage_frequency,omitempty"`
}

// InStock reports whether at least one unit can be ordered.
func (p Product) InStock() bool {
	return p.StockQuantity > 0
}

// Find returns the product with the given id.
func Find(products []Product, id string) (Product, error) {
	for _, p := range products {
		if p.ID == id {
			return p, nil
		}
	}
	return Product{}, ErrNotFound
}
