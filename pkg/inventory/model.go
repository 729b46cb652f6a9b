// Package inventory gives operators the stock picture of the catalog and
// predicts which patients are about to run out of a medicine.
package inventory

import "pharmacy/pkg/catalog"

// LowStockThreshold is the stock level under which a product counts as low.
const LowStockThreshold = 50

// Report is the admin stock table with its headline counts.
type Report struct {
	Products   []catalog.Product `json:"products"`
	Total      int               `json:"total"`
	LowStock   int               `json:"low_stock"`
	OutOfStock int               `json:"out_of_stock"`
}

// Summarize counts low and empty shelves. Out-of-stock products are also low.
func Summarize(products []catalog.Product) Report {
	r := Report{Products: products, Total: len(products)}
	if r.Products == nil {
		r.Products = []catalog.Product{}
	}
	for _, p := range products {
		if p.StockQuantity < LowStockThreshold {
			r.LowStock++
		}
		if p.StockQuantity == 0 {
			r.OutOfStock++
		}
	}
	return r
}

// StockUpdate is the body of a stock change.
type StockUpdate struct {
	StockQuantity int `json:"stock_quantity"`
}

// RefillAlert warns that a patient's supply of a product ends soon.
type RefillAlert struct {
	PatientID     string `json:"patient_id"`
	PatientName   string `json:"patient_name"`
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name"`
	RunOutDate    string `json:"run_out_date"`
	DaysRemaining int    `json:"days_remaining"`
}
