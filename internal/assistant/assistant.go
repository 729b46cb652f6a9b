// Package assistant is the keyword responder behind the reference backend's
// chat endpoint. It recognizes product mentions, refuses prescription items
// without an uploaded prescription and reports order status.
package assistant

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"pharmacy/pkg/catalog"
	"pharmacy/pkg/chat"
	"pharmacy/pkg/order"
	"pharmacy/pkg/patient"
)

// Context is what the responder knows about the patient.
type Context struct {
	Patient  *patient.Profile
	Products []catalog.Product
	Orders   []order.Order
}

var (
	quantityPattern = regexp.MustCompile(`\b(\d{1,3})\b`)
	greetingWords   = []string{"hello", "hi", "hey", "namaste", "नमस्ते", "नमस्कार"}
	statusWords     = []string{"status", "track", "where is my order", "my order"}
)

const helpText = "Tell me which medicine you need, for example \"2 Paracetamol\", or ask for your order status."

// Respond answers one chat request.
func Respond(req chat.Request, c Context) chat.Reply {
	msg := strings.ToLower(strings.TrimSpace(req.Message))

	if containsAny(msg, statusWords) {
		if len(c.Orders) == 0 {
			return chat.Reply{Text: "You have no orders yet."}
		}
		latest := c.Orders[len(c.Orders)-1]
		text := fmt.Sprintf("Your order %s for %s is %s.", latest.ID, latest.ProductName, order.Label(latest.Status))
		return chat.Reply{Text: text, Card: chat.OrderStatus{Status: string(latest.Status), Message: text}}
	}

	if matched := match(msg, c.Products); len(matched) > 0 {
		return propose(matched, quantity(msg), c.Patient)
	}

	if greets(msg) {
		return chat.Reply{Text: chat.Greeting(req.Language)}
	}
	return chat.Reply{Text: helpText}
}

func propose(products []catalog.Product, qty int, p *patient.Profile) chat.Reply {
	var (
		items    []chat.Item
		rejected []chat.Rejected
	)
	for _, product := range products {
		if reason := refusal(product, qty, p); reason != "" {
			rejected = append(rejected, chat.Rejected{ProductName: product.Name, Reason: reason})
			continue
		}
		items = append(items, chat.Item{
			ProductID:            product.ID,
			ProductName:          product.Name,
			Price:                product.Price,
			Qty:                  qty,
			PrescriptionRequired: product.PrescriptionRequired,
		})
	}

	if len(items) == 0 {
		return chat.Reply{
			Text: "I can't add these items right now.",
			Card: chat.SafetyAlert{Message: "Some items could not be ordered.", Rejected: rejected},
		}
	}

	total := decimal.Zero
	names := make([]string, 0, len(items))
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Qty))))
		names = append(names, it.ProductName)
	}
	text := fmt.Sprintf("I've prepared %s. Confirm to add to your cart.", strings.Join(names, ", "))
	if len(rejected) > 0 {
		text += fmt.Sprintf(" %d item(s) need attention.", len(rejected))
	}
	first := items[0]
	return chat.Reply{Text: text, Card: chat.OrderConfirmation{
		ProductID:   first.ProductID,
		ProductName: first.ProductName,
		Price:       first.Price,
		Quantity:    first.Qty,
		Total:       total,
		Items:       items,
	}}
}

func refusal(product catalog.Product, qty int, p *patient.Profile) string {
	if product.StockQuantity < qty {
		return "Out of stock"
	}
	if p != nil {
		for _, allergy := range p.Allergies {
			if allergy != "" && strings.EqualFold(allergy, product.ActiveIngredient) {
				return "Listed allergy: " + allergy
			}
		}
	}
	if product.PrescriptionRequired && (p == nil || !p.PrescriptionUploaded) {
		return "Prescription required"
	}
	return ""
}

// match finds products whose leading name word or active ingredient appears in msg.
func match(msg string, products []catalog.Product) []catalog.Product {
	var out []catalog.Product
	for _, p := range products {
		for _, key := range keys(p) {
			if len(key) >= 4 && strings.Contains(msg, key) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func keys(p catalog.Product) []string {
	var out []string
	if fields := strings.Fields(strings.ToLower(p.Name)); len(fields) > 0 {
		out = append(out, fields[0])
	}
	if p.ActiveIngredient != "" {
		out = append(out, strings.ToLower(p.ActiveIngredient))
	}
	return out
}

func quantity(msg string) int {
	m := quantityPattern.FindStringSubmatch(msg)
	if m == nil {
		return 1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func containsAny(msg string, words []string) bool {
	for _, w := range words {
		if strings.Contains(msg, w) {
			return true
		}
	}
	return false
}

func greets(msg string) bool {
	for _, field := range strings.Fields(msg) {
		field = strings.Trim(field, "!.,?")
		for _, w := range greetingWords {
			if field == w {
				return true
			}
		}
	}
	return false
}
