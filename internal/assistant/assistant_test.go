package assistant

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacy/pkg/catalog"
	"pharmacy/pkg/chat"
	"pharmacy/pkg/order"
	"pharmacy/pkg/patient"
)

func products() []catalog.Product {
	return []catalog.Product{
		{ID: "MED001", Name: "Paracetamol 500mg", ActiveIngredient: "Paracetamol", Price: decimal.NewFromInt(25), StockQuantity: 10},
		{ID: "MED003", Name: "Amoxicillin 500mg", ActiveIngredient: "Amoxicillin", Price: decimal.NewFromInt(120), StockQuantity: 5, PrescriptionRequired: true},
		{ID: "MED007", Name: "Cetirizine 10mg", ActiveIngredient: "Cetirizine", Price: decimal.NewFromInt(30), StockQuantity: 1},
	}
}

func TestRespondProposesOrder(t *testing.T) {
	reply := Respond(chat.Request{Message: "I need 2 Paracetamol please", Language: "en"}, Context{Products: products()})
	card, ok := reply.Card.(chat.OrderConfirmation)
	require.True(t, ok)
	assert.Equal(t, "MED001", card.ProductID)
	assert.Equal(t, 2, card.Quantity)
	assert.True(t, card.Total.Equal(decimal.NewFromInt(50)))
	require.Len(t, card.Items, 1)
}

func TestRespondRejectsPrescriptionItemsWithoutUpload(t *testing.T) {
	reply := Respond(chat.Request{Message: "amoxicillin"}, Context{Products: products()})
	alert, ok := reply.Card.(chat.SafetyAlert)
	require.True(t, ok)
	assert.Equal(t, []chat.Rejected{{ProductName: "Amoxicillin 500mg", Reason: "Prescription required"}}, alert.Rejected)

	withRx := &patient.Profile{PrescriptionUploaded: true}
	reply = Respond(chat.Request{Message: "amoxicillin"}, Context{Products: products(), Patient: withRx})
	assert.IsType(t, chat.OrderConfirmation{}, reply.Card)
}

func TestRespondMixedAndStockAndAllergy(t *testing.T) {
	p := &patient.Profile{Allergies: []string{"paracetamol"}}
	reply := Respond(chat.Request{Message: "3 cetirizine and paracetamol"}, Context{Products: products(), Patient: p})
	alert, ok := reply.Card.(chat.SafetyAlert)
	require.True(t, ok)
	require.Len(t, alert.Rejected, 2)
	assert.Equal(t, "Listed allergy: paracetamol", alert.Rejected[0].Reason)
	assert.Equal(t, "Out of stock", alert.Rejected[1].Reason)

	reply = Respond(chat.Request{Message: "paracetamol and amoxicillin"}, Context{Products: products()})
	card, ok := reply.Card.(chat.OrderConfirmation)
	require.True(t, ok)
	assert.Len(t, card.Items, 1)
	assert.Contains(t, reply.Text, "1 item(s) need attention")
}

func TestRespondStatusGreetingAndHelp(t *testing.T) {
	orders := []order.Order{
		{ID: "ORD-1", ProductName: "Paracetamol 500mg", Status: order.StatusDelivered},
		{ID: "ORD-2", ProductName: "Cetirizine 10mg", Status: order.StatusShipped},
	}
	reply := Respond(chat.Request{Message: "What is my order status?"}, Context{Orders: orders})
	assert.Equal(t, chat.OrderStatus{Status: "shipped", Message: "Your order ORD-2 for Cetirizine 10mg is Shipped."}, reply.Card)

	reply = Respond(chat.Request{Message: "track"}, Context{})
	assert.Nil(t, reply.Card)

	reply = Respond(chat.Request{Message: "नमस्ते", Language: "hi"}, Context{Products: products()})
	assert.Equal(t, chat.Greeting("hi"), reply.Text)

	reply = Respond(chat.Request{Message: "which one works?"}, Context{Products: products()})
	assert.Equal(t, helpText, reply.Text)
}
