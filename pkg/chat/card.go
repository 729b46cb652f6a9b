// Package chat carries the conversation between the patient and the
// assistant, including the structured cards attached to assistant replies.
package chat

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Card type tags as sent by the backend.
const (
	TypeOrderConfirmation = "order_confirmation"
	TypeSafetyAlert       = "safety_alert"
	TypeOrderStatus       = "order_status"
)

// Card is structured data attached to an assistant reply. The concrete types
// are OrderConfirmation, SafetyAlert, OrderStatus and Unknown.
type Card interface {
	CardType() string
}

// Item is one product inside an order confirmation.
type Item struct {
	ProductID            string          `json:"product_id"`
	ProductName          string          `json:"product_name"`
	Price                decimal.Decimal `json:"price"`
	Qty                  int             `json:"qty"`
	PrescriptionRequired bool            `json:"prescription_required,omitempty"`
}

// OrderConfirmation proposes an order the patient can confirm.
type OrderConfirmation struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Total       decimal.Decimal `json:"total"`
	Items       []Item          `json:"items,omitempty"`
}

func (OrderConfirmation) CardType() string { return TypeOrderConfirmation }

// DisplayTotal is the amount shown on the card: total, else unit price.
func (c OrderConfirmation) DisplayTotal() decimal.Decimal {
	if !c.Total.IsZero() {
		return c.Total
	}
	return c.Price
}

// Lines returns the confirmed items, falling back to the headline product
// when the backend sent no item list.
func (c OrderConfirmation) Lines() []Item {
	if len(c.Items) > 0 {
		return c.Items
	}
	if c.ProductID == "" {
		return nil
	}
	qty := c.Quantity
	if qty < 1 {
		qty = 1
	}
	return []Item{{ProductID: c.ProductID, ProductName: c.ProductName, Price: c.Price, Qty: qty}}
}

// Rejected names a product the safety check refused.
type Rejected struct {
	ProductName string `json:"product_name"`
	Reason      string `json:"reason"`
}

// SafetyAlert explains why items were refused.
type SafetyAlert struct {
	Message  string     `json:"message"`
	Rejected []Rejected `json:"rejected_items"`
}

func (SafetyAlert) CardType() string { return TypeSafetyAlert }

// OrderStatus reports progress of an existing order.
type OrderStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (OrderStatus) CardType() string { return TypeOrderStatus }

// Unknown is a card whose type this client does not recognize. Only the
// reply text is rendered for it.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (u Unknown) CardType() string { return u.Type }

// DecodeCard parses a card_data payload. A missing or null payload yields a
// nil card.
func DecodeCard(raw []byte) (Card, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, errors.Wrap(err, "decode card type")
	}

	var (
		card Card
		err  error
	)
	switch head.Type {
	case TypeOrderConfirmation:
		var c OrderConfirmation
		err = json.Unmarshal(raw, &c)
		card = c
	case TypeSafetyAlert:
		var c SafetyAlert
		err = json.Unmarshal(raw, &c)
		card = c
	case TypeOrderStatus:
		var c OrderStatus
		err = json.Unmarshal(raw, &c)
		card = c
	default:
		return Unknown{Type: head.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s card", head.Type)
	}
	return card, nil
}

// EncodeCard renders a card with its type tag.
func EncodeCard(card Card) ([]byte, error) {
	switch c := card.(type) {
	case nil:
		return []byte("null"), nil
	case Unknown:
		if len(c.Raw) > 0 {
			return c.Raw, nil
		}
		return json.Marshal(struct {
			Type string `json:"type"`
		}{c.Type})
	case OrderConfirmation:
		return json.Marshal(struct {
			Type string `json:"type"`
			OrderConfirmation
		}{c.CardType(), c})
	case SafetyAlert:
		return json.Marshal(struct {
			Type string `json:"type"`
			SafetyAlert
		}{c.CardType(), c})
	case OrderStatus:
		return json.Marshal(struct {
			Type string `json:"type"`
			OrderStatus
		}{c.CardType(), c})
	default:
		return nil, errors.Errorf("unsupported card %T", card)
	}
}
