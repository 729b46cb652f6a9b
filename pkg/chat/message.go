package chat

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Request is the body of POST /api/chat.
type Request struct {
	PatientID string `json:"patient_id"`
	Message   string `json:"message"`
	Language  string `json:"language"`
}

// Reply is the assistant's answer. A card that fails to decode degrades to
// Unknown so the text still renders.
type Reply struct {
	Text string
	Card Card
}

type wireReply struct {
	Reply    string          `json:"reply"`
	CardData json.RawMessage `json:"card_data"`
}

func (r Reply) MarshalJSON() ([]byte, error) {
	card, err := EncodeCard(r.Card)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireReply{Reply: r.Text, CardData: card})
}

func (r *Reply) UnmarshalJSON(data []byte) error {
	var w wireReply
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.Wrap(err, "decode chat reply")
	}
	r.Text = w.Reply
	card, err := DecodeCard(w.CardData)
	if err != nil {
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(w.CardData, &head)
		card = Unknown{Type: head.Type, Raw: w.CardData}
	}
	r.Card = card
	return nil
}

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the conversation.
type Turn struct {
	Role Role
	Text string
	Card Card
}
