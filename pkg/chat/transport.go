package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrEmptyMessage is returned when the trimmed input is empty; nothing is sent.
	ErrEmptyMessage = errors.New("empty message")
	// ErrBusy is returned while a previous message awaits its reply.
	ErrBusy = errors.New("a message is already being sent")
	// ErrSuperseded is returned when the conversation was reset while the
	// reply was pending; the reply is dropped.
	ErrSuperseded = errors.New("conversation was reset before the reply arrived")
)

// Backend answers chat requests.
type Backend interface {
	Chat(ctx context.Context, req Request) (Reply, error)
}

// PatientSource resolves the patient the conversation speaks for.
type PatientSource interface {
	PatientID(ctx context.Context) string
}

// Transport sends patient messages and records the replies.
type Transport struct {
	backend   Backend
	conv      *Conversation
	patients  PatientSource
	logger    logrus.FieldLogger
	mu        sync.Mutex
	sending   bool
	listeners []func(Turn)
}

// NewTransport binds a conversation to backend.
func NewTransport(backend Backend, conv *Conversation, patients PatientSource, logger logrus.FieldLogger) *Transport {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transport{backend: backend, conv: conv, patients: patients, logger: logger}
}

// OnReply registers a listener for every assistant reply received from the
// backend. Connectivity fallbacks are not delivered.
func (t *Transport) OnReply(fn func(Turn)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Conversation returns the underlying conversation.
func (t *Transport) Conversation() *Conversation {
	return t.conv
}

// Sending reports whether a reply is pending.
func (t *Transport) Sending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sending
}

// Send appends the user turn, asks the backend and appends the assistant
// turn. On failure the localized connection-trouble turn is appended and
// returned together with the error; there is no retry. A reply that arrives
// after the conversation was reset is dropped and ErrSuperseded returned.
func (t *Transport) Send(ctx context.Context, text string) (Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, ErrEmptyMessage
	}
	t.mu.Lock()
	if t.sending {
		t.mu.Unlock()
		return Turn{}, ErrBusy
	}
	t.sending = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.sending = false
		t.mu.Unlock()
	}()

	language, generation := t.conv.open(Turn{Role: RoleUser, Text: text})

	req := Request{PatientID: t.patients.PatientID(ctx), Message: text, Language: language}
	reply, err := t.backend.Chat(ctx, req)
	if err != nil {
		t.logger.WithError(err).WithField("patient_id", req.PatientID).Warn("chat request failed")
		turn := Turn{Role: RoleAssistant, Text: ConnectionTrouble(language)}
		if !t.conv.appendTo(generation, turn) {
			return Turn{}, ErrSuperseded
		}
		return turn, errors.Wrap(err, "send chat message")
	}

	turn := Turn{Role: RoleAssistant, Text: reply.Text, Card: reply.Card}
	if !t.conv.appendTo(generation, turn) {
		t.logger.WithField("patient_id", req.PatientID).Debug("reply dropped after conversation reset")
		return Turn{}, ErrSuperseded
	}

	t.mu.Lock()
	listeners := append([]func(Turn){}, t.listeners...)
	t.mu.Unlock()
	for _, fn := range listeners {
		fn(turn)
	}
	return turn, nil
}
