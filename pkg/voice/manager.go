package voice

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"pharmacy/pkg/chat"
)

// Manager ties capture and playback to the selected conversation language.
type Manager struct {
	capture  *Capture
	playback *Playback

	mu       sync.RWMutex
	language string
}

// NewManager builds a manager; either capability may be nil.
func NewManager(recognizer Recognizer, synth Synthesizer, sink Sink, logger logrus.FieldLogger, opts ...CaptureOption) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	opts = append([]CaptureOption{WithCaptureLogger(logger)}, opts...)
	return &Manager{
		capture:  NewCapture(recognizer, sink, opts...),
		playback: NewPlayback(synth, logger),
		language: chat.DefaultLanguage,
	}
}

// SetLanguage selects the language for subsequent sessions and utterances.
// A session already listening keeps its locale.
func (m *Manager) SetLanguage(code string) {
	if _, ok := Lookup(code); !ok {
		code = chat.DefaultLanguage
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.language = code
}

// Language returns the selected language code.
func (m *Manager) Language() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.language
}

// Capture exposes the capture state.
func (m *Manager) Capture() *Capture {
	return m.capture
}

// Playback exposes the playback state.
func (m *Manager) Playback() *Playback {
	return m.playback
}

// Toggle starts listening when idle and stops otherwise. It reports whether
// a session is now active.
func (m *Manager) Toggle(ctx context.Context) (bool, error) {
	if m.capture.Listening() {
		m.capture.Stop()
		return false, nil
	}
	if err := m.capture.Start(ctx, Locale(m.Language())); err != nil {
		return false, err
	}
	return true, nil
}

// Speak plays text in the current language.
func (m *Manager) Speak(text string) {
	m.playback.Play(text, Locale(m.Language()))
}

// OnReply speaks an assistant turn; register it with chat.Transport.OnReply.
func (m *Manager) OnReply(turn chat.Turn) {
	if turn.Role != chat.RoleAssistant {
		return
	}
	m.Speak(turn.Text)
}

// Close ends any session without sending its transcript and stops playback.
func (m *Manager) Close() {
	m.capture.Close()
	m.playback.Stop()
}
