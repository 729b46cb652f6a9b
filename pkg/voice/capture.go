package voice

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is the pause between stopping capture and sending the
// transcript.
const DefaultDebounce = 300 * time.Millisecond

var (
	// ErrUnsupported is returned when no recognizer is available.
	ErrUnsupported = errors.New("speech recognition is not available")
	// ErrAlreadyListening is returned by Start while a session is active.
	ErrAlreadyListening = errors.New("already listening")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("voice capture is closed")
)

// Recognizer is the platform speech-to-text capability. A session runs in
// continuous mode with interim results.
type Recognizer interface {
	Start(ctx context.Context, locale string) (Stream, error)
}

// Stream is one recognition session. Events is closed when the session ends
// on its own or after Stop; Err then reports why it ended, if abnormally.
type Stream interface {
	Events() <-chan Event
	Err() error
	Stop()
}

// Sink receives a finished transcript.
type Sink func(ctx context.Context, text string)

// Capture drives one recognizer session at a time.
type Capture struct {
	recognizer   Recognizer
	sink         Sink
	debounce     time.Duration
	logger       logrus.FieldLogger
	onTranscript func(string)

	mu         sync.Mutex
	listening  bool
	stream     Stream
	ctx        context.Context
	transcript string
	gen        uint64
	closed     bool
	seq        uint64
	pending    map[uint64]*time.Timer
}

// CaptureOption customizes a Capture.
type CaptureOption func(*Capture)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) CaptureOption {
	return func(c *Capture) { c.debounce = d }
}

// WithTranscriptHook mirrors every transcript update, e.g. into an input field.
func WithTranscriptHook(fn func(string)) CaptureOption {
	return func(c *Capture) { c.onTranscript = fn }
}

// WithCaptureLogger sets the logger.
func WithCaptureLogger(l logrus.FieldLogger) CaptureOption {
	return func(c *Capture) { c.logger = l }
}

// NewCapture builds a capture over recognizer. A nil recognizer leaves voice
// input permanently unavailable.
func NewCapture(recognizer Recognizer, sink Sink, opts ...CaptureOption) *Capture {
	c := &Capture{
		recognizer: recognizer,
		sink:       sink,
		debounce:   DefaultDebounce,
		pending:    make(map[uint64]*time.Timer),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	return c
}

// Available reports whether voice input can ever be started.
func (c *Capture) Available() bool {
	return c.recognizer != nil
}

// Listening reports whether a session is active.
func (c *Capture) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// Transcript returns the latest transcript of the current or last session.
func (c *Capture) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript
}

// Start opens a session in locale.
func (c *Capture) Start(ctx context.Context, locale string) error {
	if !c.Available() {
		return ErrUnsupported
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.listening {
		return ErrAlreadyListening
	}
	stream, err := c.recognizer.Start(ctx, locale)
	if err != nil {
		return errors.Wrap(err, "start recognition")
	}
	c.gen++
	c.listening = true
	c.stream = stream
	c.ctx = ctx
	c.transcript = ""
	c.logger.WithField("locale", locale).Debug("listening")
	go c.watch(stream, c.gen)
	return nil
}

// watch folds stream events into the transcript until the stream ends.
func (c *Capture) watch(stream Stream, gen uint64) {
	for ev := range stream.Events() {
		text := Transcript(ev)
		c.mu.Lock()
		current := gen == c.gen
		if current {
			c.transcript = text
		}
		c.mu.Unlock()
		if current && c.onTranscript != nil {
			c.onTranscript(text)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || !c.listening {
		return
	}
	c.listening = false
	c.stream = nil
	if err := stream.Err(); err != nil {
		c.logger.WithError(err).Warn("recognition ended with error")
	}
}

// Stop ends the session. A non-empty transcript is handed to the sink after
// the debounce delay. Stop is a no-op when not listening.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.listening {
		c.mu.Unlock()
		return
	}
	stream, ctx, text := c.endLocked()
	if text != "" && c.sink != nil {
		c.seq++
		seq := c.seq
		c.pending[seq] = time.AfterFunc(c.debounce, func() { c.deliver(seq, ctx, text) })
	}
	c.mu.Unlock()

	stream.Stop()
}

// Close ends any session and drops transcripts still waiting for the
// debounce. A closed capture cannot be started again.
func (c *Capture) Close() {
	c.mu.Lock()
	c.closed = true
	var stream Stream
	if c.listening {
		stream, _, _ = c.endLocked()
	}
	for seq, t := range c.pending {
		t.Stop()
		delete(c.pending, seq)
	}
	c.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
}

// endLocked detaches the active session and returns what Stop needs.
func (c *Capture) endLocked() (Stream, context.Context, string) {
	c.gen++
	c.listening = false
	stream := c.stream
	c.stream = nil
	return stream, c.ctx, strings.TrimSpace(c.transcript)
}

// deliver forwards a debounced transcript unless Close dropped it.
func (c *Capture) deliver(seq uint64, ctx context.Context, text string) {
	c.mu.Lock()
	_, ok := c.pending[seq]
	delete(c.pending, seq)
	c.mu.Unlock()
	if ok {
		c.sink(ctx, text)
	}
}
