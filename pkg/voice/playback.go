package voice

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultRate is the speaking rate used for every reply.
const DefaultRate = 0.9

// Utterance is one piece of text to speak.
type Utterance struct {
	Text   string
	Locale string
	Rate   float64
}

// Synthesizer is the platform text-to-speech capability. Speak blocks until
// the utterance finishes or ctx is cancelled.
type Synthesizer interface {
	Speak(ctx context.Context, u Utterance) error
}

var markup = strings.NewReplacer("*", "", "#", "", "_", "")

// Clean removes the markdown emphasis characters a reply may contain.
func Clean(text string) string {
	return markup.Replace(text)
}

// Playback speaks one utterance at a time; a new one interrupts the old.
type Playback struct {
	synth  Synthesizer
	logger logrus.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	gen    uint64
	active bool
}

// NewPlayback wraps synth. A nil synth makes Play a no-op.
func NewPlayback(synth Synthesizer, logger logrus.FieldLogger) *Playback {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Playback{synth: synth, logger: logger}
}

// Play cancels any in-flight utterance and speaks text in locale once the
// cancelled one has returned, so utterances never overlap.
func (p *Playback) Play(text, locale string) {
	if p.synth == nil {
		return
	}
	text = strings.TrimSpace(Clean(text))
	if text == "" {
		return
	}
	if locale == "" {
		locale = FallbackLocale
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	previous := p.done
	p.gen++
	gen := p.gen
	p.cancel = cancel
	p.done = done
	p.active = true
	p.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		if previous != nil {
			<-previous
		}
		if ctx.Err() == nil {
			err := p.synth.Speak(ctx, Utterance{Text: text, Locale: locale, Rate: DefaultRate})
			if err != nil && ctx.Err() == nil {
				p.logger.WithError(err).Warn("speech playback failed")
			}
		}
		p.mu.Lock()
		if gen == p.gen {
			p.active = false
			p.cancel = nil
		}
		p.mu.Unlock()
	}()
}

// Stop cancels the in-flight utterance.
func (p *Playback) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.gen++
	p.active = false
}

// Active reports whether an utterance is being spoken.
func (p *Playback) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}
