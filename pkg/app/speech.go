package app

import (
	"context"
	"io"
	"sync"

	"pharmacy/pkg/voice"
)

// typedRecognizer stands in for a microphone: while a session is open, typed
// lines arrive as final recognition segments.
type typedRecognizer struct {
	mu      sync.Mutex
	current *typedStream
}

func (r *typedRecognizer) Start(_ context.Context, _ string) (voice.Stream, error) {
	s := &typedStream{events: make(chan voice.Event, 16)}
	r.mu.Lock()
	r.current = s
	r.mu.Unlock()
	return s, nil
}

// Feed hands text to the open session. It reports false when none is open.
func (r *typedRecognizer) Feed(text string) bool {
	r.mu.Lock()
	s := r.current
	r.mu.Unlock()
	if s == nil {
		return false
	}
	return s.add(text)
}

type typedStream struct {
	mu       sync.Mutex
	events   chan voice.Event
	segments []voice.Segment
	done     bool
}

func (s *typedStream) add(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.segments = append(s.segments, voice.Segment{Text: text + " ", Final: true})
	ev := voice.Event{Segments: append([]voice.Segment(nil), s.segments...)}
	select {
	case s.events <- ev:
	default:
	}
	return true
}

func (s *typedStream) Events() <-chan voice.Event { return s.events }

func (s *typedStream) Err() error { return nil }

func (s *typedStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.done = true
		close(s.events)
	}
}

// printSynthesizer "speaks" by printing the utterance.
type printSynthesizer struct {
	out io.Writer
}

func (p printSynthesizer) Speak(ctx context.Context, u voice.Utterance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := io.WriteString(p.out, "(speaking "+u.Locale+") "+u.Text+"\n")
	return err
}
