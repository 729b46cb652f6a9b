package voice

import "strings"

// Segment is one recognition result.
type Segment struct {
	Text  string
	Final bool
}

// Event carries every segment recognized so far in the session.
type Event struct {
	Segments []Segment
}

// Transcript derives the text of an event: the concatenated final segments,
// or the concatenated interim segments when nothing is final yet.
func Transcript(ev Event) string {
	var finals, interims strings.Builder
	for _, s := range ev.Segments {
		if s.Final {
			finals.WriteString(s.Text)
		} else {
			interims.WriteString(s.Text)
		}
	}
	if finals.Len() > 0 {
		return finals.String()
	}
	return interims.String()
}

// Fold returns the transcript of the latest event in events.
func Fold(events []Event) string {
	if len(events) == 0 {
		return ""
	}
	return Transcript(events[len(events)-1])
}
