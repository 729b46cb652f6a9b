// Package voice manages speech capture and spoken playback for the chat.
//
// The speech engines themselves are platform capabilities behind the
// Recognizer and Synthesizer interfaces; this package owns the session state
// around them.
package voice

// FallbackLocale is used for any language without a speech code.
const FallbackLocale = "en-IN"

// Language is a selectable conversation language.
type Language struct {
	Code       string
	Label      string
	SpeechCode string
}

// Languages lists the supported languages in menu order.
var Languages = []Language{
	{Code: "en", Label: "English", SpeechCode: "en-IN"},
	{Code: "hi", Label: "हिन्दी", SpeechCode: "hi-IN"},
	{Code: "mr", Label: "मराठी", SpeechCode: "mr-IN"},
}

// Lookup finds a language by code.
func Lookup(code string) (Language, bool) {
	for _, l := range Languages {
		if l.Code == code {
			return l, true
		}
	}
	return Language{}, false
}

// Locale returns the speech locale for a language code.
func Locale(code string) string {
	if l, ok := Lookup(code); ok && l.SpeechCode != "" {
		return l.SpeechCode
	}
	return FallbackLocale
}
