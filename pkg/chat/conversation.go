package chat

import "sync"

// DefaultLanguage is used when no or an unsupported language is selected.
const DefaultLanguage = "en"

var greetings = map[string]string{
	"en": "Hello! 👋 I'm your autonomous AI Pharmacist. You can type or use your voice to order medicines. I support English, Hindi, and Marathi!",
	"hi": "नमस्ते! 👋 मैं आपका AI फार्मासिस्ट हूँ। आप टाइप करके या आवाज़ से दवाइयाँ ऑर्डर कर सकते हैं। मैं अंग्रेज़ी, हिन्दी और मराठी समझता हूँ!",
	"mr": "नमस्कार! 👋 मी तुमचा AI फार्मासिस्ट आहे. तुम्ही टाइप करून किंवा आवाजाने औषधे ऑर्डर करू शकता. मी इंग्रजी, हिन्दी आणि मराठी समजतो!",
}

var connectionTrouble = map[string]string{
	"en": "I'm having trouble connecting to the pharmacy system. Please try again.",
	"hi": "फार्मेसी सिस्टम से जुड़ने में समस्या हो रही है। कृपया फिर से प्रयास करें।",
	"mr": "फार्मसी सिस्टमशी जोडणी करताना अडचण येत आहे. कृपया पुन्हा प्रयत्न करा.",
}

// Greeting returns the opening assistant message for language.
func Greeting(language string) string {
	if g, ok := greetings[language]; ok {
		return g
	}
	return greetings[DefaultLanguage]
}

// ConnectionTrouble returns the reply shown when the backend is unreachable.
func ConnectionTrouble(language string) string {
	if m, ok := connectionTrouble[language]; ok {
		return m
	}
	return connectionTrouble[DefaultLanguage]
}

// Conversation is the ordered list of turns plus the selected language.
// Every reset starts a new generation.
type Conversation struct {
	mu         sync.RWMutex
	language   string
	generation uint64
	turns      []Turn
}

// NewConversation starts a conversation greeted in language.
func NewConversation(language string) *Conversation {
	c := &Conversation{}
	c.SetLanguage(language)
	return c
}

// SetLanguage switches language and resets the conversation to the single
// greeting in that language. History is discarded.
func (c *Conversation) SetLanguage(language string) {
	if _, ok := greetings[language]; !ok {
		language = DefaultLanguage
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.language = language
	c.generation++
	c.turns = []Turn{{Role: RoleAssistant, Text: Greeting(language)}}
}

// Generation identifies the current conversation; it changes on every reset.
func (c *Conversation) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Language returns the selected language code.
func (c *Conversation) Language() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.language
}

// Turns returns a copy of the history, oldest first.
func (c *Conversation) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Turn(nil), c.turns...)
}

// Append adds a turn at the end.
func (c *Conversation) Append(t Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, t)
}

// open appends t and returns the language and generation it was recorded under.
func (c *Conversation) open(t Turn) (string, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, t)
	return c.language, c.generation
}

// appendTo adds t only while generation is still current.
func (c *Conversation) appendTo(generation uint64, t Turn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return false
	}
	c.turns = append(c.turns, t)
	return true
}
