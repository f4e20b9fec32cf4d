// Package chat produces assistant replies from recognized text.
package chat

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/lexiqai/device-gateway/internal/resilience"
)

// Roles used in Message
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior turn of conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries one chat turn
type Request struct {
	SessionID string
	DeviceID  string
	UserID    string // Speaker name when voiceprint identified one
	History   []Message
	Text      string
	ImagePath string // Image to answer about, if any
}

// Client produces a reply for a request
type Client interface {
	Chat(ctx context.Context, req Request) (string, error)
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// CleanReply removes reasoning blocks and surrounding whitespace
func CleanReply(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	if i := strings.Index(s, "<think>"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// History keeps the most recent turns of one session
type History struct {
	mu       sync.Mutex
	maxTurns int
	messages []Message
}

// NewHistory keeps at most maxTurns user/assistant pairs
func NewHistory(maxTurns int) *History {
	return &History{maxTurns: maxTurns}
}

// Add records one exchange
func (h *History) Add(user, assistant string) {
	if h.maxTurns <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages,
		Message{Role: RoleUser, Content: user},
		Message{Role: RoleAssistant, Content: assistant},
	)
	if over := len(h.messages) - 2*h.maxTurns; over > 0 {
		h.messages = append([]Message(nil), h.messages[over:]...)
	}
}

// Messages returns a copy of the kept turns, oldest first
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.messages...)
}

// Guarded runs a Client under a resilience guard
type Guarded struct {
	next  Client
	guard *resilience.Guard
}

// WithGuard wraps c
func WithGuard(c Client, g *resilience.Guard) *Guarded {
	return &Guarded{next: c, guard: g}
}

// Chat implements Client
func (g *Guarded) Chat(ctx context.Context, req Request) (string, error) {
	var reply string
	err := g.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		reply, err = g.next.Chat(ctx, req)
		return err
	})
	return reply, err
}
