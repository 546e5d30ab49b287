package conversation

import (
	"strings"
	"time"
	"unicode/utf8"

	"ragdocs/backend/internal/answer"
)

const (
	RoleUser      = answer.RoleUser
	RoleAssistant = answer.RoleAssistant
)

// Message is one turn of a conversation. Assistant messages carry the sources
// they cited.
type Message struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Sources   []answer.Source `json:"sources,omitempty"`
	Position  int             `json:"position"`
	CreatedAt time.Time       `json:"created_at"`
}

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// History projects the turn sequence for the synthesizer.
func (c *Conversation) History() []answer.Turn {
	turns := make([]answer.Turn, 0, len(c.Messages))
	for _, m := range c.Messages {
		turns = append(turns, answer.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

// titleFrom derives a conversation title from its first message, cut at a
// word boundary.
func titleFrom(message string) string {
	const maxTitle = 80

	title := strings.TrimSpace(message)
	if title == "" {
		return "New Chat"
	}
	if len(title) <= maxTitle {
		return title
	}

	cut := title[:maxTitle]
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	} else {
		// No space inside the budget; never split a multi-byte rune.
		for len(cut) > 0 && !utf8.RuneStart(title[len(cut)]) {
			cut = title[:len(cut)-1]
		}
	}
	return strings.TrimSpace(cut) + "..."
}
