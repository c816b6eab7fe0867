package domain

import (
	"time"
)

// ChatRole identifies the author of a transcript entry.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
	RoleError     ChatRole = "error"
)

// ChatMessage is one transcript entry. The transcript is append-only and
// insertion-ordered; entries are never reordered, retracted, or deduplicated.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	Language  string    `json:"language"`
	Timestamp time.Time `json:"timestamp"`
}
