package store

import "time"

// DefaultTitle is the placeholder a conversation carries until its first
// user message or document upload names it.
const DefaultTitle = "New Chat"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Conversation ties together a user, their messages, and at most one
// accumulated document knowledge base.
type Conversation struct {
	ID           string    `json:"id"` // UUID
	UserID       int64     `json:"user_id"`
	Title        string    `json:"title"`
	DocumentName *string   `json:"document_name,omitempty"`
	ContentType  *string   `json:"content_type,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Message is one append-only entry in a conversation. Metadata is an
// optional JSON document (e.g. retrieval diagnostics); it is never required.
type Message struct {
	ID             string    `json:"id"` // UUID
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // user | assistant | system
	Content        string    `json:"content"`
	Metadata       *string   `json:"metadata,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
