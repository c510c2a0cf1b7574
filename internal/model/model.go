package model

import (
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderModel Sender = "model"
)

// MessageStatus is the lifecycle state of a message. Transitions only move
// forward: pending -> streaming -> done|error.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusStreaming MessageStatus = "streaming"
	StatusDone      MessageStatus = "done"
	StatusError     MessageStatus = "error"
)

// IsTerminal reports whether no further transition is allowed.
func (s MessageStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// DefaultConversationTitle is used when a conversation is created without one.
const DefaultConversationTitle = "New Chat"

// Conversation stores metadata about a conversation. Exactly one owner may
// read, append to or delete it.
type Conversation struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Title        string    `json:"title"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
}

// Usage holds optional token counters reported by a runtime or provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Message stores a single message in a conversation.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Sender         Sender        `json:"sender"`
	Prompt         string        `json:"prompt,omitempty"`
	Text           string        `json:"text"`
	ModelID        string        `json:"model_id,omitempty"`
	ModelName      string        `json:"model_name,omitempty"`
	Status         MessageStatus `json:"status"`
	Error          string        `json:"error,omitempty"`
	Usage          *Usage        `json:"usage,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// NewModelMessage describes the placeholder assistant message created before
// generation starts.
type NewModelMessage struct {
	ConversationID string
	ModelID        string
	DisplayName    string
	Prompt         string
}

// FullConversation includes the conversation metadata and its messages.
type FullConversation struct {
	Conversation
	Messages []Message `json:"messages"`
}

// Provider name of the local inference runtime.
const ProviderOllama = "ollama"

// CatalogModel is one row of the model catalog.
type CatalogModel struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Provider    string    `json:"provider"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Label returns the display name, falling back to the model name.
func (m CatalogModel) Label() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Name
}
