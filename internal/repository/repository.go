package repository

import (
	"context"

	"openchat/backend/internal/model"
)

// ConversationStore persists conversations and messages with append-only
// streaming semantics for assistant messages.
type ConversationStore interface {
	CreateConversation(ctx context.Context, ownerID, title string) (*model.Conversation, error)
	// GetConversation returns ErrNotFound both for unknown ids and for
	// conversations owned by someone else.
	GetConversation(ctx context.Context, conversationID, ownerID string) (*model.Conversation, error)
	ListConversations(ctx context.Context, ownerID string) ([]*model.Conversation, error)
	UpdateConversationTitle(ctx context.Context, conversationID, ownerID, title string) error
	TouchConversation(ctx context.Context, conversationID string) error
	DeleteConversation(ctx context.Context, conversationID, ownerID string) error

	AddUserMessage(ctx context.Context, conversationID, text string) (*model.Message, error)
	CreateModelMessage(ctx context.Context, msg model.NewModelMessage) (*model.Message, error)
	// AppendToModelMessage atomically pushes one chunk onto an existing message
	// without reading its text.
	AppendToModelMessage(ctx context.Context, messageID, chunk string) error
	FinalizeModelMessage(ctx context.Context, messageID string, usage *model.Usage) (*model.Message, error)
	MarkModelMessageError(ctx context.Context, messageID, errText string) error
	GetMessages(ctx context.Context, conversationID, ownerID string, limit int) ([]model.Message, error)
}

// CatalogStore holds the model catalog the allow-list is derived from.
type CatalogStore interface {
	ListCatalogModels(ctx context.Context) ([]model.CatalogModel, error)
	FindActiveModels(ctx context.Context, provider string) ([]model.CatalogModel, error)
	GetCatalogModel(ctx context.Context, name string) (*model.CatalogModel, error)
	UpsertCatalogModel(ctx context.Context, m *model.CatalogModel) error
	DeleteCatalogModel(ctx context.Context, name string) error
}

// KeyStore holds per-user API keys for external providers.
type KeyStore interface {
	SetAPIKey(ctx context.Context, ownerID, provider, key string) error
	GetAPIKey(ctx context.Context, ownerID, provider string) (string, error)
	DeleteAPIKey(ctx context.Context, ownerID, provider string) error
	ListAPIKeyProviders(ctx context.Context, ownerID string) ([]string, error)
}

// Repository defines the interface for data storage operations.
// This interface makes it easy to switch database implementations.
type Repository interface {
	ConversationStore
	CatalogStore
	KeyStore
}

// DefaultMessageLimit is used when GetMessages is called with a non-positive limit.
const DefaultMessageLimit = 100
