package interfaces

import (
	"context"

	"openchat/backend/internal/llm"
	"openchat/backend/internal/model"
	"openchat/backend/internal/service"
)

// This file defines the interfaces for our core services.
// The API layer depends on these instead of concrete implementations so
// handlers can be tested against generated mocks.

// ChatService defines the contract for conversations and chat turns.
type ChatService interface {
	PrepareTurn(ctx context.Context, ownerID string, req *service.ChatRequest) (*service.Turn, error)
	StreamTurn(ctx context.Context, turn *service.Turn, out chan<- model.StreamEvent)

	ListConversations(ctx context.Context, ownerID string) ([]*model.Conversation, error)
	CreateConversation(ctx context.Context, ownerID, title string) (*model.Conversation, error)
	GetConversation(ctx context.Context, ownerID, conversationID string, limit int) (*model.FullConversation, error)
	UpdateConversationTitle(ctx context.Context, ownerID, conversationID, title string) error
	DeleteConversation(ctx context.Context, ownerID, conversationID string) error
}

// ModelService defines the contract for model catalog management.
type ModelService interface {
	List(ctx context.Context) ([]model.CatalogModel, error)
	Allowed(ctx context.Context) []string
	RuntimeModels(ctx context.Context) (*llm.ListModelsResponse, error)
	Create(ctx context.Context, req *service.CreateModelRequest) (*model.CatalogModel, error)
	Update(ctx context.Context, name string, req *service.UpdateModelRequest) (*model.CatalogModel, error)
	Delete(ctx context.Context, name string) error
}

// KeyService defines the contract for per-user provider API keys.
type KeyService interface {
	List(ctx context.Context, ownerID string) ([]service.KeyStatus, error)
	Set(ctx context.Context, ownerID, providerName, apiKey string) error
	Delete(ctx context.Context, ownerID, providerName string) error
	ProviderModels(ctx context.Context, ownerID, providerName string) ([]string, error)
}
