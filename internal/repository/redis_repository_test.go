package repository_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openchat/backend/internal/model"
	"openchat/backend/internal/repository"
)

func setupRedisRepo(t *testing.T) (repository.Repository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return repository.NewRedisRepository(rdb), mr
}

func TestRedisRepository_StreamLifecycle(t *testing.T) {
	ctx := context.Background()
	repo, mr := setupRedisRepo(t)
	conv, msg := newStreamingMessage(t, repo, "alice")

	require.NoError(t, repo.AppendToModelMessage(ctx, msg.ID, "Hel"))
	require.NoError(t, repo.AppendToModelMessage(ctx, msg.ID, "lo"))

	t.Run("Partial text is visible before finalize", func(t *testing.T) {
		msgs, err := repo.GetMessages(ctx, conv.ID, "alice", 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "Hello", msgs[1].Text)
		assert.Equal(t, model.StatusStreaming, msgs[1].Status)
	})

	usage := &model.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}
	final, err := repo.FinalizeModelMessage(ctx, msg.ID, usage)
	require.NoError(t, err)
	assert.Equal(t, "Hello", final.Text)
	assert.Equal(t, model.StatusDone, final.Status)
	assert.Equal(t, usage, final.Usage)
	assert.False(t, mr.Exists("message:"+msg.ID+":chunks"))

	again, err := repo.FinalizeModelMessage(ctx, msg.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello", again.Text)

	assert.ErrorIs(t, repo.MarkModelMessageError(ctx, msg.ID, "late"), repository.ErrInvalidTransition)
}

func TestRedisRepository_MarkError(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRedisRepo(t)
	conv, msg := newStreamingMessage(t, repo, "alice")

	require.NoError(t, repo.AppendToModelMessage(ctx, msg.ID, "Partial"))
	require.NoError(t, repo.AppendToModelMessage(ctx, msg.ID, "\n\n[Client disconnected]"))
	require.NoError(t, repo.MarkModelMessageError(ctx, msg.ID, "client disconnected"))

	msgs, err := repo.GetMessages(ctx, conv.ID, "alice", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.StatusError, msgs[1].Status)
	assert.Equal(t, "Partial\n\n[Client disconnected]", msgs[1].Text)

	_, err = repo.FinalizeModelMessage(ctx, msg.ID, nil)
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)

	assert.ErrorIs(t, repo.MarkModelMessageError(ctx, "missing", "x"), repository.ErrNotFound)
}

func TestRedisRepository_Ownership(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRedisRepo(t)
	conv, err := repo.CreateConversation(ctx, "alice", "Mine")
	require.NoError(t, err)

	_, err = repo.GetConversation(ctx, conv.ID, "bob")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.GetMessages(ctx, conv.ID, "bob", 10)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteConversation(ctx, conv.ID, "bob"), repository.ErrNotFound)

	list, err := repo.ListConversations(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRedisRepository_DeleteConversationCascades(t *testing.T) {
	ctx := context.Background()
	repo, mr := setupRedisRepo(t)
	conv, msg := newStreamingMessage(t, repo, "alice")
	require.NoError(t, repo.AppendToModelMessage(ctx, msg.ID, "dangling"))

	require.NoError(t, repo.DeleteConversation(ctx, conv.ID, "alice"))

	assert.False(t, mr.Exists("conversation:"+conv.ID))
	assert.False(t, mr.Exists("message:"+msg.ID))
	assert.False(t, mr.Exists("message:"+msg.ID+":chunks"))

	list, err := repo.ListConversations(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRedisRepository_AppendAfterDeleteLeavesNoKeys(t *testing.T) {
	ctx := context.Background()
	repo, mr := setupRedisRepo(t)
	conv, msg := newStreamingMessage(t, repo, "alice")
	require.NoError(t, repo.DeleteConversation(ctx, conv.ID, "alice"))

	err := repo.AppendToModelMessage(ctx, msg.ID, "late chunk")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	assert.False(t, mr.Exists("message:"+msg.ID))
	assert.False(t, mr.Exists("message:"+msg.ID+":chunks"))
}

func TestRedisRepository_CatalogAndKeys(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRedisRepo(t)

	require.NoError(t, repo.UpsertCatalogModel(ctx, &model.CatalogModel{Name: "llama3.2", Provider: "ollama", IsActive: true}))
	require.NoError(t, repo.UpsertCatalogModel(ctx, &model.CatalogModel{Name: "phi3", Provider: "ollama"}))

	active, err := repo.FindActiveModels(ctx, "ollama")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "llama3.2", active[0].Name)

	require.NoError(t, repo.DeleteCatalogModel(ctx, "phi3"))
	assert.ErrorIs(t, repo.DeleteCatalogModel(ctx, "phi3"), repository.ErrNotFound)

	require.NoError(t, repo.SetAPIKey(ctx, "alice", "groq", "gsk-1"))
	key, err := repo.GetAPIKey(ctx, "alice", "groq")
	require.NoError(t, err)
	assert.Equal(t, "gsk-1", key)

	providers, err := repo.ListAPIKeyProviders(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"groq"}, providers)

	require.NoError(t, repo.DeleteAPIKey(ctx, "alice", "groq"))
	_, err = repo.GetAPIKey(ctx, "alice", "groq")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
