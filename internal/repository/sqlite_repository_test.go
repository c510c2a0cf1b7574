package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openchat/backend/internal/database"
	"openchat/backend/internal/model"
	"openchat/backend/internal/repository"
)

func setupSQLiteRepo(t *testing.T) repository.Repository {
	t.Helper()
	db, err := database.InitDB(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repository.NewSQLiteRepository(db)
}

func newStreamingMessage(t *testing.T, repo repository.Repository, owner string) (*model.Conversation, *model.Message) {
	t.Helper()
	ctx := context.Background()
	conv, err := repo.CreateConversation(ctx, owner, "")
	require.NoError(t, err)
	_, err = repo.AddUserMessage(ctx, conv.ID, "hello")
	require.NoError(t, err)
	msg, err := repo.CreateModelMessage(ctx, model.NewModelMessage{
		ConversationID: conv.ID,
		ModelID:        "llama3.2",
		DisplayName:    "Llama 3.2",
		Prompt:         "hello",
	})
	require.NoError(t, err)
	return conv, msg
}

func TestSQLiteRepository_Conversations(t *testing.T) {
	ctx := context.Background()
	repo := setupSQLiteRepo(t)

	conv, err := repo.CreateConversation(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConversationTitle, conv.Title)

	t.Run("Owner can read", func(t *testing.T) {
		got, err := repo.GetConversation(ctx, conv.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, conv.ID, got.ID)
	})

	t.Run("Other owner gets not found", func(t *testing.T) {
		_, err := repo.GetConversation(ctx, conv.ID, "bob")
		assert.ErrorIs(t, err, repository.ErrNotFound)
		assert.ErrorIs(t, repo.UpdateConversationTitle(ctx, conv.ID, "bob", "stolen"), repository.ErrNotFound)
		assert.ErrorIs(t, repo.DeleteConversation(ctx, conv.ID, "bob"), repository.ErrNotFound)
	})

	t.Run("Rename and list", func(t *testing.T) {
		require.NoError(t, repo.UpdateConversationTitle(ctx, conv.ID, "alice", "Trip plans"))
		second, err := repo.CreateConversation(ctx, "alice", "Second")
		require.NoError(t, err)

		list, err := repo.ListConversations(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second.ID, list[0].ID)
		assert.Equal(t, "Trip plans", list[1].Title)

		others, err := repo.ListConversations(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, others)
	})
}

func TestSQLiteRepository_AppendAndFinalize(t *testing.T) {
	ctx := context.Background()
	repo := setupSQLiteRepo(t)
	conv, msg := newStreamingMessage(t, repo, "alice")

	for _, c := range []string{"Hel", "lo", "", " world"} {
		require.NoError(t, repo.AppendToModelMessage(ctx, msg.ID, c))
	}

	usage := &model.Usage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8}
	final, err := repo.FinalizeModelMessage(ctx, msg.ID, usage)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", final.Text)
	assert.Equal(t, model.StatusDone, final.Status)
	assert.Equal(t, usage, final.Usage)

	t.Run("Finalize twice merges nothing new", func(t *testing.T) {
		again, err := repo.FinalizeModelMessage(ctx, msg.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, "Hello world", again.Text)
		assert.Equal(t, usage, again.Usage)
	})

	t.Run("History returns user then model", func(t *testing.T) {
		msgs, err := repo.GetMessages(ctx, conv.ID, "alice", 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, model.SenderUser, msgs[0].Sender)
		assert.Equal(t, model.SenderModel, msgs[1].Sender)
		assert.Equal(t, "Hello world", msgs[1].Text)
		assert.Equal(t, "Llama 3.2", msgs[1].ModelName)
	})

	t.Run("Mark error after done is rejected", func(t *testing.T) {
		err := repo.MarkModelMessageError(ctx, msg.ID, "late failure")
		assert.ErrorIs(t, err, repository.ErrInvalidTransition)
	})
}

func TestSQLiteRepository_ConcurrentAppendsKeepEveryChunk(t *testing.T) {
	ctx := context.Background()
	repo := setupSQLiteRepo(t)
	_, msg := newStreamingMessage(t, repo, "alice")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.AppendToModelMessage(ctx, msg.ID, "x"))
		}()
	}
	wg.Wait()

	final, err := repo.FinalizeModelMessage(ctx, msg.ID, nil)
	require.NoError(t, err)
	assert.Len(t, final.Text, n)
}

func TestSQLiteRepository_PartialMessageIsMergedOnRead(t *testing.T) {
	ctx := context.Background()
	repo := setupSQLiteRepo(t)
	conv, msg := newStreamingMessage(t, repo, "alice")

	require.NoError(t, repo.AppendToModelMessage(ctx, msg.ID, "part one, "))
	require.NoError(t, repo.AppendToModelMessage(ctx, msg.ID, "part two"))

	msgs, err := repo.GetMessages(ctx, conv.ID, "alice", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.StatusStreaming, msgs[1].Status)
	assert.Equal(t, "part one, part two", msgs[1].Text)
}

func TestSQLiteRepository_MarkError(t *testing.T) {
	ctx := context.Background()
	repo := setupSQLiteRepo(t)
	conv, msg := newStreamingMessage(t, repo, "alice")

	require.NoError(t, repo.AppendToModelMessage(ctx, msg.ID, "Partial"))
	require.NoError(t, repo.AppendToModelMessage(ctx, msg.ID, "\n\n[Error: boom]"))
	require.NoError(t, repo.MarkModelMessageError(ctx, msg.ID, "boom"))

	msgs, err := repo.GetMessages(ctx, conv.ID, "alice", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.StatusError, msgs[1].Status)
	assert.Equal(t, "boom", msgs[1].Error)
	assert.Equal(t, "Partial\n\n[Error: boom]", msgs[1].Text)

	_, err = repo.FinalizeModelMessage(ctx, msg.ID, nil)
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)

	_, err = repo.FinalizeModelMessage(ctx, "missing", nil)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSQLiteRepository_GetMessagesLimit(t *testing.T) {
	ctx := context.Background()
	repo := setupSQLiteRepo(t)
	conv, err := repo.CreateConversation(ctx, "alice", "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := repo.AddUserMessage(ctx, conv.ID, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	msgs, err := repo.GetMessages(ctx, conv.ID, "alice", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m3", msgs[0].Text)
	assert.Equal(t, "m4", msgs[1].Text)

	_, err = repo.GetMessages(ctx, conv.ID, "bob", 2)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSQLiteRepository_DeleteConversationCascades(t *testing.T) {
	ctx := context.Background()
	repo := setupSQLiteRepo(t)
	conv, msg := newStreamingMessage(t, repo, "alice")
	require.NoError(t, repo.AppendToModelMessage(ctx, msg.ID, "dangling"))

	require.NoError(t, repo.DeleteConversation(ctx, conv.ID, "alice"))

	_, err := repo.GetConversation(ctx, conv.ID, "alice")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.FinalizeModelMessage(ctx, msg.ID, nil)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSQLiteRepository_CatalogAndKeys(t *testing.T) {
	ctx := context.Background()
	repo := setupSQLiteRepo(t)

	require.NoError(t, repo.UpsertCatalogModel(ctx, &model.CatalogModel{Name: "llama3.2", Provider: "ollama", IsActive: true}))
	require.NoError(t, repo.UpsertCatalogModel(ctx, &model.CatalogModel{Name: "phi3", Provider: "ollama", IsActive: false}))
	require.NoError(t, repo.UpsertCatalogModel(ctx, &model.CatalogModel{Name: "gpt-4o-mini", Provider: "openai", IsActive: true}))

	active, err := repo.FindActiveModels(ctx, "ollama")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "llama3.2", active[0].Name)

	require.NoError(t, repo.UpsertCatalogModel(ctx, &model.CatalogModel{Name: "phi3", DisplayName: "Phi 3", Provider: "ollama", IsActive: true}))
	got, err := repo.GetCatalogModel(ctx, "phi3")
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, "Phi 3", got.Label())

	require.NoError(t, repo.DeleteCatalogModel(ctx, "phi3"))
	assert.ErrorIs(t, repo.DeleteCatalogModel(ctx, "phi3"), repository.ErrNotFound)

	require.NoError(t, repo.SetAPIKey(ctx, "alice", "openai", "sk-1"))
	require.NoError(t, repo.SetAPIKey(ctx, "alice", "openai", "sk-2"))
	key, err := repo.GetAPIKey(ctx, "alice", "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-2", key)

	_, err = repo.GetAPIKey(ctx, "bob", "openai")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	providers, err := repo.ListAPIKeyProviders(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"openai"}, providers)

	require.NoError(t, repo.DeleteAPIKey(ctx, "alice", "openai"))
	assert.ErrorIs(t, repo.DeleteAPIKey(ctx, "alice", "openai"), repository.ErrNotFound)
}

func TestSQLiteRepository_AppendNeverReadsMessage(t *testing.T) {
	db, mockDB, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	repo := repository.NewSQLiteRepository(db)

	mockDB.ExpectBegin()
	mockDB.ExpectExec(regexp.QuoteMeta("INSERT INTO message_chunks (message_id, content) VALUES (?, ?)")).
		WithArgs("msg-1", "chunk").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mockDB.ExpectExec(regexp.QuoteMeta("UPDATE messages SET updated_at = ? WHERE id = ?")).
		WithArgs(sqlmock.AnyArg(), "msg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	require.NoError(t, repo.AppendToModelMessage(context.Background(), "msg-1", "chunk"))
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestSQLiteRepository_AppendRollsBackOnFailure(t *testing.T) {
	db, mockDB, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	repo := repository.NewSQLiteRepository(db)
	dbErr := errors.New("disk full")

	mockDB.ExpectBegin()
	mockDB.ExpectExec("INSERT INTO message_chunks").WillReturnError(dbErr)
	mockDB.ExpectRollback()

	err = repo.AppendToModelMessage(context.Background(), "msg-1", "chunk")
	assert.ErrorIs(t, err, dbErr)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestSQLiteRepository_FinalizeUnknownMessage(t *testing.T) {
	db, mockDB, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	repo := repository.NewSQLiteRepository(db)

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("SELECT id, conversation_id").WithArgs("nope").WillReturnError(sql.ErrNoRows)
	mockDB.ExpectRollback()

	_, err = repo.FinalizeModelMessage(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}
