package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"openchat/backend/internal/model"
)

type sqliteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(db *sql.DB) Repository {
	return &sqliteRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// --- Conversations ---

func (r *sqliteRepository) CreateConversation(ctx context.Context, ownerID, title string) (*model.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = model.DefaultConversationTitle
	}
	now := r.now()
	conv := &model.Conversation{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Title:        title,
		LastActivity: now,
		CreatedAt:    now,
	}
	query := "INSERT INTO conversations (id, owner_id, title, last_activity, created_at) VALUES (?, ?, ?, ?, ?)"
	if _, err := r.db.ExecContext(ctx, query, conv.ID, conv.OwnerID, conv.Title, conv.LastActivity, conv.CreatedAt); err != nil {
		return nil, fmt.Errorf("could not insert conversation: %w", err)
	}
	return conv, nil
}

func (r *sqliteRepository) GetConversation(ctx context.Context, conversationID, ownerID string) (*model.Conversation, error) {
	query := "SELECT id, owner_id, title, last_activity, created_at FROM conversations WHERE id = ? AND owner_id = ?"
	var conv model.Conversation
	err := r.db.QueryRowContext(ctx, query, conversationID, ownerID).
		Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.LastActivity, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

func (r *sqliteRepository) ListConversations(ctx context.Context, ownerID string) ([]*model.Conversation, error) {
	query := "SELECT id, owner_id, title, last_activity, created_at FROM conversations WHERE owner_id = ? ORDER BY last_activity DESC"
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	convs := []*model.Conversation{}
	for rows.Next() {
		var conv model.Conversation
		if err := rows.Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.LastActivity, &conv.CreatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, &conv)
	}
	return convs, rows.Err()
}

func (r *sqliteRepository) UpdateConversationTitle(ctx context.Context, conversationID, ownerID, title string) error {
	query := "UPDATE conversations SET title = ?, last_activity = ? WHERE id = ? AND owner_id = ?"
	res, err := r.db.ExecContext(ctx, query, title, r.now(), conversationID, ownerID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *sqliteRepository) TouchConversation(ctx context.Context, conversationID string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE conversations SET last_activity = ? WHERE id = ?", r.now(), conversationID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// DeleteConversation removes the conversation, its messages and their pending
// chunks in one transaction so a crash cannot leave orphans behind.
func (r *sqliteRepository) DeleteConversation(ctx context.Context, conversationID, ownerID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM conversations WHERE id = ? AND owner_id = ?", conversationID, ownerID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	statements := []string{
		"DELETE FROM message_chunks WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = ?)",
		"DELETE FROM messages WHERE conversation_id = ?",
		"DELETE FROM conversations WHERE id = ?",
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, conversationID); err != nil {
			return fmt.Errorf("could not delete conversation %s: %w", conversationID, err)
		}
	}
	return tx.Commit()
}

// --- Messages ---

const messageColumns = `id, conversation_id, sender, prompt, text, model_id, model_name, status, error,
	prompt_tokens, completion_tokens, total_tokens, created_at, updated_at`

func (r *sqliteRepository) AddUserMessage(ctx context.Context, conversationID, text string) (*model.Message, error) {
	now := r.now()
	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         model.SenderUser,
		Text:           text,
		Status:         model.StatusDone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertMessage(ctx, tx, msg); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE conversations SET last_activity = ? WHERE id = ?", now, conversationID); err != nil {
		return nil, fmt.Errorf("could not update conversation activity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *sqliteRepository) CreateModelMessage(ctx context.Context, in model.NewModelMessage) (*model.Message, error) {
	now := r.now()
	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		Sender:         model.SenderModel,
		Prompt:         in.Prompt,
		ModelID:        in.ModelID,
		ModelName:      in.DisplayName,
		Status:         model.StatusStreaming,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := insertMessage(ctx, r.db, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertMessage(ctx context.Context, db execer, msg *model.Message) error {
	query := `INSERT INTO messages (id, conversation_id, sender, prompt, text, model_id, model_name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		string(msg.Sender),
		nullString(msg.Prompt),
		msg.Text,
		nullString(msg.ModelID),
		nullString(msg.ModelName),
		string(msg.Status),
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("could not insert message: %w", err)
	}
	return nil
}

func (r *sqliteRepository) AppendToModelMessage(ctx context.Context, messageID, chunk string) error {
	if chunk == "" {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "INSERT INTO message_chunks (message_id, content) VALUES (?, ?)", messageID, chunk); err != nil {
		return fmt.Errorf("could not append chunk: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE messages SET updated_at = ? WHERE id = ?", r.now(), messageID); err != nil {
		return fmt.Errorf("could not bump message timestamp: %w", err)
	}
	return tx.Commit()
}

// FinalizeModelMessage merges pending chunks into text and marks the message
// done. Calling it again on a done message merges nothing.
func (r *sqliteRepository) FinalizeModelMessage(ctx context.Context, messageID string, usage *model.Usage) (*model.Message, error) {
	return r.settle(ctx, messageID, func(status model.MessageStatus) (model.MessageStatus, string, error) {
		if status == model.StatusError {
			return "", "", ErrInvalidTransition
		}
		return model.StatusDone, "", nil
	}, usage)
}

// MarkModelMessageError marks the message failed. Pending chunks are folded into
// text so the partial output stays readable.
func (r *sqliteRepository) MarkModelMessageError(ctx context.Context, messageID, errText string) error {
	_, err := r.settle(ctx, messageID, func(status model.MessageStatus) (model.MessageStatus, string, error) {
		if status.IsTerminal() {
			return "", "", ErrInvalidTransition
		}
		return model.StatusError, errText, nil
	}, nil)
	return err
}

type transitionFunc func(current model.MessageStatus) (next model.MessageStatus, errText string, err error)

func (r *sqliteRepository) settle(ctx context.Context, messageID string, transition transitionFunc, usage *model.Usage) (*model.Message, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	msg, err := scanMessage(tx.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = ?", messageID))
	if err != nil {
		return nil, err
	}

	next, errText, err := transition(msg.Status)
	if err != nil {
		return nil, err
	}

	chunks, err := loadChunks(ctx, tx, messageID)
	if err != nil {
		return nil, err
	}
	msg.Text += strings.Join(chunks, "")
	msg.Status = next
	msg.UpdatedAt = r.now()
	if errText != "" {
		msg.Error = errText
	}
	if usage != nil {
		msg.Usage = usage
	}

	var prompt, completion, total sql.NullInt64
	if msg.Usage != nil {
		prompt = sql.NullInt64{Int64: int64(msg.Usage.PromptTokens), Valid: true}
		completion = sql.NullInt64{Int64: int64(msg.Usage.CompletionTokens), Valid: true}
		total = sql.NullInt64{Int64: int64(msg.Usage.TotalTokens), Valid: true}
	}

	update := `UPDATE messages SET text = ?, status = ?, error = ?, prompt_tokens = ?, completion_tokens = ?,
		total_tokens = ?, updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, update, msg.Text, string(msg.Status), nullString(msg.Error),
		prompt, completion, total, msg.UpdatedAt, messageID); err != nil {
		return nil, fmt.Errorf("could not update message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM message_chunks WHERE message_id = ?", messageID); err != nil {
		return nil, fmt.Errorf("could not clear chunks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *sqliteRepository) GetMessages(ctx context.Context, conversationID, ownerID string, limit int) ([]model.Message, error) {
	if _, err := r.GetConversation(ctx, conversationID, ownerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	query := `SELECT ` + messageColumns + ` FROM (
			SELECT m.*, m.rowid AS seq FROM messages m
			JOIN conversations c ON c.id = m.conversation_id
			WHERE m.conversation_id = ? AND c.owner_id = ?
			ORDER BY m.created_at DESC, seq DESC
			LIMIT ?
		) ORDER BY created_at ASC, seq ASC`
	rows, err := r.db.QueryContext(ctx, query, conversationID, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []model.Message{}
	index := map[string]int{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		index[msg.ID] = len(messages)
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Chunks only survive here when a stream never reached finalization.
	chunkQuery := `SELECT mc.message_id, mc.content FROM message_chunks mc
		JOIN messages m ON m.id = mc.message_id
		WHERE m.conversation_id = ? ORDER BY mc.id ASC`
	chunkRows, err := r.db.QueryContext(ctx, chunkQuery, conversationID)
	if err != nil {
		return nil, err
	}
	defer chunkRows.Close()
	for chunkRows.Next() {
		var messageID, content string
		if err := chunkRows.Scan(&messageID, &content); err != nil {
			return nil, err
		}
		if i, ok := index[messageID]; ok {
			messages[i].Text += content
		}
	}
	return messages, chunkRows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var (
		msg                         model.Message
		sender, status              string
		prompt, modelID, modelName  sql.NullString
		errText                     sql.NullString
		promptTok, complTok, allTok sql.NullInt64
	)
	err := row.Scan(&msg.ID, &msg.ConversationID, &sender, &prompt, &msg.Text, &modelID, &modelName,
		&status, &errText, &promptTok, &complTok, &allTok, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	msg.Sender = model.Sender(sender)
	msg.Status = model.MessageStatus(status)
	msg.Prompt = prompt.String
	msg.ModelID = modelID.String
	msg.ModelName = modelName.String
	msg.Error = errText.String
	if promptTok.Valid || complTok.Valid || allTok.Valid {
		msg.Usage = &model.Usage{
			PromptTokens:     int(promptTok.Int64),
			CompletionTokens: int(complTok.Int64),
			TotalTokens:      int(allTok.Int64),
		}
	}
	return &msg, nil
}

func loadChunks(ctx context.Context, tx *sql.Tx, messageID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, "SELECT content FROM message_chunks WHERE message_id = ? ORDER BY id ASC", messageID)
	if err != nil {
		return nil, fmt.Errorf("could not load chunks: %w", err)
	}
	defer rows.Close()

	var chunks []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		chunks = append(chunks, content)
	}
	return chunks, rows.Err()
}

// --- Catalog ---

func (r *sqliteRepository) ListCatalogModels(ctx context.Context) ([]model.CatalogModel, error) {
	return r.queryCatalog(ctx, "SELECT name, display_name, provider, is_active, created_at, updated_at FROM catalog_models ORDER BY name")
}

func (r *sqliteRepository) FindActiveModels(ctx context.Context, provider string) ([]model.CatalogModel, error) {
	return r.queryCatalog(ctx, `SELECT name, display_name, provider, is_active, created_at, updated_at
		FROM catalog_models WHERE is_active = TRUE AND provider = ? ORDER BY name`, provider)
}

func (r *sqliteRepository) GetCatalogModel(ctx context.Context, name string) (*model.CatalogModel, error) {
	models, err := r.queryCatalog(ctx, `SELECT name, display_name, provider, is_active, created_at, updated_at
		FROM catalog_models WHERE name = ?`, name)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, ErrNotFound
	}
	return &models[0], nil
}

func (r *sqliteRepository) queryCatalog(ctx context.Context, query string, args ...interface{}) ([]model.CatalogModel, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	models := []model.CatalogModel{}
	for rows.Next() {
		var m model.CatalogModel
		if err := rows.Scan(&m.Name, &m.DisplayName, &m.Provider, &m.IsActive, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

func (r *sqliteRepository) UpsertCatalogModel(ctx context.Context, m *model.CatalogModel) error {
	now := r.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	query := `INSERT INTO catalog_models (name, display_name, provider, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET display_name = excluded.display_name, provider = excluded.provider,
			is_active = excluded.is_active, updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, query, m.Name, m.DisplayName, m.Provider, m.IsActive, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r *sqliteRepository) DeleteCatalogModel(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM catalog_models WHERE name = ?", name)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// --- API keys ---

func (r *sqliteRepository) SetAPIKey(ctx context.Context, ownerID, provider, key string) error {
	query := `INSERT INTO api_keys (owner_id, provider, api_key, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(owner_id, provider) DO UPDATE SET api_key = excluded.api_key, updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, query, ownerID, provider, key, r.now())
	return err
}

func (r *sqliteRepository) GetAPIKey(ctx context.Context, ownerID, provider string) (string, error) {
	var key string
	err := r.db.QueryRowContext(ctx, "SELECT api_key FROM api_keys WHERE owner_id = ? AND provider = ?", ownerID, provider).Scan(&key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return key, nil
}

func (r *sqliteRepository) DeleteAPIKey(ctx context.Context, ownerID, provider string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM api_keys WHERE owner_id = ? AND provider = ?", ownerID, provider)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *sqliteRepository) ListAPIKeyProviders(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT provider FROM api_keys WHERE owner_id = ? ORDER BY provider", ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	providers := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

// --- Helpers ---

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
