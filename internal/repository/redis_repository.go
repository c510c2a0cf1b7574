package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"openchat/backend/internal/model"
)

type redisRepository struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisRepository(rdb *redis.Client) Repository {
	return &redisRepository{rdb: rdb, now: func() time.Time { return time.Now().UTC() }}
}

// Key Generation Helpers
func conversationKey(id string) string         { return fmt.Sprintf("conversation:%s", id) }
func conversationMessagesKey(id string) string { return fmt.Sprintf("conversation:%s:messages", id) }
func conversationSeqKey(id string) string      { return fmt.Sprintf("conversation:%s:seq", id) }
func messageKey(id string) string              { return fmt.Sprintf("message:%s", id) }
func messageChunksKey(id string) string        { return fmt.Sprintf("message:%s:chunks", id) }
func ownerConversationsKey(owner string) string {
	return fmt.Sprintf("owner:%s:conversations", owner)
}
func ownerKeysKey(owner string) string   { return fmt.Sprintf("owner:%s:apikeys", owner) }
func catalogModelKey(name string) string { return fmt.Sprintf("catalog:model:%s", name) }

const catalogIndexKey = "catalog:models"

// settleScript folds pending chunks into text and moves the message to a
// terminal status in one atomic step.
var settleScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return 'not_found' end
local target = ARGV[1]
if target == 'done' and status == 'error' then return 'invalid' end
if target == 'error' and (status == 'done' or status == 'error') then return 'invalid' end
local chunks = redis.call('LRANGE', KEYS[2], 0, -1)
local text = redis.call('HGET', KEYS[1], 'text') or ''
text = text .. table.concat(chunks)
redis.call('HSET', KEYS[1], 'text', text, 'status', target, 'updated_at', ARGV[2])
if ARGV[3] ~= '' then redis.call('HSET', KEYS[1], 'error', ARGV[3]) end
if ARGV[4] ~= '' then redis.call('HSET', KEYS[1], 'usage', ARGV[4]) end
redis.call('DEL', KEYS[2])
return 'ok'
`)

// appendScript pushes a chunk only while the message hash still exists.
var appendScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('RPUSH', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
return 1
`)

// --- Conversations ---

func (r *redisRepository) CreateConversation(ctx context.Context, ownerID, title string) (*model.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = model.DefaultConversationTitle
	}
	now := r.now()
	conv := &model.Conversation{ID: uuid.NewString(), OwnerID: ownerID, Title: title, LastActivity: now, CreatedAt: now}

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, conversationKey(conv.ID), map[string]interface{}{
		"id":            conv.ID,
		"owner_id":      conv.OwnerID,
		"title":         conv.Title,
		"last_activity": formatTime(conv.LastActivity),
		"created_at":    formatTime(conv.CreatedAt),
	})
	pipe.ZAdd(ctx, ownerConversationsKey(ownerID), redis.Z{Score: activityScore(now), Member: conv.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("could not create conversation: %w", err)
	}
	return conv, nil
}

func (r *redisRepository) GetConversation(ctx context.Context, conversationID, ownerID string) (*model.Conversation, error) {
	conv, err := r.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return conv, nil
}

func (r *redisRepository) loadConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	fields, err := r.rdb.HGetAll(ctx, conversationKey(conversationID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return &model.Conversation{
		ID:           fields["id"],
		OwnerID:      fields["owner_id"],
		Title:        fields["title"],
		LastActivity: parseTime(fields["last_activity"]),
		CreatedAt:    parseTime(fields["created_at"]),
	}, nil
}

func (r *redisRepository) ListConversations(ctx context.Context, ownerID string) ([]*model.Conversation, error) {
	ids, err := r.rdb.ZRevRange(ctx, ownerConversationsKey(ownerID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	convs := make([]*model.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := r.loadConversation(ctx, id)
		if err == nil {
			convs = append(convs, conv)
		}
	}
	return convs, nil
}

func (r *redisRepository) UpdateConversationTitle(ctx context.Context, conversationID, ownerID, title string) error {
	if _, err := r.GetConversation(ctx, conversationID, ownerID); err != nil {
		return err
	}
	now := r.now()
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, conversationKey(conversationID), "title", title, "last_activity", formatTime(now))
	pipe.ZAdd(ctx, ownerConversationsKey(ownerID), redis.Z{Score: activityScore(now), Member: conversationID})
	_, err := pipe.Exec(ctx)
	return err
}

func (r *redisRepository) TouchConversation(ctx context.Context, conversationID string) error {
	ownerID, err := r.rdb.HGet(ctx, conversationKey(conversationID), "owner_id").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return err
	}
	now := r.now()
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, conversationKey(conversationID), "last_activity", formatTime(now))
	pipe.ZAdd(ctx, ownerConversationsKey(ownerID), redis.Z{Score: activityScore(now), Member: conversationID})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisRepository) DeleteConversation(ctx context.Context, conversationID, ownerID string) error {
	if _, err := r.GetConversation(ctx, conversationID, ownerID); err != nil {
		return err
	}

	msgIDs, err := r.rdb.ZRange(ctx, conversationMessagesKey(conversationID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("could not get message IDs for deletion: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	if len(msgIDs) > 0 {
		keys := make([]string, 0, len(msgIDs)*2)
		for _, id := range msgIDs {
			keys = append(keys, messageKey(id), messageChunksKey(id))
		}
		pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, conversationKey(conversationID), conversationMessagesKey(conversationID), conversationSeqKey(conversationID))
	pipe.ZRem(ctx, ownerConversationsKey(ownerID), conversationID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute conversation deletion pipeline: %w", err)
	}
	return nil
}

// --- Messages ---

func (r *redisRepository) AddUserMessage(ctx context.Context, conversationID, text string) (*model.Message, error) {
	ownerID, err := r.rdb.HGet(ctx, conversationKey(conversationID), "owner_id").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
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
	err = r.insertMessage(ctx, msg, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, conversationKey(conversationID), "last_activity", formatTime(now))
		pipe.ZAdd(ctx, ownerConversationsKey(ownerID), redis.Z{Score: activityScore(now), Member: conversationID})
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *redisRepository) CreateModelMessage(ctx context.Context, in model.NewModelMessage) (*model.Message, error) {
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
	if err := r.insertMessage(ctx, msg, nil); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *redisRepository) insertMessage(ctx context.Context, msg *model.Message, extra func(redis.Pipeliner)) error {
	seq, err := r.rdb.Incr(ctx, conversationSeqKey(msg.ConversationID)).Result()
	if err != nil {
		return fmt.Errorf("could not allocate message sequence: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, messageKey(msg.ID), messageToMap(msg))
	pipe.ZAdd(ctx, conversationMessagesKey(msg.ConversationID), redis.Z{Score: float64(seq), Member: msg.ID})
	if extra != nil {
		extra(pipe)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("could not insert message: %w", err)
	}
	return nil
}

func (r *redisRepository) AppendToModelMessage(ctx context.Context, messageID, chunk string) error {
	if chunk == "" {
		return nil
	}
	keys := []string{messageKey(messageID), messageChunksKey(messageID)}
	n, err := appendScript.Run(ctx, r.rdb, keys, chunk, formatTime(r.now())).Int()
	if err != nil {
		return fmt.Errorf("could not append chunk: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *redisRepository) FinalizeModelMessage(ctx context.Context, messageID string, usage *model.Usage) (*model.Message, error) {
	usageJSON := ""
	if usage != nil {
		b, err := json.Marshal(usage)
		if err != nil {
			return nil, err
		}
		usageJSON = string(b)
	}
	if err := r.settle(ctx, messageID, model.StatusDone, "", usageJSON); err != nil {
		return nil, err
	}
	return r.loadMessage(ctx, messageID)
}

func (r *redisRepository) MarkModelMessageError(ctx context.Context, messageID, errText string) error {
	return r.settle(ctx, messageID, model.StatusError, errText, "")
}

func (r *redisRepository) settle(ctx context.Context, messageID string, target model.MessageStatus, errText, usageJSON string) error {
	keys := []string{messageKey(messageID), messageChunksKey(messageID)}
	res, err := settleScript.Run(ctx, r.rdb, keys, string(target), formatTime(r.now()), errText, usageJSON).Text()
	if err != nil {
		return err
	}
	switch res {
	case "ok":
		return nil
	case "not_found":
		return ErrNotFound
	case "invalid":
		return ErrInvalidTransition
	default:
		return fmt.Errorf("unexpected settle result %q", res)
	}
}

func (r *redisRepository) loadMessage(ctx context.Context, messageID string) (*model.Message, error) {
	fields, err := r.rdb.HGetAll(ctx, messageKey(messageID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return mapToMessage(fields), nil
}

func (r *redisRepository) GetMessages(ctx context.Context, conversationID, ownerID string, limit int) ([]model.Message, error) {
	if _, err := r.GetConversation(ctx, conversationID, ownerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	ids, err := r.rdb.ZRange(ctx, conversationMessagesKey(conversationID), int64(-limit), -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []model.Message{}, nil
		}
		return nil, err
	}

	pipe := r.rdb.Pipeline()
	hashes := make([]*redis.MapStringStringCmd, len(ids))
	chunks := make([]*redis.StringSliceCmd, len(ids))
	for i, id := range ids {
		hashes[i] = pipe.HGetAll(ctx, messageKey(id))
		chunks[i] = pipe.LRange(ctx, messageChunksKey(id), 0, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	messages := make([]model.Message, 0, len(ids))
	for i := range ids {
		fields := hashes[i].Val()
		if len(fields) == 0 {
			continue
		}
		msg := mapToMessage(fields)
		// Chunks only survive here when a stream never reached finalization.
		msg.Text += strings.Join(chunks[i].Val(), "")
		messages = append(messages, *msg)
	}
	return messages, nil
}

// --- Catalog ---

func (r *redisRepository) ListCatalogModels(ctx context.Context) ([]model.CatalogModel, error) {
	names, err := r.rdb.SMembers(ctx, catalogIndexKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.HGetAll(ctx, catalogModelKey(name))
	}
	if len(names) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}

	models := make([]model.CatalogModel, 0, len(names))
	for _, cmd := range cmds {
		if fields := cmd.Val(); len(fields) > 0 {
			models = append(models, mapToCatalogModel(fields))
		}
	}
	return models, nil
}

func (r *redisRepository) FindActiveModels(ctx context.Context, provider string) ([]model.CatalogModel, error) {
	all, err := r.ListCatalogModels(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]model.CatalogModel, 0, len(all))
	for _, m := range all {
		if m.IsActive && m.Provider == provider {
			active = append(active, m)
		}
	}
	return active, nil
}

func (r *redisRepository) GetCatalogModel(ctx context.Context, name string) (*model.CatalogModel, error) {
	fields, err := r.rdb.HGetAll(ctx, catalogModelKey(name)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	m := mapToCatalogModel(fields)
	return &m, nil
}

func (r *redisRepository) UpsertCatalogModel(ctx context.Context, m *model.CatalogModel) error {
	now := r.now()
	if m.CreatedAt.IsZero() {
		created, err := r.rdb.HGet(ctx, catalogModelKey(m.Name), "created_at").Result()
		if err == nil {
			m.CreatedAt = parseTime(created)
		} else {
			m.CreatedAt = now
		}
	}
	m.UpdatedAt = now

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, catalogModelKey(m.Name), map[string]interface{}{
		"name":         m.Name,
		"display_name": m.DisplayName,
		"provider":     m.Provider,
		"is_active":    strconv.FormatBool(m.IsActive),
		"created_at":   formatTime(m.CreatedAt),
		"updated_at":   formatTime(m.UpdatedAt),
	})
	pipe.SAdd(ctx, catalogIndexKey, m.Name)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *redisRepository) DeleteCatalogModel(ctx context.Context, name string) error {
	pipe := r.rdb.TxPipeline()
	del := pipe.Del(ctx, catalogModelKey(name))
	pipe.SRem(ctx, catalogIndexKey, name)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- API keys ---

func (r *redisRepository) SetAPIKey(ctx context.Context, ownerID, provider, key string) error {
	return r.rdb.HSet(ctx, ownerKeysKey(ownerID), provider, key).Err()
}

func (r *redisRepository) GetAPIKey(ctx context.Context, ownerID, provider string) (string, error) {
	key, err := r.rdb.HGet(ctx, ownerKeysKey(ownerID), provider).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", err
	}
	return key, nil
}

func (r *redisRepository) DeleteAPIKey(ctx context.Context, ownerID, provider string) error {
	n, err := r.rdb.HDel(ctx, ownerKeysKey(ownerID), provider).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *redisRepository) ListAPIKeyProviders(ctx context.Context, ownerID string) ([]string, error) {
	providers, err := r.rdb.HKeys(ctx, ownerKeysKey(ownerID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(providers)
	return providers, nil
}

// --- Helper Functions ---

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func activityScore(t time.Time) float64 { return float64(t.UnixMilli()) }

func messageToMap(msg *model.Message) map[string]interface{} {
	return map[string]interface{}{
		"id":              msg.ID,
		"conversation_id": msg.ConversationID,
		"sender":          string(msg.Sender),
		"prompt":          msg.Prompt,
		"text":            msg.Text,
		"model_id":        msg.ModelID,
		"model_name":      msg.ModelName,
		"status":          string(msg.Status),
		"error":           msg.Error,
		"created_at":      formatTime(msg.CreatedAt),
		"updated_at":      formatTime(msg.UpdatedAt),
	}
}

func mapToMessage(fields map[string]string) *model.Message {
	msg := &model.Message{
		ID:             fields["id"],
		ConversationID: fields["conversation_id"],
		Sender:         model.Sender(fields["sender"]),
		Prompt:         fields["prompt"],
		Text:           fields["text"],
		ModelID:        fields["model_id"],
		ModelName:      fields["model_name"],
		Status:         model.MessageStatus(fields["status"]),
		Error:          fields["error"],
		CreatedAt:      parseTime(fields["created_at"]),
		UpdatedAt:      parseTime(fields["updated_at"]),
	}
	if raw := fields["usage"]; raw != "" {
		var usage model.Usage
		if err := json.Unmarshal([]byte(raw), &usage); err == nil {
			msg.Usage = &usage
		}
	}
	return msg
}

func mapToCatalogModel(fields map[string]string) model.CatalogModel {
	active, _ := strconv.ParseBool(fields["is_active"])
	return model.CatalogModel{
		Name:        fields["name"],
		DisplayName: fields["display_name"],
		Provider:    fields["provider"],
		IsActive:    active,
		CreatedAt:   parseTime(fields["created_at"]),
		UpdatedAt:   parseTime(fields["updated_at"]),
	}
}
