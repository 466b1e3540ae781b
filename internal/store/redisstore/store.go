// Package redisstore keeps workspaces and the chat archive in Redis for
// deployments that run without a local sqlite file.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

const keyPrefix = "liveclass"

// Options tune retention. Zero values fall back to DefaultOptions.
type Options struct {
	WorkspaceTTL time.Duration
	// ChatRetention caps the archived messages kept per session.
	ChatRetention int64
}

func DefaultOptions() Options {
	return Options{
		WorkspaceTTL:  30 * 24 * time.Hour,
		ChatRetention: 5000,
	}
}

// Store satisfies interfaces.WorkspaceStore and interfaces.ChatArchive.
type Store struct {
	client *redis.Client
	opts   Options
}

var (
	_ interfaces.WorkspaceStore = (*Store)(nil)
	_ interfaces.ChatArchive    = (*Store)(nil)
)

// Open connects to url (redis://...) and verifies the server answers.
func Open(ctx context.Context, url string, opts Options) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return New(c, opts), nil
}

// New wraps an existing client.
func New(client *redis.Client, opts Options) *Store {
	def := DefaultOptions()
	if opts.WorkspaceTTL <= 0 {
		opts.WorkspaceTTL = def.WorkspaceTTL
	}
	if opts.ChatRetention <= 0 {
		opts.ChatRetention = def.ChatRetention
	}
	return &Store{client: client, opts: opts}
}

func workspaceKey(sessionCode, userID string) string {
	return fmt.Sprintf("%s:workspace:%s:%s", keyPrefix, sessionCode, userID)
}

func chatKey(sessionCode, roomID string) string {
	return fmt.Sprintf("%s:chat:%s:%s", keyPrefix, sessionCode, roomID)
}

type workspaceRecord struct {
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (s *Store) SaveWorkspace(ctx context.Context, sessionCode, userID string, data json.RawMessage) error {
	if !json.Valid(data) {
		return fmt.Errorf("workspace data is not valid JSON")
	}
	encoded, err := json.Marshal(workspaceRecord{Data: data, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("redis: encode workspace: %w", err)
	}
	if err := s.client.Set(ctx, workspaceKey(sessionCode, userID), encoded, s.opts.WorkspaceTTL).Err(); err != nil {
		return fmt.Errorf("redis: save workspace: %w", err)
	}
	return nil
}

func (s *Store) LoadWorkspace(ctx context.Context, sessionCode, userID string) (*types.Workspace, error) {
	raw, err := s.client.Get(ctx, workspaceKey(sessionCode, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, interfaces.ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: load workspace: %w", err)
	}

	var rec workspaceRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("redis: decode workspace: %w", err)
	}
	return &types.Workspace{
		SessionCode: sessionCode,
		UserID:      userID,
		Data:        rec.Data,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

// ArchiveChatMessage appends to the room's list and trims it to the retention cap.
func (s *Store) ArchiveChatMessage(ctx context.Context, sessionCode, roomID string, message types.ChatMessage) error {
	encoded, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("redis: encode chat message: %w", err)
	}

	key := chatKey(sessionCode, roomID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, encoded)
	pipe.LTrim(ctx, key, -s.opts.ChatRetention, -1)
	pipe.Expire(ctx, key, s.opts.WorkspaceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: archive chat message: %w", err)
	}
	return nil
}

// GetChatHistory returns up to limit of the newest messages, oldest first.
func (s *Store) GetChatHistory(ctx context.Context, sessionCode, roomID string, limit int) ([]types.ChatMessage, error) {
	if limit <= 0 {
		return []types.ChatMessage{}, nil
	}
	raw, err := s.client.LRange(ctx, chatKey(sessionCode, roomID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: chat history: %w", err)
	}

	messages := make([]types.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg types.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("redis: decode chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
