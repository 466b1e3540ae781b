package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	dbconfig "liveclass/pkg/database"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
)

// Manager is the sqlite-backed workspace store and chat archive.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	retryDelay   time.Duration
}

var (
	_ interfaces.WorkspaceStore = (*Manager)(nil)
	_ interfaces.ChatArchive    = (*Manager)(nil)
)

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pending migrations and starts the writer.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := dbconfig.NewMigrationManager(db, dbconfig.Migrations()).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   250 * time.Millisecond,
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	log.Printf("Database opened: path=%s", config.DatabasePath)
	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(op.ctx, m.db)
			if err != nil && op.ctx.Err() == nil {
				// Retry once; a locked database usually clears quickly
				log.Printf("Database write failed, retrying in %s: %v", m.retryDelay, err)
				select {
				case <-time.After(m.retryDelay):
					err = op.operation(op.ctx, m.db)
					if err != nil {
						log.Printf("Database write failed after retry: %v", err)
					}
				case <-op.ctx.Done():
					err = op.ctx.Err()
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write and waits for the writer's result
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return ErrWriteTimeout
	}
}

// SaveWorkspace upserts the caller's snapshot.
func (m *Manager) SaveWorkspace(ctx context.Context, sessionCode, userID string, data json.RawMessage) error {
	if !json.Valid(data) {
		return fmt.Errorf("workspace data is not valid JSON")
	}
	now := time.Now().UTC()
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO workspaces (session_code, user_id, data, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(session_code, user_id) DO UPDATE SET
				data = excluded.data,
				updated_at = excluded.updated_at
		`, sessionCode, userID, string(data), now)
		if err != nil {
			return fmt.Errorf("failed to save workspace: %w", err)
		}
		return nil
	})
}

// LoadWorkspace returns interfaces.ErrWorkspaceNotFound when nothing was saved.
func (m *Manager) LoadWorkspace(ctx context.Context, sessionCode, userID string) (*types.Workspace, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	row := m.db.QueryRowContext(ctx, `
		SELECT data, updated_at FROM workspaces
		WHERE session_code = ? AND user_id = ?
	`, sessionCode, userID)

	var data string
	ws := &types.Workspace{SessionCode: sessionCode, UserID: userID}
	if err := row.Scan(&data, &ws.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrWorkspaceNotFound
		}
		return nil, fmt.Errorf("failed to query workspace: %w", err)
	}
	ws.Data = json.RawMessage(data)
	return ws, nil
}

// PruneWorkspaces deletes snapshots not updated since before.
func (m *Manager) PruneWorkspaces(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, "DELETE FROM workspaces WHERE updated_at < ?", before.UTC())
		if err != nil {
			return fmt.Errorf("failed to prune workspaces: %w", err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

// ArchiveChatMessage appends one chat message to the durable archive.
func (m *Manager) ArchiveChatMessage(ctx context.Context, sessionCode, roomID string, message types.ChatMessage) error {
	id := ulid.Make().String()
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO chat_messages (id, session_code, room_id, message_id, sender_user_id, sender_name, sender_role, content, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			id,
			sessionCode,
			roomID,
			message.ID,
			message.Sender.UserID,
			message.Sender.Name,
			string(message.Sender.Role),
			message.Content,
			message.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to archive chat message: %w", err)
		}
		return nil
	})
}

// GetChatHistory returns the most recent limit messages of one room
// incarnation, oldest first.
func (m *Manager) GetChatHistory(ctx context.Context, sessionCode, roomID string, limit int) ([]types.ChatMessage, error) {
	if limit <= 0 {
		return []types.ChatMessage{}, nil
	}

	// ULIDs sort by arrival, so the newest rows come first here
	rows, err := m.db.QueryContext(ctx, `
		SELECT message_id, sender_user_id, sender_name, sender_role, content, timestamp
		FROM chat_messages
		WHERE session_code = ? AND room_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, sessionCode, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := []types.ChatMessage{}
	for rows.Next() {
		var msg types.ChatMessage
		var role string
		if err := rows.Scan(&msg.ID, &msg.Sender.UserID, &msg.Sender.Name, &role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		msg.Sender.Role = types.Role(role)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat rows: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workspaces").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for schema checks
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the database. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	// TECHNICAL DISCOVERY: SQLite pragmas tuned for classroom-scale concurrency
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
