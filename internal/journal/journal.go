// Package journal persists conversation events into a local sqlite
// database. Write-only; the journal is for audit and offline debugging,
// nothing in the service reads it back.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	type TEXT NOT NULL,
	event TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS events_conversation ON events (conversation_id, id);
`

// Journal is the sqlite-backed event log.
type Journal struct {
	db *sql.DB
}

func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	// sqlite allows one writer; more connections just contend.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one event.
func (j *Journal) Record(ctx context.Context, conversationID string, event map[string]any) error {
	eventType, _ := event["type"].(string)
	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("journal event: %w", err)
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO events (created_at, conversation_id, type, event) VALUES (?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), conversationID, eventType, string(encoded))
	if err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

// Monitor adapts the journal into a conversation monitor.
func (j *Journal) Monitor(conversationID string) chat.Monitor {
	return func(ctx context.Context, event map[string]any) error {
		return j.Record(ctx, conversationID, event)
	}
}
