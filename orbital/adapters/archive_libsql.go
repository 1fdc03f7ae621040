package adapters

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/orbitalgrid/orbital-insight/orbital/coordination"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// LibSQLArchive is a durable, best-effort log of conversation turns and
// generated scripts backed by an embedded libsql database. It implements
// coordination.Archive; the store treats its failures as log-only.
type LibSQLArchive struct {
	db *sql.DB
}

// OpenLibSQLArchive opens (creating if needed) the archive database at path
// and applies pending migrations.
func OpenLibSQLArchive(path string) (*LibSQLArchive, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create archive directory %s: %w", dir, err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		file, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("could not create archive db at %s: %w", path, err)
		}
		file.Close()
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &LibSQLArchive{db: db}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run archive migrations: %w", err)
	}
	return nil
}

// SaveTurn persists one conversation turn.
func (a *LibSQLArchive) SaveTurn(ctx context.Context, turn coordination.ConversationTurn) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO conversation_turns (speaker, text, recorded_at) VALUES (?, ?, ?)`,
		turn.Speaker, turn.Text, turn.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}
	return nil
}

// SaveScript persists one generated script.
func (a *LibSQLArchive) SaveScript(ctx context.Context, script coordination.Script) error {
	ids, err := json.Marshal(script.DatasetIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal dataset ids: %w", err)
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO scripts (code, description, dataset_ids, recorded_at) VALUES (?, ?, ?, ?)`,
		script.Code, script.Description, string(ids), script.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save script: %w", err)
	}
	return nil
}

// RecentTurns loads the last k turns in chronological order.
func (a *LibSQLArchive) RecentTurns(ctx context.Context, k int) ([]coordination.ConversationTurn, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT speaker, text, recorded_at FROM conversation_turns ORDER BY id DESC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []coordination.ConversationTurn
	for rows.Next() {
		var turn coordination.ConversationTurn
		if err := rows.Scan(&turn.Speaker, &turn.Text, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Close releases the underlying database handle.
func (a *LibSQLArchive) Close() error {
	return a.db.Close()
}

var _ coordination.Archive = (*LibSQLArchive)(nil)
