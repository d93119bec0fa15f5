// Package storage provides file and database handling.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/azyu/talemind/pkg/types"
)

// Storage errors.
var (
	// ErrNotFound is returned when a game, message, card or event does not exist.
	ErrNotFound = errors.New("not found")

	// ErrProtectedCard is returned when deleting a main hero card.
	ErrProtectedCard = errors.New("card is protected")

	// ErrCardLocked is returned when the AI tries to change a locked card or
	// one with AI editing disabled.
	ErrCardLocked = errors.New("card is locked")
)

// SQLiteDB stores games, transcripts, cards and card events.
type SQLiteDB struct {
	db   *sql.DB
	path string
}

// NewSQLiteDB opens or creates the database at path.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers; SQLite allows only one anyway.
	db.SetMaxOpenConns(1)

	sqliteDB := &SQLiteDB{
		db:   db,
		path: path,
	}

	if err := sqliteDB.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return sqliteDB, nil
}

// initialize creates the required tables if they don't exist.
func (s *SQLiteDB) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS games (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		plot_memory INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game_id INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_game ON messages(game_id, id);

	CREATE TABLE IF NOT EXISTS instruction_cards (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game_id INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		content TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS plot_cards (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game_id INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		source TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_cards (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game_id INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		triggers TEXT NOT NULL DEFAULT '[]',
		kind TEXT NOT NULL,
		memory_turns INTEGER,
		is_locked INTEGER NOT NULL DEFAULT 0,
		ai_edit_enabled INTEGER NOT NULL DEFAULT 1,
		source TEXT NOT NULL
	);

	-- Append-only log of AI card mutations. Only the undone flag changes.
	CREATE TABLE IF NOT EXISTS card_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game_id INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
		family TEXT NOT NULL,
		assistant_message_id INTEGER NOT NULL,
		card_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		before_snapshot TEXT,
		after_snapshot TEXT,
		undone INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_card_events_message
	ON card_events(assistant_message_id);

	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func (s *SQLiteDB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateGame starts a new game.
func (s *SQLiteDB) CreateGame(ctx context.Context, name, model string, plotMemory bool) (types.Game, error) {
	now := time.Now()
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO games (name, model, plot_memory, created_at) VALUES (?, ?, ?, ?)",
		name, model, plotMemory, now.Unix(),
	)
	if err != nil {
		return types.Game{}, fmt.Errorf("failed to create game: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return types.Game{}, err
	}
	return types.Game{ID: id, Name: name, Model: model, PlotMemory: plotMemory, CreatedAt: time.Unix(now.Unix(), 0)}, nil
}

// GetGame returns one game.
func (s *SQLiteDB) GetGame(ctx context.Context, gameID int64) (types.Game, error) {
	var (
		g       types.Game
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, model, plot_memory, created_at FROM games WHERE id = ?", gameID,
	).Scan(&g.ID, &g.Name, &g.Model, &g.PlotMemory, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Game{}, fmt.Errorf("game %d: %w", gameID, ErrNotFound)
	}
	if err != nil {
		return types.Game{}, err
	}
	g.CreatedAt = time.Unix(created, 0)
	return g, nil
}

// ListGames returns every game, newest first.
func (s *SQLiteDB) ListGames(ctx context.Context) ([]types.Game, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, model, plot_memory, created_at FROM games ORDER BY id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []types.Game
	for rows.Next() {
		var (
			g       types.Game
			created int64
		)
		if err := rows.Scan(&g.ID, &g.Name, &g.Model, &g.PlotMemory, &created); err != nil {
			return nil, err
		}
		g.CreatedAt = time.Unix(created, 0)
		games = append(games, g)
	}
	return games, rows.Err()
}

// SetPlotMemory toggles plot-memory mode for a game.
func (s *SQLiteDB) SetPlotMemory(ctx context.Context, gameID int64, enabled bool) error {
	return s.execOne(ctx, fmt.Sprintf("game %d", gameID),
		"UPDATE games SET plot_memory = ? WHERE id = ?", enabled, gameID)
}

// execOne runs a statement that must affect exactly one row.
func (s *SQLiteDB) execOne(ctx context.Context, what, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteDB) Path() string {
	return s.path
}
