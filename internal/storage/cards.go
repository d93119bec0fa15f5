package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/azyu/talemind/pkg/types"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AddInstructionCard creates an instruction card and returns it with its id.
func (s *SQLiteDB) AddInstructionCard(ctx context.Context, gameID int64, card types.InstructionCard) (types.InstructionCard, error) {
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO instruction_cards (game_id, title, content) VALUES (?, ?, ?)",
		gameID, strings.TrimSpace(card.Title), card.Content,
	)
	if err != nil {
		return types.InstructionCard{}, fmt.Errorf("failed to add instruction card: %w", err)
	}
	card.ID, err = result.LastInsertId()
	card.Title = strings.TrimSpace(card.Title)
	return card, err
}

// UpdateInstructionCard overwrites one of the game's instruction cards.
func (s *SQLiteDB) UpdateInstructionCard(ctx context.Context, gameID int64, card types.InstructionCard) error {
	return s.execOne(ctx, fmt.Sprintf("instruction card %d", card.ID),
		"UPDATE instruction_cards SET title = ?, content = ? WHERE id = ? AND game_id = ?",
		strings.TrimSpace(card.Title), card.Content, card.ID, gameID)
}

// DeleteInstructionCard removes one of the game's instruction cards.
func (s *SQLiteDB) DeleteInstructionCard(ctx context.Context, gameID, cardID int64) error {
	return s.execOne(ctx, fmt.Sprintf("instruction card %d", cardID),
		"DELETE FROM instruction_cards WHERE id = ? AND game_id = ?", cardID, gameID)
}

// ListInstructionCards returns a game's instruction cards in id order.
func (s *SQLiteDB) ListInstructionCards(ctx context.Context, gameID int64) ([]types.InstructionCard, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, content FROM instruction_cards WHERE game_id = ? ORDER BY id", gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list instruction cards: %w", err)
	}
	defer rows.Close()

	var cards []types.InstructionCard
	for rows.Next() {
		var c types.InstructionCard
		if err := rows.Scan(&c.ID, &c.Title, &c.Content); err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// AddPlotCard creates a user-authored plot card.
func (s *SQLiteDB) AddPlotCard(ctx context.Context, gameID int64, card types.PlotCard) (types.PlotCard, error) {
	if card.Source == "" {
		card.Source = types.SourceUser
	}
	card.ID = 0
	return putPlotCard(ctx, s.db, gameID, card)
}

// UpdatePlotCard overwrites one of the game's plot cards. User edits bypass
// the event log.
func (s *SQLiteDB) UpdatePlotCard(ctx context.Context, gameID int64, card types.PlotCard) error {
	return s.execOne(ctx, fmt.Sprintf("plot card %d", card.ID),
		"UPDATE plot_cards SET title = ?, content = ? WHERE id = ? AND game_id = ?",
		strings.TrimSpace(card.Title), card.Content, card.ID, gameID)
}

// DeletePlotCard removes one of the game's plot cards.
func (s *SQLiteDB) DeletePlotCard(ctx context.Context, gameID, cardID int64) error {
	return s.execOne(ctx, fmt.Sprintf("plot card %d", cardID),
		"DELETE FROM plot_cards WHERE id = ? AND game_id = ?", cardID, gameID)
}

// ListPlotCards returns a game's plot cards in id order.
func (s *SQLiteDB) ListPlotCards(ctx context.Context, gameID int64) ([]types.PlotCard, error) {
	return listPlotCards(ctx, s.db, gameID)
}

func listPlotCards(ctx context.Context, q querier, gameID int64) ([]types.PlotCard, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, title, content, source FROM plot_cards WHERE game_id = ? ORDER BY id", gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plot cards: %w", err)
	}
	defer rows.Close()

	var cards []types.PlotCard
	for rows.Next() {
		var c types.PlotCard
		if err := rows.Scan(&c.ID, &c.Title, &c.Content, &c.Source); err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// getPlotCard reports ErrNotFound for a card that belongs to another game.
func getPlotCard(ctx context.Context, q querier, gameID, cardID int64) (types.PlotCard, error) {
	var c types.PlotCard
	err := q.QueryRowContext(ctx,
		"SELECT id, title, content, source FROM plot_cards WHERE id = ? AND game_id = ?", cardID, gameID,
	).Scan(&c.ID, &c.Title, &c.Content, &c.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("plot card %d: %w", cardID, ErrNotFound)
	}
	return c, err
}

// putPlotCard inserts the card, or replaces the row with the card's id when set.
func putPlotCard(ctx context.Context, q querier, gameID int64, c types.PlotCard) (types.PlotCard, error) {
	c.Title = strings.TrimSpace(c.Title)
	var id any
	if c.ID > 0 {
		id = c.ID
	}
	result, err := q.ExecContext(ctx,
		"INSERT OR REPLACE INTO plot_cards (id, game_id, title, content, source) VALUES (?, ?, ?, ?, ?)",
		id, gameID, c.Title, c.Content, c.Source,
	)
	if err != nil {
		return c, fmt.Errorf("failed to save plot card: %w", err)
	}
	if c.ID == 0 {
		c.ID, err = result.LastInsertId()
	}
	return c, err
}

const worldColumns = "id, title, content, triggers, kind, memory_turns, is_locked, ai_edit_enabled, source"

// AddWorldCard creates a user-authored world card.
func (s *SQLiteDB) AddWorldCard(ctx context.Context, gameID int64, card types.WorldCard) (types.WorldCard, error) {
	if card.Kind == "" {
		card.Kind = types.KindWorld
	}
	if !types.ValidKind(card.Kind) {
		return types.WorldCard{}, fmt.Errorf("unknown world card kind %q", card.Kind)
	}
	if card.Source == "" {
		card.Source = types.SourceUser
	}
	card.ID = 0
	return putWorldCard(ctx, s.db, gameID, card)
}

// UpdateWorldCard overwrites one of the game's world cards. User edits bypass
// the event log and ignore the lock, which only binds the AI.
func (s *SQLiteDB) UpdateWorldCard(ctx context.Context, gameID int64, card types.WorldCard) error {
	if !types.ValidKind(card.Kind) {
		return fmt.Errorf("unknown world card kind %q", card.Kind)
	}
	triggers, err := json.Marshal(nonNil(card.Triggers))
	if err != nil {
		return err
	}
	return s.execOne(ctx, fmt.Sprintf("world card %d", card.ID), `
		UPDATE world_cards
		SET title = ?, content = ?, triggers = ?, kind = ?, memory_turns = ?, is_locked = ?, ai_edit_enabled = ?
		WHERE id = ? AND game_id = ?
	`, strings.TrimSpace(card.Title), card.Content, string(triggers), string(card.Kind),
		memoryTurns(card.MemoryTurns), card.IsLocked, card.AIEditEnabled, card.ID, gameID)
}

// DeleteWorldCard removes one of the game's world cards. Main hero cards
// can't be deleted.
func (s *SQLiteDB) DeleteWorldCard(ctx context.Context, gameID, cardID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		card, err := getWorldCard(ctx, tx, gameID, cardID)
		if err != nil {
			return err
		}
		if card.Kind == types.KindMainHero {
			return fmt.Errorf("world card %d: %w", cardID, ErrProtectedCard)
		}
		return worldFamily.del(ctx, tx, gameID, cardID)
	})
}

// ListWorldCards returns a game's world cards in id order.
func (s *SQLiteDB) ListWorldCards(ctx context.Context, gameID int64) ([]types.WorldCard, error) {
	return listWorldCards(ctx, s.db, gameID)
}

func listWorldCards(ctx context.Context, q querier, gameID int64) ([]types.WorldCard, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+worldColumns+" FROM world_cards WHERE game_id = ? ORDER BY id", gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list world cards: %w", err)
	}
	defer rows.Close()

	var cards []types.WorldCard
	for rows.Next() {
		c, err := scanWorldCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

func getWorldCard(ctx context.Context, q querier, gameID, cardID int64) (types.WorldCard, error) {
	c, err := scanWorldCard(q.QueryRowContext(ctx,
		"SELECT "+worldColumns+" FROM world_cards WHERE id = ? AND game_id = ?", cardID, gameID))
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("world card %d: %w", cardID, ErrNotFound)
	}
	return c, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorldCard(row scanner) (types.WorldCard, error) {
	var (
		c        types.WorldCard
		triggers string
		kind     string
		memory   sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.Title, &c.Content, &triggers, &kind, &memory, &c.IsLocked, &c.AIEditEnabled, &c.Source); err != nil {
		return c, err
	}
	c.Kind = types.WorldKind(kind)
	if memory.Valid {
		c.MemoryTurns = types.IntPtr(int(memory.Int64))
	}
	// A corrupt trigger column degrades to "title only".
	if err := json.Unmarshal([]byte(triggers), &c.Triggers); err != nil || len(c.Triggers) == 0 {
		c.Triggers = nil
	}
	return c, nil
}

func putWorldCard(ctx context.Context, q querier, gameID int64, c types.WorldCard) (types.WorldCard, error) {
	c.Title = strings.TrimSpace(c.Title)
	triggers, err := json.Marshal(nonNil(c.Triggers))
	if err != nil {
		return c, err
	}
	var id any
	if c.ID > 0 {
		id = c.ID
	}
	result, err := q.ExecContext(ctx, `
		INSERT OR REPLACE INTO world_cards
			(id, game_id, title, content, triggers, kind, memory_turns, is_locked, ai_edit_enabled, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, gameID, c.Title, c.Content, string(triggers), string(c.Kind),
		memoryTurns(c.MemoryTurns), c.IsLocked, c.AIEditEnabled, c.Source)
	if err != nil {
		return c, fmt.Errorf("failed to save world card: %w", err)
	}
	if c.ID == 0 {
		c.ID, err = result.LastInsertId()
	}
	return c, err
}

func memoryTurns(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
