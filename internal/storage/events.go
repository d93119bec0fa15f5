package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/azyu/talemind/internal/cardlog"
	"github.com/azyu/talemind/internal/llm"
	"github.com/azyu/talemind/internal/logging"
	"github.com/azyu/talemind/pkg/types"
)

// family binds a card table to the generic event code.
type family[C cardlog.Card] struct {
	name string
	get  func(ctx context.Context, q querier, gameID, id int64) (C, error)
	put  func(ctx context.Context, q querier, gameID int64, c C) (C, error)
	del  func(ctx context.Context, q querier, gameID, id int64) error
	list func(ctx context.Context, q querier, gameID int64) ([]C, error)
}

var plotFamily = family[types.PlotCard]{
	name: string(llm.FamilyPlot),
	get:  getPlotCard,
	put:  putPlotCard,
	del: func(ctx context.Context, q querier, gameID, id int64) error {
		_, err := q.ExecContext(ctx, "DELETE FROM plot_cards WHERE id = ? AND game_id = ?", id, gameID)
		return err
	},
	list: listPlotCards,
}

var worldFamily = family[types.WorldCard]{
	name: string(llm.FamilyWorld),
	get:  getWorldCard,
	put:  putWorldCard,
	del: func(ctx context.Context, q querier, gameID, id int64) error {
		_, err := q.ExecContext(ctx, "DELETE FROM world_cards WHERE id = ? AND game_id = ?", id, gameID)
		return err
	},
	list: listWorldCards,
}

// ApplyAIPlotChange applies a plot card mutation requested by the narrator and
// records exactly one event keyed by the assistant message. Cards of other
// games are reported as ErrNotFound.
func (s *SQLiteDB) ApplyAIPlotChange(ctx context.Context, gameID, assistantMessageID int64, m llm.CardMutation) (cardlog.Event[types.PlotCard], error) {
	ev := cardlog.Event[types.PlotCard]{AssistantMessageID: assistantMessageID, CardID: m.CardID}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		switch m.Op {
		case llm.OpAdd:
			card, err := putPlotCard(ctx, tx, gameID, types.PlotCard{
				Title:   deref(m.Title),
				Content: deref(m.Content),
				Source:  types.SourceAI,
			})
			if err != nil {
				return err
			}
			ev.CardID, ev.Action, ev.After = card.ID, cardlog.Added, &card

		case llm.OpUpdate:
			before, err := getPlotCard(ctx, tx, gameID, m.CardID)
			if err != nil {
				return err
			}
			after := before
			if m.Title != nil && *m.Title != "" {
				after.Title = *m.Title
			}
			if m.Content != nil {
				after.Content = *m.Content
			}
			if after, err = putPlotCard(ctx, tx, gameID, after); err != nil {
				return err
			}
			ev.Action, ev.Before, ev.After = cardlog.Updated, &before, &after

		case llm.OpDelete:
			before, err := getPlotCard(ctx, tx, gameID, m.CardID)
			if err != nil {
				return err
			}
			if err := plotFamily.del(ctx, tx, gameID, m.CardID); err != nil {
				return err
			}
			ev.Action, ev.Before = cardlog.Deleted, &before

		default:
			return fmt.Errorf("unknown card operation %q", m.Op)
		}

		id, err := insertEvent(ctx, tx, gameID, plotFamily.name, ev)
		ev.ID = id
		return err
	})
	if err != nil {
		return cardlog.Event[types.PlotCard]{}, fmt.Errorf("apply plot %s: %w", m.Op, err)
	}
	return ev, nil
}

// ApplyAIWorldChange applies a world card mutation requested by the narrator.
// Locked cards and cards with AI editing disabled are refused, and main hero
// cards can't be deleted.
func (s *SQLiteDB) ApplyAIWorldChange(ctx context.Context, gameID, assistantMessageID int64, m llm.CardMutation) (cardlog.Event[types.WorldCard], error) {
	ev := cardlog.Event[types.WorldCard]{AssistantMessageID: assistantMessageID, CardID: m.CardID}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		switch m.Op {
		case llm.OpAdd:
			kind := types.WorldKind(m.Kind)
			if kind != types.KindNPC {
				kind = types.KindWorld
			}
			card := types.NewWorldCard(deref(m.Title), deref(m.Content), kind, m.Triggers...)
			card.Source = types.SourceAI
			card, err := putWorldCard(ctx, tx, gameID, card)
			if err != nil {
				return err
			}
			ev.CardID, ev.Action, ev.After = card.ID, cardlog.Added, &card

		case llm.OpUpdate:
			before, err := getWorldCard(ctx, tx, gameID, m.CardID)
			if err != nil {
				return err
			}
			if before.IsLocked || !before.AIEditEnabled {
				return fmt.Errorf("world card %d: %w", m.CardID, ErrCardLocked)
			}
			after := before
			if m.Title != nil && *m.Title != "" {
				after.Title = *m.Title
			}
			if m.Content != nil {
				after.Content = *m.Content
			}
			if m.Triggers != nil {
				after.Triggers = m.Triggers
			}
			if after, err = putWorldCard(ctx, tx, gameID, after); err != nil {
				return err
			}
			ev.Action, ev.Before, ev.After = cardlog.Updated, &before, &after

		case llm.OpDelete:
			before, err := getWorldCard(ctx, tx, gameID, m.CardID)
			if err != nil {
				return err
			}
			if before.Kind == types.KindMainHero {
				return fmt.Errorf("world card %d: %w", m.CardID, ErrProtectedCard)
			}
			if before.IsLocked || !before.AIEditEnabled {
				return fmt.Errorf("world card %d: %w", m.CardID, ErrCardLocked)
			}
			if err := worldFamily.del(ctx, tx, gameID, m.CardID); err != nil {
				return err
			}
			ev.Action, ev.Before = cardlog.Deleted, &before

		default:
			return fmt.Errorf("unknown card operation %q", m.Op)
		}

		id, err := insertEvent(ctx, tx, gameID, worldFamily.name, ev)
		ev.ID = id
		return err
	})
	if err != nil {
		return cardlog.Event[types.WorldCard]{}, fmt.Errorf("apply world %s: %w", m.Op, err)
	}
	return ev, nil
}

func insertEvent[C cardlog.Card](ctx context.Context, tx *sql.Tx, gameID int64, familyName string, ev cardlog.Event[C]) (int64, error) {
	before, err := snapshot(ev.Before)
	if err != nil {
		return 0, err
	}
	after, err := snapshot(ev.After)
	if err != nil {
		return 0, err
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO card_events
			(game_id, family, assistant_message_id, card_id, action, before_snapshot, after_snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, gameID, familyName, ev.AssistantMessageID, ev.CardID, string(ev.Action), before, after, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to record card event: %w", err)
	}
	return result.LastInsertId()
}

func snapshot[C any](c *C) (any, error) {
	if c == nil {
		return nil, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// ListPlotEvents returns every plot card event of a game, undone ones included.
func (s *SQLiteDB) ListPlotEvents(ctx context.Context, gameID int64) ([]cardlog.Event[types.PlotCard], error) {
	return listEvents[types.PlotCard](ctx, s.db, gameID, plotFamily.name)
}

// ListWorldEvents returns every world card event of a game, undone ones included.
func (s *SQLiteDB) ListWorldEvents(ctx context.Context, gameID int64) ([]cardlog.Event[types.WorldCard], error) {
	return listEvents[types.WorldCard](ctx, s.db, gameID, worldFamily.name)
}

// UndoneEventIDs returns the ids of events currently rolled back.
func (s *SQLiteDB) UndoneEventIDs(ctx context.Context, gameID int64) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM card_events WHERE game_id = ? AND undone = 1", gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

func listEvents[C cardlog.Card](ctx context.Context, q querier, gameID int64, familyName string) ([]cardlog.Event[C], error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, assistant_message_id, card_id, action, before_snapshot, after_snapshot
		FROM card_events
		WHERE game_id = ? AND family = ?
		ORDER BY id
	`, gameID, familyName)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s events: %w", familyName, err)
	}
	defer rows.Close()

	var events []cardlog.Event[C]
	for rows.Next() {
		ev, err := scanEvent[C](ctx, rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanEvent[C cardlog.Card](ctx context.Context, row scanner) (cardlog.Event[C], error) {
	var (
		ev            cardlog.Event[C]
		action        string
		before, after sql.NullString
	)
	if err := row.Scan(&ev.ID, &ev.AssistantMessageID, &ev.CardID, &action, &before, &after); err != nil {
		return ev, err
	}
	ev.Action = cardlog.Action(action)
	ev.Before = decodeSnapshot[C](ctx, ev.ID, before)
	ev.After = decodeSnapshot[C](ctx, ev.ID, after)
	return ev, nil
}

// decodeSnapshot returns nil for a missing or corrupt snapshot. Replay skips
// such events instead of failing.
func decodeSnapshot[C any](ctx context.Context, eventID int64, raw sql.NullString) *C {
	if !raw.Valid {
		return nil
	}
	var c C
	if err := json.Unmarshal([]byte(raw.String), &c); err != nil {
		logging.Warn(ctx, "corrupt card event snapshot", "event_id", eventID, "error", err)
		return nil
	}
	return &c
}

// UndoPlotEvent rolls back one plot card event and returns the game's
// authoritative plot card list.
func (s *SQLiteDB) UndoPlotEvent(ctx context.Context, eventID int64) ([]types.PlotCard, error) {
	return replay(ctx, s, plotFamily, eventID, true)
}

// RedoPlotEvent reapplies a rolled back plot card event.
func (s *SQLiteDB) RedoPlotEvent(ctx context.Context, eventID int64) ([]types.PlotCard, error) {
	return replay(ctx, s, plotFamily, eventID, false)
}

// UndoWorldEvent rolls back one world card event and returns the game's
// authoritative world card list.
func (s *SQLiteDB) UndoWorldEvent(ctx context.Context, eventID int64) ([]types.WorldCard, error) {
	return replay(ctx, s, worldFamily, eventID, true)
}

// RedoWorldEvent reapplies a rolled back world card event.
func (s *SQLiteDB) RedoWorldEvent(ctx context.Context, eventID int64) ([]types.WorldCard, error) {
	return replay(ctx, s, worldFamily, eventID, false)
}

// replay runs Rollback (undo) or Reapply (redo) for a single event against
// the stored card. Replaying an event already in the requested state is a
// no-op.
func replay[C cardlog.Card](ctx context.Context, s *SQLiteDB, f family[C], eventID int64, undo bool) ([]C, error) {
	var cards []C
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			ev            cardlog.Event[C]
			gameID        int64
			familyName    string
			action        string
			undone        bool
			before, after sql.NullString
		)
		err := tx.QueryRowContext(ctx, `
			SELECT game_id, family, undone, id, assistant_message_id, card_id, action, before_snapshot, after_snapshot
			FROM card_events WHERE id = ?
		`, eventID).Scan(&gameID, &familyName, &undone,
			&ev.ID, &ev.AssistantMessageID, &ev.CardID, &action, &before, &after)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && familyName != f.name) {
			return fmt.Errorf("%s event %d: %w", f.name, eventID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		ev.Action = cardlog.Action(action)
		ev.Before = decodeSnapshot[C](ctx, ev.ID, before)
		ev.After = decodeSnapshot[C](ctx, ev.ID, after)

		if undone != undo {
			if err := replayOne(ctx, tx, f, gameID, ev, undo); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE card_events SET undone = ? WHERE id = ?", undo, eventID); err != nil {
				return err
			}
		}

		cards, err = f.list(ctx, tx, gameID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cards, nil
}

func replayOne[C cardlog.Card](ctx context.Context, tx *sql.Tx, f family[C], gameID int64, ev cardlog.Event[C], undo bool) error {
	var current []C
	card, err := f.get(ctx, tx, gameID, ev.CardID)
	switch {
	case err == nil:
		current = []C{card}
	case !errors.Is(err, ErrNotFound):
		return err
	}

	var (
		next []C
		rep  cardlog.Report
	)
	events := []cardlog.Event[C]{ev}
	if undo {
		next, rep = cardlog.RollbackReport(current, events)
	} else {
		next, rep = cardlog.ReapplyReport(current, events)
	}
	if len(rep.Skipped) > 0 {
		logging.Warn(ctx, "card event has no usable snapshot, skipped",
			"event_id", ev.ID, "family", f.name, "action", string(ev.Action))
		return nil
	}

	if len(next) == 0 {
		if len(current) == 0 {
			return nil
		}
		return f.del(ctx, tx, gameID, ev.CardID)
	}
	_, err = f.put(ctx, tx, gameID, next[0])
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
