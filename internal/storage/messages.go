package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/azyu/talemind/pkg/types"
)

// AddMessage appends a message to a game's transcript.
func (s *SQLiteDB) AddMessage(ctx context.Context, gameID int64, role, content string) (types.Message, error) {
	now := time.Now()
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (game_id, role, content, created_at) VALUES (?, ?, ?, ?)",
		gameID, role, content, now.Unix(),
	)
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to add message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return types.Message{}, err
	}
	return types.Message{ID: id, Role: role, Content: content, CreatedAt: time.Unix(now.Unix(), 0)}, nil
}

// UpdateMessageContent replaces a message's text.
func (s *SQLiteDB) UpdateMessageContent(ctx context.Context, messageID int64, content string) error {
	return s.execOne(ctx, fmt.Sprintf("message %d", messageID),
		"UPDATE messages SET content = ? WHERE id = ?", content, messageID)
}

// DeleteMessage removes a message. Card events it caused are kept.
func (s *SQLiteDB) DeleteMessage(ctx context.Context, messageID int64) error {
	return s.execOne(ctx, fmt.Sprintf("message %d", messageID),
		"DELETE FROM messages WHERE id = ?", messageID)
}

// ListMessages returns a game's transcript in id order with turn indexes assigned.
func (s *SQLiteDB) ListMessages(ctx context.Context, gameID int64) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, created_at
		FROM messages
		WHERE game_id = ?
		ORDER BY id
	`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		var (
			msg     types.Message
			created int64
		)
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &created); err != nil {
			return nil, err
		}
		msg.CreatedAt = time.Unix(created, 0)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return types.AssignTurns(messages), nil
}
