package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/finledger/internal/llm"
)

// EnsureSession creates the chat session if it does not exist.
func (s *Store) EnsureSession(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO chat_session (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id)
	if err != nil {
		return fmt.Errorf("ensure chat session: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit most recent messages, oldest first.
func (s *Store) RecentMessages(ctx context.Context, id uuid.UUID, limit int) ([]llm.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT role, content
		FROM chat_message
		WHERE session_id = $1
		ORDER BY id DESC
		LIMIT $2`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (llm.Message, error) {
		var m llm.Message
		err := row.Scan(&m.Role, &m.Content)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan chat messages: %w", err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// AppendMessages stores messages in order.
func (s *Store) AppendMessages(ctx context.Context, id uuid.UUID, msgs ...llm.Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, m := range msgs {
		_, err := tx.Exec(ctx, `
			INSERT INTO chat_message (session_id, role, content)
			VALUES ($1, $2, $3)`,
			id, m.Role, m.Content,
		)
		if err != nil {
			return fmt.Errorf("insert chat message: %w", err)
		}
	}
	return tx.Commit(ctx)
}
