package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Exchange is one completed (or partially completed) assistance run.
// Immutable once written; rows are only ever deleted, never updated.
type Exchange struct {
	ID        uuid.UUID `json:"id"`
	Task      string    `json:"task"`
	Code      string    `json:"code"`
	Language  string    `json:"language"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

// SaveExchange writes one exchange and returns its server-generated id.
func (s *Store) SaveExchange(ctx context.Context, ex Exchange) (uuid.UUID, error) {
	id := uuid.New()
	createdAt := ex.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO exchanges (id, task, code, language, response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, ex.Task, ex.Code, ex.Language, ex.Response, createdAt,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert exchange: %w", err)
	}
	return id, nil
}

// ListExchanges returns all recorded exchanges, newest first.
func (s *Store) ListExchanges(ctx context.Context) ([]Exchange, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task, code, language, response, created_at
		FROM exchanges
		ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var ex Exchange
		if err := rows.Scan(&ex.ID, &ex.Task, &ex.Code, &ex.Language, &ex.Response, &ex.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exchanges: %w", err)
	}
	return out, nil
}

// DeleteExchange removes one exchange by id. Returns false when no row matched.
func (s *Store) DeleteExchange(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM exchanges WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete exchange: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteAll clears the history and reports how many rows were removed.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM exchanges`)
	if err != nil {
		return 0, fmt.Errorf("delete all exchanges: %w", err)
	}
	return tag.RowsAffected(), nil
}
