package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"photobooth/internal/domain"
)

// SlotRepositoryPG persists the display buffers in PostgreSQL, one row per
// buffer name. The regular and gallery sequences persist independently so
// switching view modes never loses state across restarts.
type SlotRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewSlotRepository creates a buffer repository backed by PostgreSQL.
func NewSlotRepository(pool *pgxpool.Pool) *SlotRepositoryPG {
	return &SlotRepositoryPG{pool: pool}
}

// EnsureSchema creates the backing table if it does not exist.
func (r *SlotRepositoryPG) EnsureSchema(ctx context.Context) error {
	query := `
CREATE TABLE IF NOT EXISTS slot_buffers (
    name       TEXT PRIMARY KEY,
    slots      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	if _, err := r.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure slot_buffers schema: %w", err)
	}
	return nil
}

// SaveBuffer upserts the serialized slot sequence for one buffer.
func (r *SlotRepositoryPG) SaveBuffer(ctx context.Context, name string, slots []domain.Slot) error {
	payload, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("encode slot buffer %s: %w", name, err)
	}
	query := `
INSERT INTO slot_buffers (name, slots, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (name) DO UPDATE SET slots = EXCLUDED.slots, updated_at = NOW();
`
	if _, err := r.pool.Exec(ctx, query, name, payload); err != nil {
		return fmt.Errorf("save slot buffer %s: %w", name, err)
	}
	return nil
}

// LoadBuffer fetches the slot sequence for one buffer.
func (r *SlotRepositoryPG) LoadBuffer(ctx context.Context, name string) ([]domain.Slot, error) {
	query := `
SELECT slots
FROM slot_buffers
WHERE name = $1;
`
	var payload []byte
	if err := r.pool.QueryRow(ctx, query, name).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("load slot buffer %s: %w", name, err)
	}
	var slots []domain.Slot
	if err := json.Unmarshal(payload, &slots); err != nil {
		return nil, fmt.Errorf("decode slot buffer %s: %w", name, err)
	}
	return slots, nil
}
