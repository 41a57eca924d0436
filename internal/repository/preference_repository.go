package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TWRT/taskboard/internal/models"
)

// PreferenceRepository stores independent scalar slots per user. A slot is
// created on first write and overwritten afterwards.
type PreferenceRepository struct {
	db *sql.DB
}

func NewPreferenceRepository(db *sql.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// Get returns the stored value and whether the slot exists.
func (r *PreferenceRepository) Get(ctx context.Context, uid string, slot models.PreferenceSlot) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE uid = ? AND slot = ?`, uid, string(slot),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get preference %s: %w", slot, err)
	}
	return value, true, nil
}

func (r *PreferenceRepository) Put(ctx context.Context, uid string, slot models.PreferenceSlot, value string) error {
	query := `
		INSERT INTO preferences (uid, slot, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (uid, slot) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query, uid, string(slot), value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put preference %s: %w", slot, err)
	}
	return nil
}
