package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TWRT/taskboard/internal/models"
)

type UserRecord struct {
	models.User
	PasswordHash string
}

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *UserRecord) error {
	query := `
	INSERT INTO users (id, email, display_name, photo_url, password_hash, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		u.UID,
		u.Email,
		u.DisplayName,
		u.PhotoURL,
		u.PasswordHash,
		u.CreatedAt.UnixMilli(),
	)
	if err != nil {
		// modernc reports constraint violations only through the message text.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("user %s: %w", u.Email, ErrDuplicate)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (UserRecord, error) {
	return r.getOne(ctx, `SELECT id, email, display_name, photo_url, password_hash, created_at FROM users WHERE email = ?`, email)
}

func (r *UserRepository) GetByID(ctx context.Context, uid string) (UserRecord, error) {
	return r.getOne(ctx, `SELECT id, email, display_name, photo_url, password_hash, created_at FROM users WHERE id = ?`, uid)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg string) (UserRecord, error) {
	var (
		u         UserRecord
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.UID,
		&u.Email,
		&u.DisplayName,
		&u.PhotoURL,
		&u.PasswordHash,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, fmt.Errorf("user %s: %w", arg, ErrNotFound)
	}
	if err != nil {
		return UserRecord{}, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = time.UnixMilli(createdAt)
	return u, nil
}
