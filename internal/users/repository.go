package users

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/practice-arena/backend/internal/arena"
	"github.com/practice-arena/backend/internal/models"
)

// Repository reads the profile fields of users owned by the identity service.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a users repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Profile returns the display identity of a user, or arena.ErrNoRecord.
func (r *Repository) Profile(ctx context.Context, id uuid.UUID) (*models.UserProfile, error) {
	const q = `SELECT id, full_name, COALESCE(avatar_url, '') FROM users WHERE id = $1`
	var u models.UserProfile
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.FullName, &u.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, arena.ErrNoRecord
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
