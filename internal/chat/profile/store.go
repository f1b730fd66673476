package profile

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/converso/server/internal/chat/model"
	"github.com/converso/server/internal/core/errx"
	logx "github.com/converso/server/pkg/logger"
)

const (
	getSQL = `SELECT user_profile FROM users WHERE id = $1`

	saveSQL = `INSERT INTO users (id, user_profile) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET user_profile = EXCLUDED.user_profile`
)

// DB is the slice of pgxpool.Pool the store needs.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store reads and writes the long-term profile summary on the account record.
// The orchestrator reads it at turn start; only the background job writes it.
type Store struct {
	db DB
}

func New(db DB) *Store {
	return &Store{db: db}
}

// Get returns the profile summary, or "" when the account has none yet.
func (s *Store) Get(ctx context.Context, userID string) (string, error) {
	var summary *string
	err := s.db.QueryRow(ctx, getSQL, userID).Scan(&summary)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		logx.Error().Err(err).Str("user_id", userID).Msg("failed to load user profile")
		return "", errx.WrapPostgres(err)
	}
	if summary == nil {
		return "", nil
	}
	return *summary, nil
}

// Save overwrites the profile summary. Last writer wins; the value is
// advisory long-term memory, so no locking is required.
func (s *Store) Save(ctx context.Context, userID, summary string) error {
	if _, err := s.db.Exec(ctx, saveSQL, userID, summary); err != nil {
		logx.Error().Err(err).Str("user_id", userID).Msg("failed to save user profile")
		return errx.WrapPostgres(err)
	}
	return nil
}

var _ model.ProfileRepository = (*Store)(nil)
