package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"talkosync/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const preferencesSchema = `
	CREATE TABLE IF NOT EXISTS client_preferences (
		user_id text PRIMARY KEY,
		in_chat_sound boolean NOT NULL DEFAULT true,
		notification_sound boolean NOT NULL DEFAULT true,
		updated_at timestamptz NOT NULL DEFAULT now()
	)
`

type PreferencesStore struct {
	pool *pgxpool.Pool
}

func NewPreferencesStore(pool *pgxpool.Pool) *PreferencesStore {
	return &PreferencesStore{pool: pool}
}

// EnsureSchema creates the preferences table when it is missing.
func (s *PreferencesStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, preferencesSchema); err != nil {
		return fmt.Errorf("create client_preferences: %w", err)
	}
	return nil
}

func (s *PreferencesStore) GetPreferences(ctx context.Context, userID string) (domain.Preferences, error) {
	const q = `
		SELECT in_chat_sound, notification_sound, updated_at
		FROM client_preferences
		WHERE user_id = $1
	`

	var p domain.Preferences
	err := s.pool.QueryRow(ctx, q, userID).Scan(&p.InChatSound, &p.NotificationSound, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Preferences{}, domain.ErrNotFound
		}
		return domain.Preferences{}, fmt.Errorf("get preferences: %w", err)
	}
	return p, nil
}

func (s *PreferencesStore) UpsertPreferences(ctx context.Context, userID string, p domain.Preferences) (domain.Preferences, error) {
	const q = `
		INSERT INTO client_preferences (user_id, in_chat_sound, notification_sound, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id)
		DO UPDATE SET
			in_chat_sound = EXCLUDED.in_chat_sound,
			notification_sound = EXCLUDED.notification_sound,
			updated_at = EXCLUDED.updated_at
		RETURNING in_chat_sound, notification_sound, updated_at
	`

	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	var saved domain.Preferences
	err := s.pool.QueryRow(ctx, q, userID, p.InChatSound, p.NotificationSound, updatedAt).
		Scan(&saved.InChatSound, &saved.NotificationSound, &saved.UpdatedAt)
	if err != nil {
		return domain.Preferences{}, fmt.Errorf("upsert preferences: %w", err)
	}
	return saved, nil
}
