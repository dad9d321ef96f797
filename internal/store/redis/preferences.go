package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"talkosync/internal/domain"

	goredis "github.com/redis/go-redis/v9"
)

// Open parses a redis:// URL and verifies the server answers.
func Open(ctx context.Context, rawURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// preferences key: talko:prefs:<user>, a hash of the sound toggles
func preferencesKey(userID string) string { return "talko:prefs:" + userID }

const (
	fieldInChat       = "in_chat_sound"
	fieldNotification = "notification_sound"
	fieldUpdatedAt    = "updated_at"
)

type PreferencesStore struct {
	rdb *goredis.Client
}

func NewPreferencesStore(rdb *goredis.Client) *PreferencesStore {
	return &PreferencesStore{rdb: rdb}
}

func (s *PreferencesStore) GetPreferences(ctx context.Context, userID string) (domain.Preferences, error) {
	vals, err := s.rdb.HGetAll(ctx, preferencesKey(userID)).Result()
	if err != nil {
		return domain.Preferences{}, fmt.Errorf("get preferences: %w", err)
	}
	if len(vals) == 0 {
		return domain.Preferences{}, domain.ErrNotFound
	}
	return decodePreferences(vals)
}

func (s *PreferencesStore) UpsertPreferences(ctx context.Context, userID string, p domain.Preferences) (domain.Preferences, error) {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	p.UpdatedAt = p.UpdatedAt.UTC().Truncate(time.Millisecond)

	err := s.rdb.HSet(ctx, preferencesKey(userID),
		fieldInChat, strconv.FormatBool(p.InChatSound),
		fieldNotification, strconv.FormatBool(p.NotificationSound),
		fieldUpdatedAt, p.UpdatedAt.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return domain.Preferences{}, fmt.Errorf("upsert preferences: %w", err)
	}
	return p, nil
}

func decodePreferences(vals map[string]string) (domain.Preferences, error) {
	p := domain.DefaultPreferences()
	if v, ok := vals[fieldInChat]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return domain.Preferences{}, fmt.Errorf("decode %s: %w", fieldInChat, err)
		}
		p.InChatSound = b
	}
	if v, ok := vals[fieldNotification]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return domain.Preferences{}, fmt.Errorf("decode %s: %w", fieldNotification, err)
		}
		p.NotificationSound = b
	}
	if v, ok := vals[fieldUpdatedAt]; ok && v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return domain.Preferences{}, fmt.Errorf("decode %s: %w", fieldUpdatedAt, err)
		}
		p.UpdatedAt = t
	}
	return p, nil
}
