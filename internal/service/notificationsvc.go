package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"talkosync/internal/domain"
)

// Decide picks the cue for a message from sender given the open conversation
// and whether the client is in the foreground.
func Decide(openPeerID, senderID string, foreground bool) domain.Cue {
	if openPeerID != "" && senderID == openPeerID && foreground {
		return domain.CueConfirm
	}
	return domain.CueAmbient
}

// Governor limits ambient cues: a burst past Limit inside Window mutes ambient
// cues for Cooldown, after which counting starts over.
type Governor struct {
	Now      func() time.Time
	Limit    int
	Window   time.Duration
	Cooldown time.Duration

	mu           sync.Mutex
	count        int
	last         time.Time
	blockedUntil time.Time
}

func NewGovernor(now func() time.Time) *Governor {
	return &Governor{Now: now, Limit: 4, Window: 30 * time.Second, Cooldown: 10 * time.Second}
}

func (g *Governor) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.blockedUntil.IsZero() {
		if now.Before(g.blockedUntil) {
			return false
		}
		g.blockedUntil = time.Time{}
		g.count = 0
		g.last = time.Time{}
	}

	if !g.last.IsZero() && now.Sub(g.last) > g.window() {
		g.count = 0
	}
	g.count++
	if g.count > g.limit() {
		g.blockedUntil = now.Add(g.cooldown())
		return false
	}
	g.last = now
	return true
}

func (g *Governor) Muted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.blockedUntil.IsZero() && g.now().Before(g.blockedUntil)
}

func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count = 0
	g.last = time.Time{}
	g.blockedUntil = time.Time{}
}

func (g *Governor) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *Governor) limit() int {
	if g.Limit > 0 {
		return g.Limit
	}
	return 4
}

func (g *Governor) window() time.Duration {
	if g.Window > 0 {
		return g.Window
	}
	return 30 * time.Second
}

func (g *Governor) cooldown() time.Duration {
	if g.Cooldown > 0 {
		return g.Cooldown
	}
	return 10 * time.Second
}

type Player interface {
	Play(ctx context.Context, cue domain.Cue) error
}

type PreferencesStore interface {
	GetPreferences(ctx context.Context, userID string) (domain.Preferences, error)
	UpsertPreferences(ctx context.Context, userID string, prefs domain.Preferences) (domain.Preferences, error)
}

type PushTokensAPI interface {
	RegisterPushToken(ctx context.Context, tok domain.PushToken) error
	DeletePushToken(ctx context.Context, token string) error
}

type InboxAPI interface {
	ListUnreadNotifications(ctx context.Context) ([]domain.InboxNotification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	ClearNotifications(ctx context.Context) error
}

// NotificationService turns incoming messages into sound cues and keeps the
// user's sound preferences.
type NotificationService struct {
	Player   Player
	Governor *Governor
	Prefs    PreferencesStore
	Tokens   PushTokensAPI
	Inbox    InboxAPI
	Me       Identity
	Notices  NoticeSink
	Logger   *slog.Logger
	Now      func() time.Time

	background atomic.Bool

	mu       sync.Mutex
	prefs    *domain.Preferences
	unread   []domain.InboxNotification
	localSeq uint64
}

func (s *NotificationService) logger() *slog.Logger { return loggerOr(s.Logger) }

func (s *NotificationService) SetForeground(foreground bool) {
	s.background.Store(!foreground)
}

func (s *NotificationService) Foreground() bool { return !s.background.Load() }

func (s *NotificationService) ResetSession() {
	s.background.Store(false)
	if s.Governor != nil {
		s.Governor.Reset()
	}
	s.mu.Lock()
	s.prefs = nil
	s.unread = nil
	s.mu.Unlock()
}

// Dispatch decides and plays the cue for msg. The decision reads the open
// conversation and foreground flag at call time.
func (s *NotificationService) Dispatch(ctx context.Context, openPeerID string, msg domain.Message) domain.Cue {
	if msg.SenderID == "" || msg.SenderID == me(s.Me).ID {
		return domain.CueSilent
	}

	prefs := s.Preferences()
	cue := Decide(openPeerID, msg.SenderID, s.Foreground())
	switch cue {
	case domain.CueConfirm:
		if !prefs.InChatSound {
			return domain.CueSilent
		}
	case domain.CueAmbient:
		if !prefs.NotificationSound {
			return domain.CueSilent
		}
		if s.Governor != nil {
			wasMuted := s.Governor.Muted()
			if !s.Governor.Allow() {
				if !wasMuted {
					notify(s.Notices, domain.NoticeInfo, "", "Too many notifications, sounds paused briefly")
				}
				s.logger().Debug("notifications: ambient cue muted", "sender_id", msg.SenderID)
				return domain.CueSilent
			}
		}
	}

	if s.Player != nil {
		if err := s.Player.Play(ctx, cue); err != nil {
			s.logger().Warn("notifications: play failed", "cue", string(cue), "err", err)
		}
	}
	return cue
}

func (s *NotificationService) Preferences() domain.Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefs == nil {
		return domain.DefaultPreferences()
	}
	return *s.prefs
}

func (s *NotificationService) LoadPreferences(ctx context.Context) (domain.Preferences, error) {
	userID := me(s.Me).ID
	if s.Prefs == nil || userID == "" {
		return s.Preferences(), nil
	}
	p, err := s.Prefs.GetPreferences(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return s.Preferences(), fmt.Errorf("load preferences: %w", err)
		}
		p = domain.DefaultPreferences()
	}
	s.mu.Lock()
	s.prefs = &p
	s.mu.Unlock()
	return p, nil
}

func (s *NotificationService) SetPreferences(ctx context.Context, p domain.Preferences) (domain.Preferences, error) {
	if s.Now == nil {
		s.Now = time.Now
	}
	p.UpdatedAt = s.Now().UTC().Truncate(time.Millisecond)

	userID := me(s.Me).ID
	if s.Prefs != nil && userID != "" {
		saved, err := s.Prefs.UpsertPreferences(ctx, userID, p)
		if err != nil {
			s.logger().Warn("notifications: save preferences failed", "err", err)
			return s.Preferences(), fmt.Errorf("save preferences: %w", err)
		}
		p = saved
	}
	s.mu.Lock()
	s.prefs = &p
	s.mu.Unlock()
	return p, nil
}

func (s *NotificationService) RegisterPushToken(ctx context.Context, token, platform string) error {
	if s.Tokens == nil {
		return errors.New("notifications unavailable")
	}
	token = strings.TrimSpace(token)
	platform = strings.TrimSpace(strings.ToLower(platform))
	if token == "" || platform == "" {
		return domain.NewValidationError(map[string]string{"token": "required", "platform": "required"})
	}
	switch platform {
	case "web", "android", "ios":
	default:
		return domain.NewValidationError(map[string]string{"platform": "must be web, ios or android"})
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s.Tokens.RegisterPushToken(ctx, domain.PushToken{
		Token:     token,
		Platform:  platform,
		CreatedAt: s.Now().UTC().Truncate(time.Millisecond),
	})
}

func (s *NotificationService) DeletePushToken(ctx context.Context, token string) error {
	if s.Tokens == nil {
		return errors.New("notifications unavailable")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.NewValidationError(map[string]string{"token": "required"})
	}
	return s.Tokens.DeletePushToken(ctx, token)
}

func (s *NotificationService) Unread() []domain.InboxNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.InboxNotification(nil), s.unread...)
}

func (s *NotificationService) LoadInbox(ctx context.Context) error {
	if s.Inbox == nil {
		return nil
	}
	list, err := s.Inbox.ListUnreadNotifications(ctx)
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}
	s.mu.Lock()
	s.unread = list
	s.mu.Unlock()
	return nil
}

func (s *NotificationService) HandleNotification(ev domain.NotificationEvent) {
	if s.Now == nil {
		s.Now = time.Now
	}
	typ := "message"
	if t, ok := ev.Data["type"].(string); ok && t != "" {
		typ = t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.localSeq++
	s.unread = append(s.unread, domain.InboxNotification{
		ID:        fmt.Sprintf("local-%d", s.localSeq),
		Type:      typ,
		Title:     ev.Title,
		Body:      ev.Body,
		Data:      ev.Data,
		CreatedAt: s.Now().UTC(),
		Local:     true,
	})
}

func (s *NotificationService) MarkRead(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.NewValidationError(map[string]string{"id": "required"})
	}

	s.mu.Lock()
	i := indexNotification(s.unread, id)
	local := i >= 0 && s.unread[i].Local
	s.mu.Unlock()

	if !local && s.Inbox != nil {
		if err := s.Inbox.MarkNotificationRead(ctx, id); err != nil {
			s.logger().Warn("notifications: mark read failed", "id", id, "err", err)
			return err
		}
	}

	s.mu.Lock()
	if i := indexNotification(s.unread, id); i >= 0 {
		s.unread = append(s.unread[:i:i], s.unread[i+1:]...)
	}
	s.mu.Unlock()
	return nil
}

func (s *NotificationService) ClearInbox(ctx context.Context) error {
	if s.Inbox != nil {
		if err := s.Inbox.ClearNotifications(ctx); err != nil {
			s.logger().Warn("notifications: clear failed", "err", err)
			notify(s.Notices, domain.NoticeError, "", "Failed to clear notifications")
			return err
		}
	}
	s.mu.Lock()
	s.unread = nil
	s.mu.Unlock()
	notify(s.Notices, domain.NoticeSuccess, "", "All notifications cleared")
	return nil
}

func indexNotification(list []domain.InboxNotification, id string) int {
	for i, n := range list {
		if n.ID == id {
			return i
		}
	}
	return -1
}
