package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"talkosync/internal/domain"
)

type stubPlayer struct {
	played []domain.Cue
	err    error
}

func (p *stubPlayer) Play(ctx context.Context, cue domain.Cue) error {
	p.played = append(p.played, cue)
	return p.err
}

type stubPreferencesStore struct {
	getFunc    func(context.Context, string) (domain.Preferences, error)
	upsertFunc func(context.Context, string, domain.Preferences) (domain.Preferences, error)
}

func (s *stubPreferencesStore) GetPreferences(ctx context.Context, userID string) (domain.Preferences, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, userID)
	}
	return domain.Preferences{}, domain.ErrNotFound
}

func (s *stubPreferencesStore) UpsertPreferences(ctx context.Context, userID string, p domain.Preferences) (domain.Preferences, error) {
	if s.upsertFunc != nil {
		return s.upsertFunc(ctx, userID, p)
	}
	return p, nil
}

type stubPushTokensAPI struct {
	registered []domain.PushToken
	deleted    []string
}

func (s *stubPushTokensAPI) RegisterPushToken(ctx context.Context, tok domain.PushToken) error {
	s.registered = append(s.registered, tok)
	return nil
}

func (s *stubPushTokensAPI) DeletePushToken(ctx context.Context, token string) error {
	s.deleted = append(s.deleted, token)
	return nil
}

type stubInboxAPI struct {
	unread   []domain.InboxNotification
	marked   []string
	clearErr error
	cleared  int
}

func (s *stubInboxAPI) ListUnreadNotifications(ctx context.Context) ([]domain.InboxNotification, error) {
	return append([]domain.InboxNotification(nil), s.unread...), nil
}

func (s *stubInboxAPI) MarkNotificationRead(ctx context.Context, id string) error {
	s.marked = append(s.marked, id)
	return nil
}

func (s *stubInboxAPI) ClearNotifications(ctx context.Context) error {
	if s.clearErr != nil {
		return s.clearErr
	}
	s.cleared++
	return nil
}

type manualClock struct{ t time.Time }

func (c *manualClock) Now() time.Time { return c.t }

func (c *manualClock) set(offset time.Duration) {
	c.t = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset)
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		open       string
		sender     string
		foreground bool
		want       domain.Cue
	}{
		{name: "open conversation in foreground", open: "bob", sender: "bob", foreground: true, want: domain.CueConfirm},
		{name: "open conversation in background", open: "bob", sender: "bob", foreground: false, want: domain.CueAmbient},
		{name: "other conversation", open: "bob", sender: "carol", foreground: true, want: domain.CueAmbient},
		{name: "nothing open", open: "", sender: "carol", foreground: true, want: domain.CueAmbient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.open, tt.sender, tt.foreground); got != tt.want {
				t.Fatalf("Decide() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGovernor_Timeline(t *testing.T) {
	clock := &manualClock{}
	g := NewGovernor(clock.Now)

	steps := []struct {
		at   time.Duration
		want bool
	}{
		{0, true},
		{500 * time.Millisecond, true},
		{1 * time.Second, true},
		{1500 * time.Millisecond, true},
		{2 * time.Second, false},
		{8 * time.Second, false},
		{12500 * time.Millisecond, true},
	}
	for _, s := range steps {
		clock.set(s.at)
		if got := g.Allow(); got != s.want {
			t.Fatalf("Allow() at %v = %v, want %v", s.at, got, s.want)
		}
	}
}

func TestGovernor_WindowExpiry(t *testing.T) {
	clock := &manualClock{}
	g := NewGovernor(clock.Now)

	for i := 0; i < 4; i++ {
		clock.set(time.Duration(i) * time.Second)
		if !g.Allow() {
			t.Fatalf("event %d should play", i)
		}
	}
	clock.set(40 * time.Second)
	if !g.Allow() {
		t.Fatalf("a quiet window should reset the count")
	}
}

func TestNotificationService_Dispatch(t *testing.T) {
	clock := &manualClock{}
	clock.set(0)
	player := &stubPlayer{}
	svc := &NotificationService{
		Player:   player,
		Governor: NewGovernor(clock.Now),
		Me:       stubIdentity{user: alice},
	}
	ctx := context.Background()

	if cue := svc.Dispatch(ctx, bob.ID, msg("m1", bob.ID, alice.ID)); cue != domain.CueConfirm {
		t.Fatalf("open conversation cue = %q", cue)
	}
	if cue := svc.Dispatch(ctx, bob.ID, msg("m2", carol.ID, alice.ID)); cue != domain.CueAmbient {
		t.Fatalf("other conversation cue = %q", cue)
	}
	if cue := svc.Dispatch(ctx, bob.ID, msg("m3", alice.ID, bob.ID)); cue != domain.CueSilent {
		t.Fatalf("own message cue = %q", cue)
	}

	svc.SetForeground(false)
	if cue := svc.Dispatch(ctx, bob.ID, msg("m4", bob.ID, alice.ID)); cue != domain.CueAmbient {
		t.Fatalf("background cue = %q", cue)
	}

	svc.ResetSession()
	if !svc.Foreground() {
		t.Fatalf("session reset should restore the foreground flag")
	}
	want := []domain.Cue{domain.CueConfirm, domain.CueAmbient, domain.CueAmbient}
	if len(player.played) != len(want) {
		t.Fatalf("played %v, want %v", player.played, want)
	}
	for i := range want {
		if player.played[i] != want[i] {
			t.Fatalf("played %v, want %v", player.played, want)
		}
	}
}

func TestNotificationService_BurstIsGoverned(t *testing.T) {
	clock := &manualClock{}
	clock.set(0)
	player := &stubPlayer{}
	notices := &noticeRecorder{}
	svc := &NotificationService{
		Player:   player,
		Governor: NewGovernor(clock.Now),
		Me:       stubIdentity{user: alice},
		Notices:  notices,
	}
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		clock.set(time.Duration(i) * 100 * time.Millisecond)
		svc.Dispatch(ctx, "", msg("m", carol.ID, alice.ID))
	}
	if len(player.played) != 4 {
		t.Fatalf("played %d cues, want 4", len(player.played))
	}
	if notices.count(domain.NoticeInfo) != 1 {
		t.Fatalf("expected a single mute notice, got %d", notices.count(domain.NoticeInfo))
	}

	// Confirm cues are not governed.
	if cue := svc.Dispatch(ctx, carol.ID, msg("m", carol.ID, alice.ID)); cue != domain.CueConfirm {
		t.Fatalf("confirm cue = %q", cue)
	}
}

func TestNotificationService_PreferencesGateCues(t *testing.T) {
	prefs := &stubPreferencesStore{
		getFunc: func(ctx context.Context, userID string) (domain.Preferences, error) {
			if userID != alice.ID {
				t.Fatalf("user = %q", userID)
			}
			return domain.Preferences{InChatSound: false, NotificationSound: true}, nil
		},
	}
	player := &stubPlayer{}
	svc := &NotificationService{Player: player, Prefs: prefs, Me: stubIdentity{user: alice}}
	ctx := context.Background()

	if _, err := svc.LoadPreferences(ctx); err != nil {
		t.Fatalf("LoadPreferences: %v", err)
	}
	if cue := svc.Dispatch(ctx, bob.ID, msg("m1", bob.ID, alice.ID)); cue != domain.CueSilent {
		t.Fatalf("in-chat sound off, cue = %q", cue)
	}
	if cue := svc.Dispatch(ctx, bob.ID, msg("m2", carol.ID, alice.ID)); cue != domain.CueAmbient {
		t.Fatalf("notification sound on, cue = %q", cue)
	}

	svc.Now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }
	saved, err := svc.SetPreferences(ctx, domain.Preferences{InChatSound: true, NotificationSound: false})
	if err != nil {
		t.Fatalf("SetPreferences: %v", err)
	}
	if saved.UpdatedAt.IsZero() {
		t.Fatalf("updated_at not stamped")
	}
	if cue := svc.Dispatch(ctx, bob.ID, msg("m3", carol.ID, alice.ID)); cue != domain.CueSilent {
		t.Fatalf("notification sound off, cue = %q", cue)
	}
}

func TestNotificationService_LoadPreferencesDefaults(t *testing.T) {
	svc := &NotificationService{Prefs: &stubPreferencesStore{}, Me: stubIdentity{user: alice}}
	p, err := svc.LoadPreferences(context.Background())
	if err != nil {
		t.Fatalf("LoadPreferences: %v", err)
	}
	if p != domain.DefaultPreferences() {
		t.Fatalf("prefs = %+v", p)
	}

	failing := &NotificationService{
		Prefs: &stubPreferencesStore{
			upsertFunc: func(context.Context, string, domain.Preferences) (domain.Preferences, error) {
				return domain.Preferences{}, errors.New("db down")
			},
		},
		Me: stubIdentity{user: alice},
	}
	if _, err := failing.SetPreferences(context.Background(), domain.Preferences{}); err == nil {
		t.Fatalf("expected save error")
	}
	if got := failing.Preferences(); got != domain.DefaultPreferences() {
		t.Fatalf("failed save changed the cache: %+v", got)
	}
}

func TestNotificationService_PushTokens(t *testing.T) {
	tokens := &stubPushTokensAPI{}
	svc := &NotificationService{
		Tokens: tokens,
		Now:    func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) },
	}
	ctx := context.Background()

	if err := svc.RegisterPushToken(ctx, "tok", "desktop"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := svc.RegisterPushToken(ctx, " tok ", "Web"); err != nil {
		t.Fatalf("RegisterPushToken: %v", err)
	}
	if len(tokens.registered) != 1 || tokens.registered[0].Token != "tok" || tokens.registered[0].Platform != "web" {
		t.Fatalf("registered = %+v", tokens.registered)
	}
	if err := svc.DeletePushToken(ctx, "tok"); err != nil {
		t.Fatalf("DeletePushToken: %v", err)
	}
	if len(tokens.deleted) != 1 {
		t.Fatalf("deleted = %v", tokens.deleted)
	}
}

func TestNotificationService_Inbox(t *testing.T) {
	inbox := &stubInboxAPI{unread: []domain.InboxNotification{
		{ID: "n1", Type: "friend_request", Title: "Bob Roe"},
		{ID: "n2", Type: "message", Title: "Carol Poe"},
	}}
	notices := &noticeRecorder{}
	svc := &NotificationService{Inbox: inbox, Notices: notices}
	ctx := context.Background()

	if err := svc.LoadInbox(ctx); err != nil {
		t.Fatalf("LoadInbox: %v", err)
	}
	svc.HandleNotification(domain.NotificationEvent{Title: "Dave", Body: "hi", Data: map[string]any{"type": "message"}})
	unread := svc.Unread()
	if len(unread) != 3 || !unread[2].Local || unread[2].Type != "message" {
		t.Fatalf("unread = %+v", unread)
	}

	if err := svc.MarkRead(ctx, "n1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := svc.MarkRead(ctx, unread[2].ID); err != nil {
		t.Fatalf("MarkRead local: %v", err)
	}
	if len(inbox.marked) != 1 || inbox.marked[0] != "n1" {
		t.Fatalf("server marked %v, local entries must stay local", inbox.marked)
	}
	if got := svc.Unread(); len(got) != 1 || got[0].ID != "n2" {
		t.Fatalf("unread = %+v", got)
	}

	inbox.clearErr = domain.ErrTransport
	if err := svc.ClearInbox(ctx); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if len(svc.Unread()) != 1 || notices.count(domain.NoticeError) != 1 {
		t.Fatalf("failed clear changed the inbox")
	}
	inbox.clearErr = nil
	if err := svc.ClearInbox(ctx); err != nil {
		t.Fatalf("ClearInbox: %v", err)
	}
	if len(svc.Unread()) != 0 || inbox.cleared != 1 {
		t.Fatalf("inbox not cleared")
	}

	svc.HandleNotification(domain.NotificationEvent{Title: "x"})
	svc.ResetSession()
	if len(svc.Unread()) != 0 {
		t.Fatalf("inbox survived session reset")
	}
}
