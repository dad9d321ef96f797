package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"sync"

	"talkosync/internal/domain"
)

type API interface {
	CheckAuth(ctx context.Context) (domain.UserSummary, error)
	Login(ctx context.Context, email, password string) (domain.UserSummary, error)
	Logout(ctx context.Context) error
}

// Hook runs on a session boundary. Start hooks receive the signed-in user.
type (
	StartHook func(ctx context.Context, user domain.UserSummary)
	EndHook   func()
)

// Session owns the signed-in identity. Other stores read it through CurrentUser
// and react to boundaries through OnStart/OnEnd.
type Session struct {
	API    API
	Logger *slog.Logger
	// Jar and CookieURL are optional. When set, Check skips the round trip
	// without a session cookie and a finished session drops the cookie.
	Jar       http.CookieJar
	CookieURL *url.URL

	mu      sync.Mutex
	user    *domain.UserSummary
	onStart []StartHook
	onEnd   []EndHook
}

func (s *Session) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Session) OnStart(h StartHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStart = append(s.onStart, h)
}

func (s *Session) OnEnd(h EndHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnd = append(s.onEnd, h)
}

func (s *Session) CurrentUser() (domain.UserSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return domain.UserSummary{}, false
	}
	return *s.user, true
}

// Check restores a session from an existing cookie. An unauthorized answer
// is not an error: the caller simply stays signed out.
func (s *Session) Check(ctx context.Context) (bool, error) {
	if s.Jar != nil && s.CookieURL != nil {
		if _, ok := SessionCookie(s.Jar, s.CookieURL); !ok {
			s.end()
			return false, nil
		}
	}
	u, err := s.API.CheckAuth(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			s.end()
			return false, nil
		}
		return false, fmt.Errorf("check auth: %w", err)
	}
	s.start(ctx, u)
	return true, nil
}

func (s *Session) Login(ctx context.Context, email, password string) (domain.UserSummary, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	fields := map[string]string{}
	if email == "" {
		fields["email"] = "required"
	} else if _, err := mail.ParseAddress(email); err != nil {
		fields["email"] = "invalid"
	}
	if password == "" {
		fields["password"] = "required"
	}
	if len(fields) > 0 {
		return domain.UserSummary{}, domain.NewValidationError(fields)
	}

	u, err := s.API.Login(ctx, email, password)
	if err != nil {
		return domain.UserSummary{}, fmt.Errorf("login: %w", err)
	}
	s.start(ctx, u)
	return u, nil
}

// Logout keeps the session when the backend call fails so the user can retry.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.API.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	s.end()
	return nil
}

func (s *Session) start(ctx context.Context, u domain.UserSummary) {
	s.mu.Lock()
	prev := s.user
	s.user = &u
	hooks := append([]StartHook(nil), s.onStart...)
	ends := append([]EndHook(nil), s.onEnd...)
	s.mu.Unlock()

	if prev != nil && prev.ID != u.ID {
		s.logger().Info("auth: identity changed", "prev_user_id", prev.ID, "user_id", u.ID)
		for _, h := range ends {
			h()
		}
	}
	if prev != nil && prev.ID == u.ID {
		return
	}
	s.logger().Info("auth: session started", "user_id", u.ID)
	for _, h := range hooks {
		h(ctx, u)
	}
}

func (s *Session) end() {
	s.mu.Lock()
	prev := s.user
	s.user = nil
	hooks := append([]EndHook(nil), s.onEnd...)
	s.mu.Unlock()

	ClearSessionCookie(s.Jar, s.CookieURL)
	if prev == nil {
		return
	}
	s.logger().Info("auth: session ended", "user_id", prev.ID)
	for _, h := range hooks {
		h()
	}
}
