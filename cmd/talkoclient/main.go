package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"talkosync/internal/auth"
	"talkosync/internal/client"
	"talkosync/internal/config"
	"talkosync/internal/domain"
	"talkosync/internal/httpapi"
	"talkosync/internal/notifications"
	"talkosync/internal/realtime"
	"talkosync/internal/service"
	"talkosync/internal/store/memory"
	"talkosync/internal/store/postgres"
	redisstore "talkosync/internal/store/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jar, err := auth.NewCookieJar()
	if err != nil {
		logger.Error("cookie jar init failed", "err", err)
		os.Exit(1)
	}

	api, err := httpapi.NewClient(httpapi.ClientOpts{
		BaseURL: cfg.APIURL,
		Timeout: cfg.HTTPTimeout,
		Jar:     jar,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("api client init failed", "err", err)
		os.Exit(1)
	}

	prefs, closePrefs, err := openPreferences(ctx, cfg.PrefsDSN)
	if err != nil {
		logger.Error("preferences store open failed", "err", err)
		os.Exit(1)
	}
	defer closePrefs()

	notices := noticeLogger{logger: logger}
	session := &auth.Session{API: api, Logger: logger, Jar: jar, CookieURL: api.BaseURL()}
	presence := &service.PresenceTracker{}

	rt, err := realtime.NewManager(realtime.Opts{
		URL:              cfg.SocketURL,
		Jar:              jar,
		HandshakeTimeout: cfg.SocketTimeout,
		EmitRate:         cfg.EmitRate,
		Presence:         presence,
		Notices:          notices,
		Logger:           logger,
	})
	if err != nil {
		logger.Error("realtime init failed", "err", err)
		os.Exit(1)
	}

	friends := &service.FriendsService{API: api, Emitter: rt, Me: session, Notices: notices, Logger: logger}
	blocks := &service.BlockingService{API: api, Emitter: rt, Me: session, Notices: notices, Logger: logger}
	conversation := &service.ConversationService{
		API:        api,
		Blocks:     blocks,
		Emitter:    rt,
		Me:         session,
		Notices:    notices,
		Logger:     logger,
		TypingIdle: cfg.TypingIdle,
	}
	notify := &service.NotificationService{
		Player:   newPlayer(cfg, logger),
		Governor: service.NewGovernor(time.Now),
		Prefs:    prefs,
		Tokens:   api,
		Inbox:    api,
		Me:       session,
		Notices:  notices,
		Logger:   logger,
	}

	engine := client.Bind(client.Opts{
		Logger:        logger,
		Base:          ctx,
		RequestPoll:   cfg.RequestPoll,
		Session:       session,
		Router:        rt,
		Realtime:      rt,
		Presence:      presence,
		Friends:       friends,
		Blocks:        blocks,
		Conversation:  conversation,
		Notifications: notify,
	})

	if err := signIn(ctx, cfg, session); err != nil {
		logger.Error("sign in failed", "err", err)
		os.Exit(1)
	}
	logger.Info("client running", "env", cfg.Env, "api", cfg.APIURL.String(), "socket", cfg.SocketURL.String())

	// SIGUSR1 toggles foreground, SIGUSR2 logs a snapshot of the synced state.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			shutdown(session, rt, logger)
			return
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				notify.SetForeground(!notify.Foreground())
				logger.Info("foreground changed", "foreground", notify.Foreground())
			case syscall.SIGUSR2:
				me, _ := session.CurrentUser()
				ov := friends.Overview()
				logger.Info("state",
					"user_id", me.ID,
					"realtime", rt.State().String(),
					"online", engine.OnlineContacts(),
					"friends", len(ov.Friends),
					"incoming", len(ov.Incoming),
					"outgoing", len(ov.Outgoing),
					"blocked", len(blocks.Blocked()),
					"open_peer_id", conversation.OpenPeerID(),
				)
			}
		}
	}
}

// signIn restores the cookie session or logs in with the configured
// credentials.
func signIn(ctx context.Context, cfg config.Config, session *auth.Session) error {
	checkCtx, cancel := context.WithTimeout(ctx, cfg.HTTPTimeout)
	defer cancel()

	ok, err := session.Check(checkCtx)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if !cfg.HasCredentials() {
		return errors.New("not signed in: set APP_EMAIL and APP_PASSWORD")
	}

	loginCtx, cancel := context.WithTimeout(ctx, cfg.HTTPTimeout)
	defer cancel()
	_, err = session.Login(loginCtx, cfg.Email, cfg.Password)
	return err
}

func shutdown(session *auth.Session, rt *realtime.Manager, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := session.Logout(ctx); err != nil {
		logger.Warn("logout failed", "err", err)
		rt.Disconnect()
	}
	logger.Info("client stopped")
}

func openPreferences(ctx context.Context, dsn string) (service.PreferencesStore, func(), error) {
	switch {
	case dsn == "":
		return memory.NewPreferencesStore(), func() {}, nil
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		rdb, err := redisstore.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return redisstore.NewPreferencesStore(rdb), func() { _ = rdb.Close() }, nil
	default:
		pool, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewPreferencesStore(pool), pool.Close, nil
	}
}

func newPlayer(cfg config.Config, logger *slog.Logger) service.Player {
	if cfg.Sound == "bell" {
		return notifications.NewBellPlayer(os.Stdout)
	}
	return notifications.LogPlayer{Logger: logger}
}

// noticeLogger surfaces user-facing notices in the log.
type noticeLogger struct {
	logger *slog.Logger
}

func (n noticeLogger) Notice(notice domain.Notice) {
	level := slog.LevelInfo
	if notice.Kind == domain.NoticeError {
		level = slog.LevelWarn
	}
	n.logger.Log(context.Background(), level, notice.Message, "kind", string(notice.Kind), "peer_id", notice.PeerID)
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProd() {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
