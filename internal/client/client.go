package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"talkosync/internal/auth"
	"talkosync/internal/domain"
	"talkosync/internal/realtime"
	"talkosync/internal/service"
)

// Router is where inbound realtime events are registered.
type Router interface {
	On(event string, h realtime.Handler)
}

type Connector interface {
	Connect(ctx context.Context, userID string) error
	Disconnect()
}

type Opts struct {
	Logger *slog.Logger
	// Base bounds the realtime binding of every session.
	Base context.Context
	// RequestPoll re-reads incoming friend requests while signed in. Zero
	// disables polling.
	RequestPoll time.Duration

	Session       *auth.Session
	Router        Router
	Realtime      Connector
	Presence      *service.PresenceTracker
	Friends       *service.FriendsService
	Blocks        *service.BlockingService
	Conversation  *service.ConversationService
	Notifications *service.NotificationService
}

type Engine struct {
	logger      *slog.Logger
	base        context.Context
	requestPoll time.Duration

	session       *auth.Session
	realtime      Connector
	presence      *service.PresenceTracker
	friends       *service.FriendsService
	blocks        *service.BlockingService
	conversation  *service.ConversationService
	notifications *service.NotificationService

	mu       sync.Mutex
	stopPoll func()
}

// Bind connects the services to each other, to the realtime router and to
// session boundaries.
func Bind(opts Opts) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := opts.Base
	if base == nil {
		base = context.Background()
	}

	e := &Engine{
		logger:        logger,
		base:          base,
		requestPoll:   opts.RequestPoll,
		session:       opts.Session,
		realtime:      opts.Realtime,
		presence:      opts.Presence,
		friends:       opts.Friends,
		blocks:        opts.Blocks,
		conversation:  opts.Conversation,
		notifications: opts.Notifications,
	}

	if e.blocks != nil && e.conversation != nil {
		e.blocks.OnBlockedBy(func(peerID, peerName string, blocked bool) {
			if blocked {
				e.conversation.HandleYouWereBlocked(domain.YouWereBlockedEvent{BlockerID: peerID, BlockerName: peerName})
			}
		})
	}

	if e.friends != nil && e.conversation != nil {
		e.friends.OnAccepted(func(ctx context.Context, _ string) {
			e.conversation.RefreshChatUsers(ctx)
		})
	}

	if opts.Router != nil {
		e.routes(opts.Router)
	}
	if e.session != nil {
		e.session.OnStart(e.sessionStarted)
		e.session.OnEnd(e.sessionEnded)
	}
	return e
}

// on decodes the payload into T before calling fn. Undecodable payloads are
// logged and dropped.
func on[T any](r Router, logger *slog.Logger, event string, fn func(context.Context, T)) {
	r.On(event, func(ctx context.Context, raw json.RawMessage) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			logger.Warn("client: bad event payload", "event", event, "err", err)
			return
		}
		fn(ctx, v)
	})
}
