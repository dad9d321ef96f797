package service

import (
	"errors"
	"log/slog"

	"talkosync/internal/domain"
)

// Emitter sends a realtime event. Implementations must not block; a missing
// connection is reported as domain.ErrNotConnected and is never fatal.
type Emitter interface {
	Emit(event string, payload any) error
}

type Identity interface {
	CurrentUser() (domain.UserSummary, bool)
}

type NoticeSink interface {
	Notice(n domain.Notice)
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

func emitBestEffort(logger *slog.Logger, e Emitter, event string, payload any) {
	if e == nil {
		return
	}
	if err := e.Emit(event, payload); err != nil {
		logger.Debug("realtime emit skipped", "event", event, "err", err)
	}
}

func notify(sink NoticeSink, kind domain.NoticeKind, peerID, msg string) {
	if sink == nil {
		return
	}
	sink.Notice(domain.Notice{Kind: kind, PeerID: peerID, Message: msg})
}

func me(id Identity) domain.UserSummary {
	if id == nil {
		return domain.UserSummary{}
	}
	u, _ := id.CurrentUser()
	return u
}

func userMessage(err error, fallback string) string {
	var um interface{ UserMessage() string }
	if errors.As(err, &um) && um.UserMessage() != "" {
		return um.UserMessage()
	}
	return fallback
}
