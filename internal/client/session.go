package client

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"talkosync/internal/domain"
)

func (e *Engine) sessionStarted(ctx context.Context, user domain.UserSummary) {
	if e.realtime != nil {
		if err := e.realtime.Connect(e.base, user.ID); err != nil {
			e.logger.Error("client: realtime connect failed", "user_id", user.ID, "err", err)
		}
	}

	// One failed collection must not cancel the others.
	var g errgroup.Group
	if e.friends != nil {
		g.Go(func() error { return e.friends.Load(ctx) })
	}
	if e.blocks != nil {
		g.Go(func() error { return e.blocks.Load(ctx) })
	}
	if e.conversation != nil {
		g.Go(func() error { return e.conversation.LoadChatUsers(ctx) })
	}
	if e.notifications != nil {
		g.Go(func() error {
			_, err := e.notifications.LoadPreferences(ctx)
			return err
		})
		g.Go(func() error { return e.notifications.LoadInbox(ctx) })
	}
	if err := g.Wait(); err != nil {
		e.logger.Warn("client: initial load incomplete", "user_id", user.ID, "err", err)
	}
	e.startPolling()
}

func (e *Engine) startPolling() {
	if e.friends == nil || e.requestPoll <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(e.base)
	ticker := time.NewTicker(e.requestPoll)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ticker.Stop()
		e.friends.PollIncoming(ctx, ticker.C)
	}()

	e.mu.Lock()
	prev := e.stopPoll
	e.stopPoll = func() {
		cancel()
		<-done
	}
	e.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (e *Engine) stopPolling() {
	e.mu.Lock()
	stop := e.stopPoll
	e.stopPoll = nil
	e.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// sessionEnded leaves nothing of the previous user behind.
func (e *Engine) sessionEnded() {
	e.stopPolling()
	if e.realtime != nil {
		e.realtime.Disconnect()
	}
	if e.presence != nil {
		e.presence.Clear()
	}
	if e.conversation != nil {
		e.conversation.Clear()
	}
	if e.friends != nil {
		e.friends.Clear()
	}
	if e.blocks != nil {
		e.blocks.Clear()
	}
	if e.notifications != nil {
		e.notifications.ResetSession()
	}
}
