package client

import (
	"context"

	"talkosync/internal/domain"
)

func (e *Engine) routes(r Router) {
	if e.friends != nil {
		on(r, e.logger, domain.EventNewFriendRequest, func(ctx context.Context, ev domain.NewFriendRequestEvent) {
			e.friends.HandleIncomingRequest(ctx, ev)
		})
		on(r, e.logger, domain.EventFriendRequestAccepted, func(ctx context.Context, ev domain.FriendRequestAcceptedEvent) {
			e.friends.HandleRequestAccepted(ctx, ev)
		})
		on(r, e.logger, domain.EventFriendRequestRejected, func(ctx context.Context, ev domain.FriendRequestRejectedEvent) {
			e.friends.HandleRequestRejected(ctx, ev)
		})
		on(r, e.logger, domain.EventFriendRequestCanceled, func(ctx context.Context, ev domain.FriendRequestCancelledEvent) {
			e.friends.HandleRequestCancelled(ctx, ev)
		})
		on(r, e.logger, domain.EventFriendRemoved, func(ctx context.Context, ev domain.FriendRemovedEvent) {
			e.friends.HandleFriendRemoved(ctx, ev)
		})
	}

	if e.blocks != nil {
		on(r, e.logger, domain.EventYouWereBlocked, func(_ context.Context, ev domain.YouWereBlockedEvent) {
			e.blocks.HandleYouWereBlocked(ev)
		})
		on(r, e.logger, domain.EventYouWereUnblocked, func(_ context.Context, ev domain.YouWereUnblockedEvent) {
			e.blocks.HandleYouWereUnblocked(ev)
		})
	}

	on(r, e.logger, domain.EventBlockActionConfirmed, e.blockActionConfirmed)
	on(r, e.logger, domain.EventRefreshContacts, e.refreshContacts)
	on(r, e.logger, domain.EventAccountDeleted, e.accountDeleted)
	on(r, e.logger, domain.EventNewMessage, e.newMessage)

	if e.notifications != nil {
		on(r, e.logger, domain.EventNotification, func(_ context.Context, ev domain.NotificationEvent) {
			e.notifications.HandleNotification(ev)
		})
	}

	if e.conversation != nil {
		on(r, e.logger, domain.EventUserTyping, func(_ context.Context, ev domain.TypingEvent) {
			e.conversation.HandleTyping(ev)
		})
		on(r, e.logger, domain.EventUserStoppedTyping, func(_ context.Context, ev domain.TypingEvent) {
			e.conversation.HandleStoppedTyping(ev)
		})
		on(r, e.logger, domain.EventChatHistoryDeleted, func(_ context.Context, ev domain.ChatHistoryDeletedEvent) {
			e.conversation.HandleChatHistoryDeleted(ev)
		})
	}
}

// A block confirmation can change friendships too, so both stores re-read.
func (e *Engine) blockActionConfirmed(ctx context.Context, ev domain.BlockActionConfirmedEvent) {
	if e.blocks != nil {
		e.blocks.HandleBlockActionConfirmed(ctx, ev)
	}
	if e.friends != nil {
		e.friends.HandleRefreshContacts(ctx)
	}
}

func (e *Engine) refreshContacts(ctx context.Context, ev domain.RefreshContactsEvent) {
	if e.friends != nil {
		e.friends.HandleRefreshContacts(ctx)
	}
	if e.blocks != nil {
		e.blocks.HandleRefreshContacts(ctx, ev)
	}
	if e.conversation != nil {
		e.conversation.RefreshChatUsers(ctx)
	}
}

func (e *Engine) accountDeleted(_ context.Context, ev domain.AccountDeletedEvent) {
	if ev.UserID == "" {
		return
	}
	e.logger.Info("client: account deleted", "user_id", ev.UserID)
	if e.friends != nil {
		e.friends.HandleAccountDeleted(ev.UserID)
	}
	if e.blocks != nil {
		e.blocks.HandleAccountDeleted(ev.UserID)
	}
	if e.conversation != nil {
		e.conversation.HandleAccountDeleted(ev.UserID)
	}
}

// newMessage updates the open conversation and then picks the sound. The
// open peer is read when the message arrives, not when the session began.
func (e *Engine) newMessage(ctx context.Context, msg domain.Message) {
	openPeerID := ""
	if e.conversation != nil {
		e.conversation.HandleNewMessage(msg)
		openPeerID = e.conversation.OpenPeerID()
	}
	if e.notifications != nil {
		e.notifications.Dispatch(ctx, openPeerID, msg)
	}
}
