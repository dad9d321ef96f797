package domain

// Inbound realtime events.
const (
	EventOnlineUsers           = "getOnlineUsers"
	EventNewFriendRequest      = "newFriendRequest"
	EventFriendRequestAccepted = "friendRequestAccepted"
	EventFriendRequestRejected = "friendRequestRejected"
	EventFriendRequestCanceled = "friendRequestCancelled"
	EventFriendRemoved         = "friendRemoved"
	EventYouWereBlocked        = "youWereBlocked"
	EventYouWereUnblocked      = "youWereUnblocked"
	EventBlockActionConfirmed  = "blockActionConfirmed"
	EventRefreshContacts       = "refreshContactsList"
	EventNewMessage            = "newMessage"
	EventUserTyping            = "userTyping"
	EventUserStoppedTyping     = "userStoppedTyping"
	EventChatHistoryDeleted    = "chatHistoryDeleted"
	EventAccountDeleted        = "accountDeleted"
	EventNotification          = "notification"
)

// Outbound realtime events. Friend lifecycle and history deletion reuse the
// inbound names above.
const (
	EventFriendRequestSent = "friendRequestSent"
	EventUserBlocked       = "userBlocked"
	EventUserUnblocked     = "userUnblocked"
	EventTyping            = "typing"
	EventStopTyping        = "stopTyping"
)

type NewFriendRequestEvent struct {
	Request FriendRequest `json:"request"`
}

type FriendRequestAcceptedEvent struct {
	RequestID  string      `json:"requestId"`
	AcceptedBy UserSummary `json:"acceptedBy"`
}

type FriendRequestRejectedEvent struct {
	RequestID  string      `json:"requestId"`
	RejectedBy UserSummary `json:"rejectedBy"`
}

type FriendRequestCancelledEvent struct {
	RequestID   string      `json:"requestId"`
	CancelledBy UserSummary `json:"cancelledBy"`
}

type FriendRemovedEvent struct {
	RemovedBy UserSummary `json:"removedBy"`
}

type YouWereBlockedEvent struct {
	BlockerID   string `json:"blockerId"`
	BlockerName string `json:"blockerName"`
}

type YouWereUnblockedEvent struct {
	UnblockerID   string `json:"unblockerId"`
	UnblockerName string `json:"unblockerName"`
}

type BlockActionConfirmedEvent struct {
	Action       string `json:"action"`
	TargetUserID string `json:"targetUserId"`
}

type RefreshContactsEvent struct {
	Reason string `json:"reason"`
}

type TypingEvent struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

type ChatHistoryDeletedEvent struct {
	UserID string `json:"userId"`
	PeerID string `json:"peerId"`
}

type AccountDeletedEvent struct {
	UserID string `json:"userId"`
}

type FriendRequestSentPayload struct {
	ReceiverID string        `json:"receiverId"`
	Request    FriendRequest `json:"request"`
}

type FriendRequestAcceptedPayload struct {
	RequestID  string      `json:"requestId"`
	SenderID   string      `json:"senderId"`
	AcceptedBy UserSummary `json:"acceptedBy"`
}

type FriendRequestRejectedPayload struct {
	RequestID  string      `json:"requestId"`
	SenderID   string      `json:"senderId"`
	RejectedBy UserSummary `json:"rejectedBy"`
}

type FriendRequestCancelledPayload struct {
	RequestID   string      `json:"requestId"`
	ReceiverID  string      `json:"receiverId"`
	CancelledBy UserSummary `json:"cancelledBy"`
}

type FriendRemovedPayload struct {
	FriendID  string      `json:"friendId"`
	RemovedBy UserSummary `json:"removedBy"`
}

type UserBlockedPayload struct {
	BlockerID     string `json:"blockerId"`
	BlockedUserID string `json:"blockedUserId"`
	BlockerName   string `json:"blockerName"`
}

type UserUnblockedPayload struct {
	UnblockerID     string `json:"unblockerId"`
	UnblockedUserID string `json:"unblockedUserId"`
	UnblockerName   string `json:"unblockerName"`
}
