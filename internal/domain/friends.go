package domain

import "time"

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestRejected  RequestStatus = "rejected"
	RequestCancelled RequestStatus = "cancelled"
)

func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestAccepted, RequestRejected, RequestCancelled:
		return true
	default:
		return false
	}
}

type FriendRequest struct {
	ID        string        `json:"_id"`
	Sender    UserSummary   `json:"senderId"`
	Receiver  UserSummary   `json:"receiverId"`
	Message   string        `json:"message,omitempty"`
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

type FriendsOverview struct {
	Friends  []UserSummary   `json:"friends"`
	Incoming []FriendRequest `json:"incoming_requests"`
	Outgoing []FriendRequest `json:"outgoing_requests"`
}

// RelationshipStatus is what the search endpoint reports for each hit.
type RelationshipStatus string

const (
	RelationshipNone     RelationshipStatus = "none"
	RelationshipFriends  RelationshipStatus = "friends"
	RelationshipSent     RelationshipStatus = "request_sent"
	RelationshipReceived RelationshipStatus = "request_received"
)

type SearchResult struct {
	UserSummary
	Relationship RelationshipStatus `json:"relationshipStatus"`
	RequestID    string             `json:"requestId,omitempty"`
}
