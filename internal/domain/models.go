package domain

import "time"

// DeletedUserName replaces the display name of an account that no longer exists.
const DeletedUserName = "Talko User"

type UserSummary struct {
	ID         string `json:"_id"`
	FullName   string `json:"fullname"`
	Username   string `json:"username"`
	ProfilePic string `json:"profilePic,omitempty"`
	About      string `json:"about,omitempty"`
	IsDeleted  bool   `json:"isDeleted,omitempty"`
}

// DisplayName never returns an empty string.
func (u UserSummary) DisplayName() string {
	if u.IsDeleted {
		return DeletedUserName
	}
	if u.FullName != "" {
		return u.FullName
	}
	if u.Username != "" {
		return u.Username
	}
	return "Unknown User"
}

// AsDeleted returns a copy with the display fields of a removed account.
func (u UserSummary) AsDeleted() UserSummary {
	u.FullName = DeletedUserName
	u.ProfilePic = ""
	u.About = ""
	u.IsDeleted = true
	return u
}

type Message struct {
	ID         string       `json:"_id"`
	SenderID   string       `json:"senderId"`
	ReceiverID string       `json:"receiverId"`
	Sender     *UserSummary `json:"sender,omitempty"`
	Text       string       `json:"text,omitempty"`
	Image      string       `json:"image,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// Concerns reports whether the message belongs to the conversation with peerID.
func (m Message) Concerns(peerID string) bool {
	return peerID != "" && (m.SenderID == peerID || m.ReceiverID == peerID)
}

type OutgoingMessage struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

func (m OutgoingMessage) Empty() bool {
	return m.Text == "" && m.Image == ""
}

// PeerView is a peer profile after block visibility rules were applied.
type PeerView struct {
	User          UserSummary
	Online        bool
	LastSeen      *time.Time
	LastSeenLabel string
	Block         BlockStatus
}
