package domain

import "time"

// Cue is the feedback chosen for an incoming message.
type Cue string

const (
	CueSilent  Cue = "silent"
	CueConfirm Cue = "confirm"
	CueAmbient Cue = "ambient"
)

type PushToken struct {
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Preferences are the per-user sound toggles.
type Preferences struct {
	InChatSound       bool      `json:"inChatSoundEnabled"`
	NotificationSound bool      `json:"notificationSoundEnabled"`
	UpdatedAt         time.Time `json:"updated_at,omitempty"`
}

func DefaultPreferences() Preferences {
	return Preferences{InChatSound: true, NotificationSound: true}
}

// InboxNotification is an entry of the server-side notification inbox.
// Entries pushed over the realtime connection carry a local id until the
// inbox is reloaded.
type InboxNotification struct {
	ID        string         `json:"_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"createdAt"`
	Local     bool           `json:"-"`
}

type NotificationEvent struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}
