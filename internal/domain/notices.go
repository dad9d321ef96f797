package domain

type NoticeKind string

const (
	NoticeInfo    NoticeKind = "info"
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice is a user-facing, transient message. Stores post notices; the host
// decides how to show them.
type Notice struct {
	Kind    NoticeKind
	PeerID  string
	Message string
}
