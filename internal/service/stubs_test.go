package service

import (
	"sync"

	"talkosync/internal/domain"
)

type emitted struct {
	event   string
	payload any
}

type stubEmitter struct {
	mu     sync.Mutex
	events []emitted
	err    error
}

func (e *stubEmitter) Emit(event string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, emitted{event: event, payload: payload})
	return nil
}

func (e *stubEmitter) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.event)
	}
	return out
}

func (e *stubEmitter) last() emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.events) == 0 {
		return emitted{}
	}
	return e.events[len(e.events)-1]
}

type stubIdentity struct {
	user domain.UserSummary
}

func (s stubIdentity) CurrentUser() (domain.UserSummary, bool) {
	return s.user, s.user.ID != ""
}

type noticeRecorder struct {
	mu      sync.Mutex
	notices []domain.Notice
}

func (r *noticeRecorder) Notice(n domain.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *noticeRecorder) count(kind domain.NoticeKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, notice := range r.notices {
		if notice.Kind == kind {
			n++
		}
	}
	return n
}

var (
	alice = domain.UserSummary{ID: "u-alice", FullName: "Alice Doe", Username: "alice"}
	bob   = domain.UserSummary{ID: "u-bob", FullName: "Bob Roe", Username: "bob", About: "hi there"}
	carol = domain.UserSummary{ID: "u-carol", FullName: "Carol Poe", Username: "carol"}
)
