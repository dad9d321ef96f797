package client

import "talkosync/internal/domain"

// Contacts lists my friends with their presence, after the block display
// rules were applied.
func (e *Engine) Contacts() []domain.PeerView {
	if e.friends == nil {
		return nil
	}
	friends := e.friends.Overview().Friends
	out := make([]domain.PeerView, 0, len(friends))
	for _, u := range friends {
		online := e.presence != nil && e.presence.IsOnline(u.ID)
		if e.blocks == nil {
			out = append(out, domain.PeerView{User: u, Online: online})
			continue
		}
		out = append(out, e.blocks.PeerView(u, online, nil))
	}
	return out
}

func (e *Engine) OnlineContacts() int {
	n := 0
	for _, v := range e.Contacts() {
		if v.Online {
			n++
		}
	}
	return n
}
