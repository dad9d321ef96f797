package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"talkosync/internal/domain"
)

const defaultTypingIdle = 2 * time.Second

type MessagesAPI interface {
	ListChatUsers(ctx context.Context) ([]domain.UserSummary, error)
	ListMessages(ctx context.Context, peerID string) ([]domain.Message, error)
	CountMessages(ctx context.Context, peerID string) (int, error)
	SendMessage(ctx context.Context, peerID string, msg domain.OutgoingMessage) (domain.Message, error)
	DeleteChatHistory(ctx context.Context, peerID string) error
	LastSeen(ctx context.Context, peerID string) (*time.Time, error)
}

type BlockGate interface {
	Status(peerID string) domain.BlockStatus
	CheckBlockStatus(ctx context.Context, peerID string) (domain.BlockStatus, error)
	Unblock(ctx context.Context, peer domain.UserSummary) error
}

type Timer interface {
	Stop() bool
}

type ConversationState interface {
	conversationState()
}

type Closed struct{}

type Loading struct {
	Peer domain.UserSummary
}

type Ready struct {
	Peer       domain.UserSummary
	Messages   []domain.Message
	Count      int
	CountKnown bool
	PeerTyping bool
}

type Failed struct {
	Peer domain.UserSummary
	Err  error
}

func (Closed) conversationState()  {}
func (Loading) conversationState() {}
func (Ready) conversationState()   {}
func (Failed) conversationState()  {}

// ConversationService owns the open conversation, typing indicators in both
// directions and cached per-peer message counts.
type ConversationService struct {
	API        MessagesAPI
	Blocks     BlockGate
	Emitter    Emitter
	Me         Identity
	Notices    NoticeSink
	Logger     *slog.Logger
	TypingIdle time.Duration
	AfterFunc  func(d time.Duration, f func()) Timer

	mu     sync.Mutex
	state  ConversationState
	epoch  uint64
	counts map[string]int
	typing map[string]struct{}

	selfTyping  bool
	typingPeer  string
	typingSeq   uint64
	typingTimer Timer

	users      []domain.UserSummary
	usersEpoch uint64
	wg         sync.WaitGroup
}

func (s *ConversationService) logger() *slog.Logger { return loggerOr(s.Logger) }

// State snapshots the conversation. PeerTyping is false while a block exists
// in either direction, even if a typing event arrived before the block.
func (s *ConversationService) State() ConversationState {
	s.mu.Lock()
	st := s.state
	var out Ready
	if r, ok := st.(Ready); ok {
		out = r
		out.Messages = append([]domain.Message(nil), r.Messages...)
		out.Count, out.CountKnown = s.counts[r.Peer.ID]
		_, out.PeerTyping = s.typing[r.Peer.ID]
	}
	s.mu.Unlock()

	switch st := st.(type) {
	case Loading:
		return st
	case Failed:
		return st
	case Ready:
		if out.PeerTyping && s.Blocks != nil && s.Blocks.Status(out.Peer.ID).Any() {
			out.PeerTyping = false
		}
		return out
	default:
		return Closed{}
	}
}

func (s *ConversationService) ChatUsers() []domain.UserSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.UserSummary(nil), s.users...)
}

func (s *ConversationService) LoadChatUsers(ctx context.Context) error {
	s.mu.Lock()
	epoch := s.usersEpoch
	s.mu.Unlock()

	users, err := s.API.ListChatUsers(ctx)
	if err != nil {
		return fmt.Errorf("load chat users: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usersEpoch == epoch {
		s.users = users
	}
	return nil
}

func (s *ConversationService) RefreshChatUsers(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.LoadChatUsers(ctx); err != nil {
			s.logger().Warn("conversation: chat users refresh failed", "err", err)
			notify(s.Notices, domain.NoticeError, "", "Failed to load friends")
		}
	}()
}

func (s *ConversationService) Wait() { s.wg.Wait() }

func (s *ConversationService) OpenPeerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, _ := s.selectedPeerLocked()
	return p.ID
}

func (s *ConversationService) MessageCount(peerID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.counts[peerID]
	return n, ok
}

// SelectPeer opens the conversation with peer. History and the message count
// load independently; a failed count never blocks the history.
func (s *ConversationService) SelectPeer(ctx context.Context, peer domain.UserSummary) error {
	if strings.TrimSpace(peer.ID) == "" {
		return domain.NewValidationError(map[string]string{"peer_id": "required"})
	}

	s.mu.Lock()
	stop := s.stopTypingLocked()
	s.epoch++
	epoch := s.epoch
	s.state = Loading{Peer: peer}
	s.typing = nil
	s.mu.Unlock()
	stop()

	var (
		history  []domain.Message
		count    int
		countErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := s.API.ListMessages(gctx, peer.ID)
		history = h
		return err
	})
	g.Go(func() error {
		count, countErr = s.API.CountMessages(gctx, peer.ID)
		return nil
	})
	if s.Blocks != nil {
		g.Go(func() error {
			_, _ = s.Blocks.CheckBlockStatus(gctx, peer.ID)
			return nil
		})
	}
	err := g.Wait()

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.state = Failed{Peer: peer, Err: err}
		s.mu.Unlock()
		s.logger().Warn("conversation: load failed", "peer_id", peer.ID, "err", err)
		notify(s.Notices, domain.NoticeError, peer.ID, sendFailureMessage(err, "Failed to load messages"))
		return fmt.Errorf("load conversation: %w", err)
	}
	if countErr == nil {
		s.setCountLocked(peer.ID, count)
	} else {
		s.logger().Warn("conversation: count failed", "peer_id", peer.ID, "err", countErr)
	}
	s.state = Ready{Peer: peer, Messages: history}
	s.mu.Unlock()
	return nil
}

func (s *ConversationService) ClosePeer() {
	s.mu.Lock()
	stop := s.stopTypingLocked()
	s.epoch++
	s.state = Closed{}
	s.typing = nil
	s.mu.Unlock()
	stop()
}

// SendMessage refuses a peer I blocked without a network call; UnblockAndSend
// is the confirmed path.
func (s *ConversationService) SendMessage(ctx context.Context, msg domain.OutgoingMessage) (domain.Message, error) {
	peer, err := s.sendTarget(&msg)
	if err != nil {
		return domain.Message{}, err
	}
	if s.Blocks != nil {
		st := s.Blocks.Status(peer.ID)
		switch {
		case st.IsBlockedBy:
			notify(s.Notices, domain.NoticeError, peer.ID, "You cannot message this user")
			return domain.Message{}, domain.ErrBlockedBy
		case st.IsBlocked:
			return domain.Message{}, domain.ErrBlocked
		}
	}
	return s.send(ctx, peer, msg)
}

func (s *ConversationService) UnblockAndSend(ctx context.Context, msg domain.OutgoingMessage) (domain.Message, error) {
	peer, err := s.sendTarget(&msg)
	if err != nil {
		return domain.Message{}, err
	}
	if s.Blocks != nil {
		if err := s.Blocks.Unblock(ctx, peer); err != nil {
			return domain.Message{}, err
		}
		if s.Blocks.Status(peer.ID).IsBlockedBy {
			notify(s.Notices, domain.NoticeError, peer.ID, "You cannot message this user")
			return domain.Message{}, domain.ErrBlockedBy
		}
	}
	return s.send(ctx, peer, msg)
}

func (s *ConversationService) sendTarget(msg *domain.OutgoingMessage) (domain.UserSummary, error) {
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Empty() {
		return domain.UserSummary{}, domain.NewValidationError(map[string]string{"message": "text or image required"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.(Ready)
	if !ok {
		return domain.UserSummary{}, domain.ErrNoConversation
	}
	return r.Peer, nil
}

func (s *ConversationService) send(ctx context.Context, peer domain.UserSummary, msg domain.OutgoingMessage) (domain.Message, error) {
	sent, err := s.API.SendMessage(ctx, peer.ID, msg)
	if err != nil {
		if domain.IsRelationshipError(err) {
			s.logger().Info("conversation: send refused", "peer_id", peer.ID, "err", err)
		} else {
			s.logger().Warn("conversation: send failed", "peer_id", peer.ID, "err", err)
		}
		notify(s.Notices, domain.NoticeError, peer.ID, sendFailureMessage(err, "Failed to send message"))
		return domain.Message{}, err
	}

	s.mu.Lock()
	added := true
	if r, ok := s.state.(Ready); ok && r.Peer.ID == peer.ID {
		r.Messages, added = appendMessage(r.Messages, sent)
		s.state = r
	}
	if added {
		s.bumpCountLocked(peer.ID)
	}
	stop := s.stopTypingLocked()
	s.mu.Unlock()
	stop()
	return sent, nil
}

// InputChanged drives my typing indicator: one typing event when the draft
// becomes non-empty, one stop event after TypingIdle without changes.
func (s *ConversationService) InputChanged(text string) {
	if strings.TrimSpace(text) == "" {
		s.InputCleared()
		return
	}

	s.mu.Lock()
	peer, ok := s.selectedPeerLocked()
	s.mu.Unlock()
	if !ok {
		return
	}
	if s.Blocks != nil && s.Blocks.Status(peer.ID).Any() {
		return
	}

	s.mu.Lock()
	if cur, ok := s.selectedPeerLocked(); !ok || cur.ID != peer.ID {
		s.mu.Unlock()
		return
	}
	start := !s.selfTyping
	if start {
		s.selfTyping = true
		s.typingPeer = peer.ID
	}
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingSeq++
	seq := s.typingSeq
	s.typingTimer = s.afterFunc(s.typingIdle(), func() { s.typingExpired(seq) })
	s.mu.Unlock()

	if start {
		emitBestEffort(s.logger(), s.Emitter, domain.EventTyping, domain.TypingEvent{
			SenderID:   me(s.Me).ID,
			ReceiverID: peer.ID,
		})
	}
}

func (s *ConversationService) InputCleared() {
	s.mu.Lock()
	stop := s.stopTypingLocked()
	s.mu.Unlock()
	stop()
}

func (s *ConversationService) typingExpired(seq uint64) {
	s.mu.Lock()
	if seq != s.typingSeq || !s.selfTyping {
		s.mu.Unlock()
		return
	}
	s.selfTyping = false
	s.typingTimer = nil
	peerID := s.typingPeer
	s.mu.Unlock()

	emitBestEffort(s.logger(), s.Emitter, domain.EventStopTyping, domain.TypingEvent{
		SenderID:   me(s.Me).ID,
		ReceiverID: peerID,
	})
}

// stopTypingLocked ends my typing state and returns the emit to run once the
// lock is released.
func (s *ConversationService) stopTypingLocked() func() {
	if !s.selfTyping {
		return func() {}
	}
	s.selfTyping = false
	s.typingSeq++
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	peerID := s.typingPeer
	return func() {
		emitBestEffort(s.logger(), s.Emitter, domain.EventStopTyping, domain.TypingEvent{
			SenderID:   me(s.Me).ID,
			ReceiverID: peerID,
		})
	}
}

func (s *ConversationService) HandleNewMessage(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.state.(Ready)
	if !ok || !msg.Concerns(r.Peer.ID) {
		return
	}
	var added bool
	r.Messages, added = appendMessage(r.Messages, msg)
	if added {
		s.state = r
		s.bumpCountLocked(r.Peer.ID)
	}
}

func (s *ConversationService) HandleTyping(ev domain.TypingEvent) {
	if ev.SenderID == "" || ev.SenderID == me(s.Me).ID {
		return
	}
	if s.Blocks != nil && s.Blocks.Status(ev.SenderID).Any() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	peer, ok := s.selectedPeerLocked()
	if !ok || peer.ID != ev.SenderID {
		return
	}
	if s.typing == nil {
		s.typing = make(map[string]struct{})
	}
	s.typing[ev.SenderID] = struct{}{}
}

func (s *ConversationService) HandleStoppedTyping(ev domain.TypingEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.typing, ev.SenderID)
}

func (s *ConversationService) DeleteChatHistory(ctx context.Context, peerID string) error {
	if strings.TrimSpace(peerID) == "" {
		return domain.NewValidationError(map[string]string{"peer_id": "required"})
	}
	if err := s.API.DeleteChatHistory(ctx, peerID); err != nil {
		s.logger().Warn("conversation: delete history failed", "peer_id", peerID, "err", err)
		notify(s.Notices, domain.NoticeError, peerID, userMessage(err, "Failed to delete chat history"))
		return err
	}

	s.clearHistory(peerID)
	emitBestEffort(s.logger(), s.Emitter, domain.EventChatHistoryDeleted, domain.ChatHistoryDeletedEvent{
		UserID: me(s.Me).ID,
		PeerID: peerID,
	})
	notify(s.Notices, domain.NoticeSuccess, peerID, "Chat history deleted")
	return nil
}

func (s *ConversationService) HandleChatHistoryDeleted(ev domain.ChatHistoryDeletedEvent) {
	if ev.UserID == "" {
		return
	}
	s.clearHistory(ev.UserID)
}

func (s *ConversationService) clearHistory(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCountLocked(peerID, 0)
	if r, ok := s.state.(Ready); ok && r.Peer.ID == peerID {
		r.Messages = nil
		s.state = r
	}
}

// HandleAccountDeleted swaps the peer's display fields for the deleted-user
// placeholder in the open conversation and its history.
func (s *ConversationService) HandleAccountDeleted(userID string) {
	if userID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.typing, userID)
	s.users = removeUser(s.users, userID)
	switch st := s.state.(type) {
	case Loading:
		if st.Peer.ID == userID {
			st.Peer = st.Peer.AsDeleted()
			s.state = st
		}
	case Failed:
		if st.Peer.ID == userID {
			st.Peer = st.Peer.AsDeleted()
			s.state = st
		}
	case Ready:
		if st.Peer.ID == userID {
			st.Peer = st.Peer.AsDeleted()
		}
		msgs := make([]domain.Message, len(st.Messages))
		for i, m := range st.Messages {
			if m.SenderID == userID && m.Sender != nil {
				deleted := m.Sender.AsDeleted()
				m.Sender = &deleted
			}
			msgs[i] = m
		}
		st.Messages = msgs
		s.state = st
	}
}

func (s *ConversationService) HandleYouWereBlocked(ev domain.YouWereBlockedEvent) {
	s.mu.Lock()
	peer, ok := s.selectedPeerLocked()
	if !ok || peer.ID != ev.BlockerID {
		s.mu.Unlock()
		return
	}
	if s.selfTyping && s.typingPeer == ev.BlockerID {
		s.selfTyping = false
		s.typingSeq++
		if s.typingTimer != nil {
			s.typingTimer.Stop()
			s.typingTimer = nil
		}
	}
	s.epoch++
	s.state = Closed{}
	s.typing = nil
	s.mu.Unlock()

	name := ev.BlockerName
	if name == "" {
		name = peer.DisplayName()
	}
	notify(s.Notices, domain.NoticeInfo, ev.BlockerID, "Conversation closed: "+name+" has blocked you")
}

func (s *ConversationService) LastSeen(ctx context.Context, peerID string) (*time.Time, error) {
	if s.Blocks != nil && s.Blocks.Status(peerID).Any() {
		return nil, nil
	}
	ts, err := s.API.LastSeen(ctx, peerID)
	if err != nil {
		return nil, err
	}
	if s.Blocks != nil && s.Blocks.Status(peerID).Any() {
		return nil, nil
	}
	return ts, nil
}

func (s *ConversationService) Clear() {
	s.mu.Lock()
	stop := s.stopTypingLocked()
	s.epoch++
	s.state = Closed{}
	s.typing = nil
	s.counts = nil
	s.users = nil
	s.usersEpoch++
	s.mu.Unlock()
	stop()
}

func (s *ConversationService) selectedPeerLocked() (domain.UserSummary, bool) {
	switch st := s.state.(type) {
	case Loading:
		return st.Peer, true
	case Ready:
		return st.Peer, true
	case Failed:
		return st.Peer, true
	default:
		return domain.UserSummary{}, false
	}
}

func (s *ConversationService) setCountLocked(peerID string, n int) {
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[peerID] = n
}

func (s *ConversationService) bumpCountLocked(peerID string) {
	if n, ok := s.counts[peerID]; ok {
		s.counts[peerID] = n + 1
	}
}

func (s *ConversationService) typingIdle() time.Duration {
	if s.TypingIdle > 0 {
		return s.TypingIdle
	}
	return defaultTypingIdle
}

func (s *ConversationService) afterFunc(d time.Duration, f func()) Timer {
	if s.AfterFunc != nil {
		return s.AfterFunc(d, f)
	}
	return time.AfterFunc(d, f)
}

func appendMessage(list []domain.Message, m domain.Message) ([]domain.Message, bool) {
	if m.ID != "" {
		for _, existing := range list {
			if existing.ID == m.ID {
				return list, false
			}
		}
	}
	out := make([]domain.Message, len(list), len(list)+1)
	copy(out, list)
	return append(out, m), true
}

func sendFailureMessage(err error, fallback string) string {
	switch {
	case errors.Is(err, domain.ErrNotFriends):
		return "You can only message friends"
	case errors.Is(err, domain.ErrBlockedBy):
		return "You cannot message this user"
	case errors.Is(err, domain.ErrBlocked):
		return "Unblock this user to send messages"
	default:
		return userMessage(err, fallback)
	}
}
