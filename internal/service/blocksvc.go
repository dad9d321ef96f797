package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"talkosync/internal/domain"
)

type BlocksAPI interface {
	BlockUser(ctx context.Context, userID string) error
	UnblockUser(ctx context.Context, userID string) error
	BlockStatus(ctx context.Context, userID string) (domain.BlockStatus, error)
	ListBlockedUsers(ctx context.Context) ([]domain.UserSummary, error)
}

type BlockedByHook func(peerID, peerName string, blocked bool)

// BlockingService tracks blocks in both directions. The blocked list holds the
// blocks I placed, in the order I placed them; incoming blocks are learned from
// announcements and status checks.
type BlockingService struct {
	API     BlocksAPI
	Emitter Emitter
	Me      Identity
	Notices NoticeSink
	Logger  *slog.Logger

	mu        sync.Mutex
	blocked   []domain.UserSummary
	blockedBy map[string]string
	pending   map[string]int
	hooks     []BlockedByHook
	epoch     uint64
	wg        sync.WaitGroup
}

type blockSnapshot struct {
	peerID  string
	present bool
	index   int
	user    domain.UserSummary
}

func (s *BlockingService) logger() *slog.Logger { return loggerOr(s.Logger) }

func (s *BlockingService) OnBlockedBy(h BlockedByHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

func (s *BlockingService) Load(ctx context.Context) error {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	list, err := s.API.ListBlockedUsers(ctx)
	if err != nil {
		return fmt.Errorf("load blocked users: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return nil
	}
	// Peers with an operation in flight keep their optimistic membership.
	next := make([]domain.UserSummary, 0, len(list))
	for _, u := range list {
		if s.pending[u.ID] == 0 {
			next = append(next, u)
		}
	}
	for _, u := range s.blocked {
		if s.pending[u.ID] > 0 {
			next = append(next, u)
		}
	}
	s.blocked = next
	return nil
}

func (s *BlockingService) Blocked() []domain.UserSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.UserSummary(nil), s.blocked...)
}

func (s *BlockingService) Status(peerID string) domain.BlockStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(peerID)
}

func (s *BlockingService) statusLocked(peerID string) domain.BlockStatus {
	_, by := s.blockedBy[peerID]
	return domain.BlockStatus{
		IsBlocked:   indexUser(s.blocked, peerID) >= 0,
		IsBlockedBy: by,
	}
}

// CanSendTo gates outgoing messages. Being blocked by the peer wins because
// unblocking on my side would not help.
func (s *BlockingService) CanSendTo(peerID string) error {
	st := s.Status(peerID)
	switch {
	case st.IsBlockedBy:
		return domain.ErrBlockedBy
	case st.IsBlocked:
		return domain.ErrBlocked
	default:
		return nil
	}
}

func (s *BlockingService) Block(ctx context.Context, peer domain.UserSummary) error {
	if err := s.validatePeer(peer.ID); err != nil {
		return err
	}

	s.begin(peer.ID)
	defer s.end(peer.ID)

	err := Optimistic[blockSnapshot]{
		Snapshot: func() blockSnapshot { return s.snapshot(peer.ID) },
		Apply: func() {
			s.mu.Lock()
			if indexUser(s.blocked, peer.ID) < 0 {
				s.blocked = append(s.blocked, peer)
			}
			s.mu.Unlock()
		},
		Restore: s.restore,
	}.Run(ctx, func(ctx context.Context) error { return s.API.BlockUser(ctx, peer.ID) })
	if err != nil {
		s.logger().Warn("blocks: block failed", "peer_id", peer.ID, "err", err)
		notify(s.Notices, domain.NoticeError, peer.ID, userMessage(err, "Failed to block user"))
		return err
	}

	self := me(s.Me)
	emitBestEffort(s.logger(), s.Emitter, domain.EventUserBlocked, domain.UserBlockedPayload{
		BlockerID:     self.ID,
		BlockedUserID: peer.ID,
		BlockerName:   self.DisplayName(),
	})
	notify(s.Notices, domain.NoticeSuccess, peer.ID, peer.DisplayName()+" has been blocked")
	return nil
}

func (s *BlockingService) Unblock(ctx context.Context, peer domain.UserSummary) error {
	if err := s.validatePeer(peer.ID); err != nil {
		return err
	}

	s.begin(peer.ID)
	defer s.end(peer.ID)

	err := Optimistic[blockSnapshot]{
		Snapshot: func() blockSnapshot { return s.snapshot(peer.ID) },
		Apply: func() {
			s.mu.Lock()
			s.blocked = removeUser(s.blocked, peer.ID)
			s.mu.Unlock()
		},
		Restore: s.restore,
	}.Run(ctx, func(ctx context.Context) error { return s.API.UnblockUser(ctx, peer.ID) })
	if err != nil {
		s.logger().Warn("blocks: unblock failed", "peer_id", peer.ID, "err", err)
		notify(s.Notices, domain.NoticeError, peer.ID, userMessage(err, "Failed to unblock user"))
		return err
	}

	self := me(s.Me)
	emitBestEffort(s.logger(), s.Emitter, domain.EventUserUnblocked, domain.UserUnblockedPayload{
		UnblockerID:     self.ID,
		UnblockedUserID: peer.ID,
		UnblockerName:   self.DisplayName(),
	})
	notify(s.Notices, domain.NoticeSuccess, peer.ID, peer.DisplayName()+" has been unblocked")
	return nil
}

// CheckBlockStatus asks the server. On failure the cached status is returned
// along with the error.
func (s *BlockingService) CheckBlockStatus(ctx context.Context, peerID string) (domain.BlockStatus, error) {
	st, err := s.API.BlockStatus(ctx, peerID)
	if err != nil {
		s.logger().Warn("blocks: status check failed", "peer_id", peerID, "err", err)
		return s.Status(peerID), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st.IsBlockedBy {
		if _, ok := s.blockedBy[peerID]; !ok {
			s.setBlockedByLocked(peerID, "")
		}
	} else {
		delete(s.blockedBy, peerID)
	}
	if s.pending[peerID] == 0 {
		has := indexUser(s.blocked, peerID) >= 0
		switch {
		case st.IsBlocked && !has:
			s.blocked = append(s.blocked, domain.UserSummary{ID: peerID})
		case !st.IsBlocked && has:
			s.blocked = removeUser(s.blocked, peerID)
		}
	}
	return s.statusLocked(peerID), nil
}

func (s *BlockingService) HandleYouWereBlocked(ev domain.YouWereBlockedEvent) {
	if ev.BlockerID == "" {
		return
	}
	s.mu.Lock()
	s.setBlockedByLocked(ev.BlockerID, ev.BlockerName)
	hooks := append([]BlockedByHook(nil), s.hooks...)
	s.mu.Unlock()

	name := ev.BlockerName
	if name == "" {
		name = "Someone"
	}
	notify(s.Notices, domain.NoticeInfo, ev.BlockerID, name+" has blocked you")
	for _, h := range hooks {
		h(ev.BlockerID, ev.BlockerName, true)
	}
}

func (s *BlockingService) HandleYouWereUnblocked(ev domain.YouWereUnblockedEvent) {
	if ev.UnblockerID == "" {
		return
	}
	s.mu.Lock()
	delete(s.blockedBy, ev.UnblockerID)
	hooks := append([]BlockedByHook(nil), s.hooks...)
	s.mu.Unlock()

	name := ev.UnblockerName
	if name == "" {
		name = "Someone"
	}
	notify(s.Notices, domain.NoticeInfo, ev.UnblockerID, name+" has unblocked you")
	for _, h := range hooks {
		h(ev.UnblockerID, ev.UnblockerName, false)
	}
}

func (s *BlockingService) HandleBlockActionConfirmed(ctx context.Context, ev domain.BlockActionConfirmedEvent) {
	s.logger().Debug("blocks: action confirmed", "action", ev.Action, "peer_id", ev.TargetUserID)
	s.reloadAsync(ctx)
}

func (s *BlockingService) HandleRefreshContacts(ctx context.Context, ev domain.RefreshContactsEvent) {
	s.logger().Debug("blocks: refresh contacts", "reason", ev.Reason)
	s.reloadAsync(ctx)
}

func (s *BlockingService) HandleAccountDeleted(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[userID] == 0 {
		s.blocked = removeUser(s.blocked, userID)
	}
	delete(s.blockedBy, userID)
}

func (s *BlockingService) PeerView(user domain.UserSummary, online bool, lastSeen *time.Time) domain.PeerView {
	st := s.Status(user.ID)
	v := domain.PeerView{User: user, Online: online, LastSeen: lastSeen, Block: st}
	if lastSeen != nil {
		v.LastSeenLabel = "Last seen " + lastSeen.Local().Format("Jan 2, 15:04")
	}
	switch {
	case st.IsBlockedBy:
		v.User.About = ""
		v.Online = false
		v.LastSeen = nil
		v.LastSeenLabel = "Last seen"
	case st.IsBlocked:
		v.User.About = ""
		v.Online = false
		v.LastSeen = nil
		v.LastSeenLabel = ""
	}
	return v
}

func (s *BlockingService) Wait() { s.wg.Wait() }

func (s *BlockingService) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked = nil
	s.blockedBy = nil
	s.epoch++
}

func (s *BlockingService) reloadAsync(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Load(ctx); err != nil {
			s.logger().Warn("blocks: reload failed", "err", err)
		}
	}()
}

func (s *BlockingService) validatePeer(peerID string) error {
	if strings.TrimSpace(peerID) == "" {
		return domain.NewValidationError(map[string]string{"peer_id": "required"})
	}
	if peerID == me(s.Me).ID {
		return domain.NewValidationError(map[string]string{"peer_id": "cannot block yourself"})
	}
	return nil
}

func (s *BlockingService) begin(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.pending = make(map[string]int)
	}
	s.pending[peerID]++
}

func (s *BlockingService) end(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[peerID]--
	if s.pending[peerID] <= 0 {
		delete(s.pending, peerID)
	}
}

func (s *BlockingService) snapshot(peerID string) blockSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexUser(s.blocked, peerID)
	if i < 0 {
		return blockSnapshot{peerID: peerID}
	}
	return blockSnapshot{peerID: peerID, present: true, index: i, user: s.blocked[i]}
}

func (s *BlockingService) restore(snap blockSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !snap.present {
		s.blocked = removeUser(s.blocked, snap.peerID)
		return
	}
	if indexUser(s.blocked, snap.peerID) >= 0 {
		return
	}
	i := snap.index
	if i > len(s.blocked) {
		i = len(s.blocked)
	}
	s.blocked = append(s.blocked, domain.UserSummary{})
	copy(s.blocked[i+1:], s.blocked[i:])
	s.blocked[i] = snap.user
}

func (s *BlockingService) setBlockedByLocked(peerID, name string) {
	if s.blockedBy == nil {
		s.blockedBy = make(map[string]string)
	}
	s.blockedBy[peerID] = name
}
