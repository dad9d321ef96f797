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
	"golang.org/x/sync/singleflight"

	"talkosync/internal/domain"
)

type FriendsAPI interface {
	SendFriendRequest(ctx context.Context, receiverID, message string) (domain.FriendRequest, error)
	AcceptFriendRequest(ctx context.Context, requestID string) error
	RejectFriendRequest(ctx context.Context, requestID string) error
	CancelFriendRequest(ctx context.Context, requestID string) error
	RemoveFriend(ctx context.Context, friendID string) error
	ListFriends(ctx context.Context) ([]domain.UserSummary, error)
	ListIncomingRequests(ctx context.Context) ([]domain.FriendRequest, error)
	ListOutgoingRequests(ctx context.Context) ([]domain.FriendRequest, error)
	SearchUsers(ctx context.Context, query string) ([]domain.SearchResult, error)
}

type collection string

const (
	collFriends  collection = "friends"
	collIncoming collection = "incoming"
	collOutgoing collection = "outgoing"
)

const minSearchQueryLen = 2

// FriendsService mirrors the server's social graph: friends plus pending
// requests in both directions. Peer announcements never edit the collections
// directly; they trigger a refetch that replaces the affected collection.
type FriendsService struct {
	API     FriendsAPI
	Emitter Emitter
	Me      Identity
	Notices NoticeSink
	Logger  *slog.Logger

	mu       sync.Mutex
	friends  []domain.UserSummary
	incoming []domain.FriendRequest
	outgoing []domain.FriendRequest
	// wanted counts refetch demands per collection; applied is the demand
	// level covered by the last applied fetch.
	wanted  map[collection]uint64
	applied map[collection]uint64
	epoch uint64

	group    singleflight.Group
	wg       sync.WaitGroup
	accepted []func(ctx context.Context, friendID string)
}

func (s *FriendsService) logger() *slog.Logger { return loggerOr(s.Logger) }

func (s *FriendsService) OnAccepted(h func(ctx context.Context, friendID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted = append(s.accepted, h)
}

func (s *FriendsService) runAccepted(ctx context.Context, friendID string) {
	s.mu.Lock()
	hooks := append(([]func(context.Context, string))(nil), s.accepted...)
	s.mu.Unlock()
	for _, h := range hooks {
		h(ctx, friendID)
	}
}

func (s *FriendsService) Load(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range []collection{collFriends, collIncoming, collOutgoing} {
		c := c
		g.Go(func() error { return s.refetch(gctx, c) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load social graph: %w", err)
	}
	return nil
}

func (s *FriendsService) Overview() domain.FriendsOverview {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.FriendsOverview{
		Friends:  append([]domain.UserSummary(nil), s.friends...),
		Incoming: append([]domain.FriendRequest(nil), s.incoming...),
		Outgoing: append([]domain.FriendRequest(nil), s.outgoing...),
	}
}

func (s *FriendsService) IsFriend(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return indexUser(s.friends, userID) >= 0
}

func (s *FriendsService) Wait() { s.wg.Wait() }

func (s *FriendsService) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friends, s.incoming, s.outgoing = nil, nil, nil
	s.epoch++
}

func (s *FriendsService) SendRequest(ctx context.Context, receiverID, message string) (domain.FriendRequest, error) {
	receiverID = strings.TrimSpace(receiverID)
	if receiverID == "" {
		return domain.FriendRequest{}, domain.NewValidationError(map[string]string{"receiver_id": "required"})
	}
	self := me(s.Me)
	if receiverID == self.ID {
		return domain.FriendRequest{}, domain.NewValidationError(map[string]string{"receiver_id": "cannot friend yourself"})
	}

	req, err := s.API.SendFriendRequest(ctx, receiverID, strings.TrimSpace(message))
	if err != nil {
		s.fail("send friend request", receiverID, "Failed to send request", err)
		return domain.FriendRequest{}, err
	}
	if req.Receiver.ID == "" {
		req.Receiver.ID = receiverID
	}
	if req.Sender.ID == "" {
		req.Sender = self
	}

	s.mu.Lock()
	if indexRequest(s.outgoing, req.ID) < 0 {
		s.outgoing = append(s.outgoing, req)
	}
	s.sanitizeLocked()
	s.mu.Unlock()

	emitBestEffort(s.logger(), s.Emitter, domain.EventFriendRequestSent, domain.FriendRequestSentPayload{
		ReceiverID: receiverID,
		Request:    req,
	})
	notify(s.Notices, domain.NoticeSuccess, receiverID, "Friend request sent!")
	return req, nil
}

// AcceptRequest moves the sender into friends in one step once the server
// confirms, then converges with a refetch.
func (s *FriendsService) AcceptRequest(ctx context.Context, requestID string) error {
	req, err := s.pendingRequest(ctx, collIncoming, requestID)
	if err != nil {
		return err
	}

	if err := s.API.AcceptFriendRequest(ctx, requestID); err != nil {
		return s.lifecycleFailed(ctx, "accept", req.Sender.ID, err, collIncoming, collFriends)
	}

	s.mu.Lock()
	s.incoming = removeRequest(s.incoming, requestID)
	if indexUser(s.friends, req.Sender.ID) < 0 {
		s.friends = append(s.friends, req.Sender)
	}
	s.sanitizeLocked()
	s.mu.Unlock()

	emitBestEffort(s.logger(), s.Emitter, domain.EventFriendRequestAccepted, domain.FriendRequestAcceptedPayload{
		RequestID:  requestID,
		SenderID:   req.Sender.ID,
		AcceptedBy: me(s.Me),
	})
	notify(s.Notices, domain.NoticeSuccess, req.Sender.ID, "Friend request accepted!")
	s.refetchAsync(ctx, collFriends, collIncoming)
	s.runAccepted(ctx, req.Sender.ID)
	return nil
}

func (s *FriendsService) RejectRequest(ctx context.Context, requestID string) error {
	req, err := s.pendingRequest(ctx, collIncoming, requestID)
	if err != nil {
		return err
	}

	if err := s.API.RejectFriendRequest(ctx, requestID); err != nil {
		return s.lifecycleFailed(ctx, "reject", req.Sender.ID, err, collIncoming)
	}

	s.mu.Lock()
	s.incoming = removeRequest(s.incoming, requestID)
	s.mu.Unlock()

	emitBestEffort(s.logger(), s.Emitter, domain.EventFriendRequestRejected, domain.FriendRequestRejectedPayload{
		RequestID:  requestID,
		SenderID:   req.Sender.ID,
		RejectedBy: me(s.Me),
	})
	notify(s.Notices, domain.NoticeSuccess, req.Sender.ID, "Friend request rejected")
	return nil
}

func (s *FriendsService) CancelRequest(ctx context.Context, requestID string) error {
	req, err := s.pendingRequest(ctx, collOutgoing, requestID)
	if err != nil {
		return err
	}

	if err := s.API.CancelFriendRequest(ctx, requestID); err != nil {
		return s.lifecycleFailed(ctx, "cancel", req.Receiver.ID, err, collOutgoing)
	}

	s.mu.Lock()
	s.outgoing = removeRequest(s.outgoing, requestID)
	s.mu.Unlock()

	emitBestEffort(s.logger(), s.Emitter, domain.EventFriendRequestCanceled, domain.FriendRequestCancelledPayload{
		RequestID:   requestID,
		ReceiverID:  req.Receiver.ID,
		CancelledBy: me(s.Me),
	})
	notify(s.Notices, domain.NoticeSuccess, req.Receiver.ID, "Friend request cancelled")
	return nil
}

// RemoveFriend ends the friendship. Blocks are independent and stay as they are.
func (s *FriendsService) RemoveFriend(ctx context.Context, friendID string) error {
	if strings.TrimSpace(friendID) == "" {
		return domain.NewValidationError(map[string]string{"friend_id": "required"})
	}

	if err := s.API.RemoveFriend(ctx, friendID); err != nil {
		return s.lifecycleFailed(ctx, "remove friend", friendID, err, collFriends)
	}

	s.mu.Lock()
	s.friends = removeUser(s.friends, friendID)
	s.mu.Unlock()

	emitBestEffort(s.logger(), s.Emitter, domain.EventFriendRemoved, domain.FriendRemovedPayload{
		FriendID:  friendID,
		RemovedBy: me(s.Me),
	})
	notify(s.Notices, domain.NoticeSuccess, friendID, "Friend removed")
	return nil
}

func (s *FriendsService) SearchUsers(ctx context.Context, query string) ([]domain.SearchResult, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < minSearchQueryLen {
		return nil, domain.NewValidationError(map[string]string{"query": "must be at least 2 characters"})
	}
	res, err := s.API.SearchUsers(ctx, query)
	if err != nil {
		s.logger().Warn("friends: search failed", "err", err)
		return nil, err
	}
	return res, nil
}

func (s *FriendsService) HandleIncomingRequest(ctx context.Context, ev domain.NewFriendRequestEvent) {
	name := ev.Request.Sender.DisplayName()
	notify(s.Notices, domain.NoticeInfo, ev.Request.Sender.ID, name+" sent you a friend request")
	s.refetchAsync(ctx, collIncoming)
}

func (s *FriendsService) HandleRequestAccepted(ctx context.Context, ev domain.FriendRequestAcceptedEvent) {
	notify(s.Notices, domain.NoticeSuccess, ev.AcceptedBy.ID, ev.AcceptedBy.DisplayName()+" accepted your friend request")
	s.refetchAsync(ctx, collOutgoing, collFriends)
	s.runAccepted(ctx, ev.AcceptedBy.ID)
}

func (s *FriendsService) HandleRequestRejected(ctx context.Context, ev domain.FriendRequestRejectedEvent) {
	notify(s.Notices, domain.NoticeInfo, ev.RejectedBy.ID, ev.RejectedBy.DisplayName()+" declined your friend request")
	s.refetchAsync(ctx, collOutgoing)
}

func (s *FriendsService) HandleRequestCancelled(ctx context.Context, ev domain.FriendRequestCancelledEvent) {
	s.refetchAsync(ctx, collIncoming)
}

func (s *FriendsService) HandleFriendRemoved(ctx context.Context, ev domain.FriendRemovedEvent) {
	s.refetchAsync(ctx, collFriends)
}

func (s *FriendsService) HandleRefreshContacts(ctx context.Context) {
	s.refetchAsync(ctx, collFriends, collIncoming, collOutgoing)
}

func (s *FriendsService) PollIncoming(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			if err := s.refetch(ctx, collIncoming); err != nil && ctx.Err() == nil {
				s.logger().Warn("friends: incoming poll failed", "err", err)
			}
		}
	}
}

func (s *FriendsService) HandleAccountDeleted(userID string) {
	if userID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friends = removeUser(s.friends, userID)
	s.incoming = filterRequests(s.incoming, func(r domain.FriendRequest) bool { return r.Sender.ID != userID })
	s.outgoing = filterRequests(s.outgoing, func(r domain.FriendRequest) bool { return r.Receiver.ID != userID })
}

func (s *FriendsService) pendingRequest(ctx context.Context, c collection, requestID string) (domain.FriendRequest, error) {
	if strings.TrimSpace(requestID) == "" {
		return domain.FriendRequest{}, domain.NewValidationError(map[string]string{"request_id": "required"})
	}
	if req, ok := s.lookupRequest(c, requestID); ok {
		return req, nil
	}
	if err := s.refetch(ctx, c); err != nil {
		return domain.FriendRequest{}, err
	}
	if req, ok := s.lookupRequest(c, requestID); ok {
		return req, nil
	}
	return domain.FriendRequest{}, fmt.Errorf("request %s: %w", requestID, domain.ErrStale)
}

func (s *FriendsService) lookupRequest(c collection, requestID string) (domain.FriendRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.incoming
	if c == collOutgoing {
		list = s.outgoing
	}
	if i := indexRequest(list, requestID); i >= 0 {
		return list[i], true
	}
	return domain.FriendRequest{}, false
}

// lifecycleFailed resolves conflicts by refetching instead of reporting them.
func (s *FriendsService) lifecycleFailed(ctx context.Context, op, peerID string, err error, affected ...collection) error {
	if errors.Is(err, domain.ErrStale) {
		s.logger().Info("friends: stale "+op, "peer_id", peerID)
		for _, c := range affected {
			if rerr := s.refetch(ctx, c); rerr != nil {
				s.logger().Warn("friends: refetch failed", "collection", string(c), "err", rerr)
			}
		}
		return err
	}
	s.fail(op, peerID, "Failed to "+op, err)
	return err
}

func (s *FriendsService) fail(op, peerID, msg string, err error) {
	msg = userMessage(err, msg)
	if errors.Is(err, domain.ErrTransport) {
		s.logger().Error("friends: "+op+" failed", "peer_id", peerID, "err", err)
	} else {
		s.logger().Warn("friends: "+op+" failed", "peer_id", peerID, "err", err)
	}
	notify(s.Notices, domain.NoticeError, peerID, msg)
}

func (s *FriendsService) refetchAsync(ctx context.Context, cs ...collection) {
	ctx = context.WithoutCancel(ctx)
	for _, c := range cs {
		c := c
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.refetch(ctx, c); err != nil {
				s.logger().Warn("friends: refetch failed", "collection", string(c), "err", err)
			}
		}()
	}
}

// refetch returns once a fetch that started after this call has been applied.
// Concurrent demands for the same collection share one request.
func (s *FriendsService) refetch(ctx context.Context, c collection) error {
	s.mu.Lock()
	if s.wanted == nil {
		s.wanted = make(map[collection]uint64)
		s.applied = make(map[collection]uint64)
	}
	s.wanted[c]++
	want := s.wanted[c]
	s.mu.Unlock()

	for {
		_, err, _ := s.group.Do(string(c), func() (any, error) {
			return nil, s.fetch(ctx, c)
		})
		if err != nil {
			return err
		}
		s.mu.Lock()
		done := s.applied[c] >= want
		s.mu.Unlock()
		if done {
			return nil
		}
	}
}

func (s *FriendsService) fetch(ctx context.Context, c collection) error {
	s.mu.Lock()
	level, epoch := s.wanted[c], s.epoch
	s.mu.Unlock()

	switch c {
	case collFriends:
		list, err := s.API.ListFriends(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if s.epoch == epoch {
			s.friends = list
		}
		s.markAppliedLocked(c, level)
		s.mu.Unlock()
	case collIncoming:
		list, err := s.API.ListIncomingRequests(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if s.epoch == epoch {
			s.incoming = list
		}
		s.markAppliedLocked(c, level)
		s.mu.Unlock()
	case collOutgoing:
		list, err := s.API.ListOutgoingRequests(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if s.epoch == epoch {
			s.outgoing = list
		}
		s.markAppliedLocked(c, level)
		s.mu.Unlock()
	}
	return nil
}

func (s *FriendsService) markAppliedLocked(c collection, level uint64) {
	if level > s.applied[c] {
		s.applied[c] = level
	}
	s.sanitizeLocked()
}

// sanitizeLocked drops settled requests and requests whose counterpart is
// already a friend.
func (s *FriendsService) sanitizeLocked() {
	friends := make(map[string]struct{}, len(s.friends))
	for _, f := range s.friends {
		friends[f.ID] = struct{}{}
	}
	s.incoming = filterRequests(s.incoming, func(r domain.FriendRequest) bool {
		_, ok := friends[r.Sender.ID]
		return !ok && !r.Status.IsTerminal()
	})
	s.outgoing = filterRequests(s.outgoing, func(r domain.FriendRequest) bool {
		_, ok := friends[r.Receiver.ID]
		return !ok && !r.Status.IsTerminal()
	})
}

func indexUser(list []domain.UserSummary, id string) int {
	for i, u := range list {
		if u.ID == id {
			return i
		}
	}
	return -1
}

func indexRequest(list []domain.FriendRequest, id string) int {
	for i, r := range list {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func removeUser(list []domain.UserSummary, id string) []domain.UserSummary {
	out := make([]domain.UserSummary, 0, len(list))
	for _, u := range list {
		if u.ID != id {
			out = append(out, u)
		}
	}
	return out
}

func removeRequest(list []domain.FriendRequest, id string) []domain.FriendRequest {
	return filterRequests(list, func(r domain.FriendRequest) bool { return r.ID != id })
}

func filterRequests(list []domain.FriendRequest, keep func(domain.FriendRequest) bool) []domain.FriendRequest {
	out := make([]domain.FriendRequest, 0, len(list))
	for _, r := range list {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
