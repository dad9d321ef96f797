package httpapi

import (
	"context"
	"net/http"
	"net/url"

	"talkosync/internal/domain"
)

type sendFriendRequestRequest struct {
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
}

type sendFriendRequestResponse struct {
	Request domain.FriendRequest `json:"request"`
}

func (c *Client) SendFriendRequest(ctx context.Context, receiverID, message string) (domain.FriendRequest, error) {
	var resp sendFriendRequestResponse
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/friends/send-request",
		body:   sendFriendRequestRequest{ReceiverID: receiverID, Message: message},
		out:    &resp,
	})
	return resp.Request, err
}

func (c *Client) AcceptFriendRequest(ctx context.Context, requestID string) error {
	return c.do(ctx, call{method: http.MethodPost, path: "/friends/accept/" + escape(requestID), kind: routeLifecycle})
}

func (c *Client) RejectFriendRequest(ctx context.Context, requestID string) error {
	return c.do(ctx, call{method: http.MethodPost, path: "/friends/reject/" + escape(requestID), kind: routeLifecycle})
}

func (c *Client) CancelFriendRequest(ctx context.Context, requestID string) error {
	return c.do(ctx, call{method: http.MethodPost, path: "/friends/cancel/" + escape(requestID), kind: routeLifecycle})
}

func (c *Client) RemoveFriend(ctx context.Context, friendID string) error {
	return c.do(ctx, call{method: http.MethodDelete, path: "/friends/remove/" + escape(friendID), kind: routeLifecycle})
}

func (c *Client) ListFriends(ctx context.Context) ([]domain.UserSummary, error) {
	var out []domain.UserSummary
	if err := c.do(ctx, call{method: http.MethodGet, path: "/friends", out: &out}); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListIncomingRequests(ctx context.Context) ([]domain.FriendRequest, error) {
	var out []domain.FriendRequest
	if err := c.do(ctx, call{method: http.MethodGet, path: "/friends/requests/incoming", out: &out}); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListOutgoingRequests(ctx context.Context) ([]domain.FriendRequest, error) {
	var out []domain.FriendRequest
	if err := c.do(ctx, call{method: http.MethodGet, path: "/friends/requests/outgoing", out: &out}); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SearchUsers(ctx context.Context, query string) ([]domain.SearchResult, error) {
	var out []domain.SearchResult
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/friends/search",
		query:  url.Values{"query": {query}},
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
