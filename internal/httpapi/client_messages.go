package httpapi

import (
	"context"
	"net/http"

	"talkosync/internal/domain"
)

type messageCountResponse struct {
	Count int `json:"count"`
}

func (c *Client) ListChatUsers(ctx context.Context) ([]domain.UserSummary, error) {
	var out []domain.UserSummary
	if err := c.do(ctx, call{method: http.MethodGet, path: "/messages/users", out: &out, kind: routeMessaging}); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListMessages(ctx context.Context, peerID string) ([]domain.Message, error) {
	var out []domain.Message
	if err := c.do(ctx, call{method: http.MethodGet, path: "/messages/" + escape(peerID), out: &out, kind: routeMessaging}); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CountMessages(ctx context.Context, peerID string) (int, error) {
	var resp messageCountResponse
	if err := c.do(ctx, call{method: http.MethodGet, path: "/messages/count/" + escape(peerID), out: &resp, kind: routeMessaging}); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *Client) SendMessage(ctx context.Context, peerID string, msg domain.OutgoingMessage) (domain.Message, error) {
	var out domain.Message
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/messages/send/" + escape(peerID),
		body:   msg,
		out:    &out,
		kind:   routeMessaging,
	})
	return out, err
}

func (c *Client) DeleteChatHistory(ctx context.Context, peerID string) error {
	return c.do(ctx, call{method: http.MethodDelete, path: "/messages/history/" + escape(peerID), kind: routeMessaging})
}
