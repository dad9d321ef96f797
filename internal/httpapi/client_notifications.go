package httpapi

import (
	"context"
	"net/http"

	"talkosync/internal/domain"
)

type unreadResponse struct {
	Notifications []domain.InboxNotification `json:"notifications"`
}

type pushTokenRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform,omitempty"`
}

func (c *Client) RegisterPushToken(ctx context.Context, tok domain.PushToken) error {
	return c.do(ctx, call{
		method: http.MethodPost,
		path:   "/notifications/fcm-token",
		body:   pushTokenRequest{Token: tok.Token, Platform: tok.Platform},
	})
}

func (c *Client) DeletePushToken(ctx context.Context, token string) error {
	return c.do(ctx, call{
		method: http.MethodDelete,
		path:   "/notifications/fcm-token",
		body:   pushTokenRequest{Token: token},
	})
}

func (c *Client) ListUnreadNotifications(ctx context.Context) ([]domain.InboxNotification, error) {
	var resp unreadResponse
	if err := c.do(ctx, call{method: http.MethodGet, path: "/notifications/unread", out: &resp}); err != nil {
		return nil, err
	}
	return resp.Notifications, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, call{method: http.MethodPut, path: "/notifications/read/" + escape(id)})
}

func (c *Client) ClearNotifications(ctx context.Context) error {
	return c.do(ctx, call{method: http.MethodDelete, path: "/notifications/clear"})
}
