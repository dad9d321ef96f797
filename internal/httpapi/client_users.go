package httpapi

import (
	"context"
	"net/http"
	"time"

	"talkosync/internal/domain"
)

type blockedUsersResponse struct {
	BlockedUsers []domain.UserSummary `json:"blockedUsers"`
}

type lastSeenResponse struct {
	LastSeen *time.Time `json:"lastSeen"`
}

func (c *Client) BlockUser(ctx context.Context, userID string) error {
	return c.do(ctx, call{method: http.MethodPost, path: "/users/block/" + escape(userID)})
}

func (c *Client) UnblockUser(ctx context.Context, userID string) error {
	return c.do(ctx, call{method: http.MethodPost, path: "/users/unblock/" + escape(userID)})
}

func (c *Client) BlockStatus(ctx context.Context, userID string) (domain.BlockStatus, error) {
	var st domain.BlockStatus
	err := c.do(ctx, call{method: http.MethodGet, path: "/users/block-status/" + escape(userID), out: &st})
	return st, err
}

func (c *Client) ListBlockedUsers(ctx context.Context) ([]domain.UserSummary, error) {
	var resp blockedUsersResponse
	if err := c.do(ctx, call{method: http.MethodGet, path: "/users/blocked", out: &resp}); err != nil {
		return nil, err
	}
	return resp.BlockedUsers, nil
}

func (c *Client) LastSeen(ctx context.Context, userID string) (*time.Time, error) {
	var resp lastSeenResponse
	if err := c.do(ctx, call{method: http.MethodGet, path: "/users/last-seen/" + escape(userID), out: &resp}); err != nil {
		return nil, err
	}
	return resp.LastSeen, nil
}
