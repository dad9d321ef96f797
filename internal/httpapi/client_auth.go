package httpapi

import (
	"context"
	"net/http"

	"talkosync/internal/domain"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *Client) CheckAuth(ctx context.Context) (domain.UserSummary, error) {
	var u domain.UserSummary
	err := c.do(ctx, call{method: http.MethodGet, path: "/auth/check", out: &u})
	return u, err
}

func (c *Client) Login(ctx context.Context, email, password string) (domain.UserSummary, error) {
	var u domain.UserSummary
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/auth/login",
		body:   loginRequest{Email: email, Password: password},
		out:    &u,
	})
	return u, err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, call{method: http.MethodPost, path: "/auth/logout"})
}
