package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"talkosync/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	base, err := url.Parse(srv.URL + "/api")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	c, err := NewClient(ClientOpts{BaseURL: base, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestClient_SendFriendRequest(t *testing.T) {
	var gotBody sendFriendRequestRequest
	var gotRequestID string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/friends/send-request" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotRequestID = r.Header.Get("X-Request-Id")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"request":{"_id":"r1","senderId":{"_id":"me"},"receiverId":{"_id":"u2","fullname":"Bob"},"status":"pending"}}`))
	})

	req, err := c.SendFriendRequest(context.Background(), "u2", "hi")
	if err != nil {
		t.Fatalf("SendFriendRequest: %v", err)
	}
	if gotBody.ReceiverID != "u2" || gotBody.Message != "hi" {
		t.Fatalf("body: %+v", gotBody)
	}
	if gotRequestID == "" {
		t.Fatalf("expected X-Request-Id header")
	}
	if req.ID != "r1" || req.Receiver.FullName != "Bob" || req.Status != domain.RequestPending {
		t.Fatalf("request: %+v", req)
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		invoke func(*Client) error
		want   error
	}{
		{
			name:   "lifecycle conflict is stale",
			status: http.StatusConflict,
			body:   `{"message":"Request already handled"}`,
			invoke: func(c *Client) error { return c.AcceptFriendRequest(context.Background(), "r1") },
			want:   domain.ErrStale,
		},
		{
			name:   "lifecycle not found is stale",
			status: http.StatusNotFound,
			invoke: func(c *Client) error { return c.CancelFriendRequest(context.Background(), "r1") },
			want:   domain.ErrStale,
		},
		{
			name:   "plain not found",
			status: http.StatusNotFound,
			invoke: func(c *Client) error { _, err := c.BlockStatus(context.Background(), "u2"); return err },
			want:   domain.ErrNotFound,
		},
		{
			name:   "messaging forbidden is not friends",
			status: http.StatusForbidden,
			body:   `{"message":"You can only message friends"}`,
			invoke: func(c *Client) error { _, err := c.ListMessages(context.Background(), "u2"); return err },
			want:   domain.ErrNotFriends,
		},
		{
			name:   "error code wins",
			status: http.StatusForbidden,
			body:   `{"error":{"code":"blocked_by","message":"blocked"}}`,
			invoke: func(c *Client) error {
				_, err := c.SendMessage(context.Background(), "u2", domain.OutgoingMessage{Text: "x"})
				return err
			},
			want: domain.ErrBlockedBy,
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			invoke: func(c *Client) error { _, err := c.CheckAuth(context.Background()); return err },
			want:   domain.ErrUnauthorized,
		},
		{
			name:   "bad request is validation",
			status: http.StatusBadRequest,
			body:   `{"message":"All fields are required"}`,
			invoke: func(c *Client) error { _, err := c.Login(context.Background(), "", ""); return err },
			want:   domain.ErrValidation,
		},
		{
			name:   "unprocessable is validation",
			status: http.StatusUnprocessableEntity,
			body:   `{"message":"Message too long"}`,
			invoke: func(c *Client) error {
				_, err := c.SendMessage(context.Background(), "u2", domain.OutgoingMessage{Text: "x"})
				return err
			},
			want: domain.ErrValidation,
		},
		{
			name:   "too many requests",
			status: http.StatusTooManyRequests,
			invoke: func(c *Client) error { _, err := c.SearchUsers(context.Background(), "bo"); return err },
			want:   domain.ErrRateLimited,
		},
		{
			name:   "other client error is rejected",
			status: http.StatusGone,
			invoke: func(c *Client) error { _, err := c.ListFriends(context.Background()); return err },
			want:   domain.ErrRejected,
		},
		{
			name:   "server error is transport",
			status: http.StatusInternalServerError,
			invoke: func(c *Client) error { _, err := c.ListFriends(context.Background()); return err },
			want:   domain.ErrTransport,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			err := tc.invoke(c)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if tc.status < 500 && errors.Is(err, domain.ErrTransport) {
				t.Fatalf("client error %d reported as transport", tc.status)
			}
		})
	}
}

func TestClient_TimeoutIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	base, _ := url.Parse(srv.URL)
	c, err := NewClient(ClientOpts{BaseURL: base, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = c.ListFriends(context.Background())
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestClient_SearchEscapesQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("query"); got != "al ice&x" {
			t.Errorf("query: got %q", got)
		}
		_, _ = w.Write([]byte(`[{"_id":"u1","fullname":"Alice","relationshipStatus":"friends"}]`))
	})

	res, err := c.SearchUsers(context.Background(), "al ice&x")
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(res) != 1 || res[0].ID != "u1" || res[0].Relationship != domain.RelationshipFriends {
		t.Fatalf("results: %+v", res)
	}
}

func TestClient_LastSeenNull(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"lastSeen":null}`))
	})

	ts, err := c.LastSeen(context.Background(), "u2")
	if err != nil {
		t.Fatalf("LastSeen: %v", err)
	}
	if ts != nil {
		t.Fatalf("expected nil last seen, got %v", ts)
	}
}
