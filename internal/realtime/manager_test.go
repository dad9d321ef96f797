package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"talkosync/internal/domain"
)

type stubPresence struct {
	mu      sync.Mutex
	online  []string
	clears  int
	replace int
}

func (p *stubPresence) ReplaceOnline(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = append([]string(nil), ids...)
	p.replace++
}

func (p *stubPresence) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = nil
	p.clears++
}

func (p *stubPresence) snapshot() ([]string, int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.online...), p.replace, p.clears
}

// fakeSocketServer completes the Engine.IO/Socket.IO handshake and then hands
// the connection to serve.
func fakeSocketServer(t *testing.T, serve func(n int, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/socket.io/" || q.Get("EIO") != "4" || q.Get("userId") == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"s1","pingInterval":25000,"pingTimeout":20000}`))
		_, msg, err := conn.ReadMessage()
		if err != nil || string(msg) != "40" {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`40{"sid":"c1"}`))
		serve(int(conns.Add(1)), conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestManager(t *testing.T, srv *httptest.Server, presence PresenceSink) *Manager {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	m, err := NewManager(Opts{
		URL:              u,
		HandshakeTimeout: 2 * time.Second,
		EmitRate:         1000,
		Presence:         presence,
		NewBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(10 * time.Millisecond)
		},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Disconnect)
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManager_DispatchesEventsAndEmits(t *testing.T) {
	received := make(chan string, 8)
	srv := fakeSocketServer(t, func(n int, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`42["getOnlineUsers",["u1","u2"]]`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`42["newMessage",{"_id":"m1","senderId":"u1"}]`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`2`))
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(msg)
		}
	})

	presence := &stubPresence{}
	m := newTestManager(t, srv, presence)

	gotMessage := make(chan domain.Message, 1)
	m.On(domain.EventNewMessage, func(ctx context.Context, payload json.RawMessage) {
		var msg domain.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Errorf("unmarshal: %v", err)
		}
		gotMessage <- msg
	})

	if err := m.Connect(context.Background(), "me"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case msg := <-gotMessage:
		if msg.ID != "m1" || msg.SenderID != "u1" {
			t.Fatalf("message: %+v", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for newMessage")
	}

	online, _, _ := presence.snapshot()
	if strings.Join(online, ",") != "u1,u2" {
		t.Fatalf("online: %v", online)
	}
	if m.State() != StateConnected {
		t.Fatalf("state: %v", m.State())
	}

	if err := m.Emit(domain.EventTyping, domain.TypingEvent{SenderID: "me", ReceiverID: "u1"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	var sawPong, sawTyping bool
	timeout := time.After(3 * time.Second)
	for !sawPong || !sawTyping {
		select {
		case msg := <-received:
			switch msg {
			case "3":
				sawPong = true
			case `42["typing",{"senderId":"me","receiverId":"u1"}]`:
				sawTyping = true
			}
		case <-timeout:
			t.Fatalf("timed out: pong=%v typing=%v", sawPong, sawTyping)
		}
	}
}

func TestManager_EmitWithoutSession(t *testing.T) {
	u, _ := url.Parse("http://127.0.0.1:1")
	m, err := NewManager(Opts{URL: u})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.Emit(domain.EventTyping, nil); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestManager_ConnectIsIdempotentPerUser(t *testing.T) {
	srv := fakeSocketServer(t, func(n int, conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	m := newTestManager(t, srv, &stubPresence{})

	if err := m.Connect(context.Background(), "me"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Connect(context.Background(), "me"); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if err := m.Connect(context.Background(), "someone-else"); !errors.Is(err, domain.ErrAlreadyBound) {
		t.Fatalf("expected ErrAlreadyBound, got %v", err)
	}
	if err := m.Connect(context.Background(), ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestManager_DropClearsPresenceAndReconnects(t *testing.T) {
	srv := fakeSocketServer(t, func(n int, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`42["getOnlineUsers",["u1"]]`))
		if n == 1 {
			// First session ends abruptly.
			time.Sleep(20 * time.Millisecond)
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	presence := &stubPresence{}
	m := newTestManager(t, srv, presence)
	if err := m.Connect(context.Background(), "me"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, "second snapshot", func() bool {
		_, replaced, clears := presence.snapshot()
		return replaced >= 2 && clears >= 1
	})
	waitFor(t, "connected", func() bool { return m.State() == StateConnected })

	m.Disconnect()
	online, _, _ := presence.snapshot()
	if len(online) != 0 {
		t.Fatalf("expected presence cleared after disconnect, got %v", online)
	}
	if m.State() != StateDisconnected {
		t.Fatalf("state: %v", m.State())
	}
	if err := m.Emit(domain.EventTyping, nil); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after disconnect, got %v", err)
	}
}

func TestManager_HandlerPanicDoesNotKillSession(t *testing.T) {
	srv := fakeSocketServer(t, func(n int, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`42["accountDeleted",{"userId":"u1"}]`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`42["accountDeleted",{"userId":"u2"}]`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	m := newTestManager(t, srv, &stubPresence{})

	var calls atomic.Int32
	m.On(domain.EventAccountDeleted, func(ctx context.Context, payload json.RawMessage) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	})
	if err := m.Connect(context.Background(), "me"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, "second event", func() bool { return calls.Load() == 2 })
}
