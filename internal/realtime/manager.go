package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"talkosync/internal/domain"
)

const (
	writeWait     = 10 * time.Second
	sendQueueSize = 256
)

var errServerClosed = errors.New("realtime: server closed the session")

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Handler receives the raw payload of one inbound event. Handlers run on the
// reader goroutine, one at a time, in arrival order.
type Handler func(ctx context.Context, payload json.RawMessage)

type PresenceSink interface {
	ReplaceOnline(ids []string)
	Clear()
}

type NoticeSink interface {
	Notice(n domain.Notice)
}

type Opts struct {
	// URL is the socket server origin; http(s) and ws(s) schemes are accepted.
	URL              *url.URL
	Jar              http.CookieJar
	HandshakeTimeout time.Duration
	EmitRate         float64
	Presence         PresenceSink
	Notices          NoticeSink
	Logger           *slog.Logger
	NewBackOff       func() backoff.BackOff
}

type Manager struct {
	opts    Opts
	logger  *slog.Logger
	limiter *rate.Limiter
	dialer  *websocket.Dialer

	mu       sync.Mutex
	handlers map[string][]Handler
	userID   string
	state    State
	cancel   context.CancelFunc
	done     chan struct{}
	link     *link
}

type link struct {
	conn *websocket.Conn
	out  chan []byte
	ctrl chan []byte
	quit chan struct{}
}

func NewManager(opts Opts) (*Manager, error) {
	if opts.URL == nil || !opts.URL.IsAbs() {
		return nil, errors.New("realtime: url must be absolute")
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 20 * time.Second
	}
	if opts.EmitRate <= 0 {
		opts.EmitRate = 20
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = defaultBackOff
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	burst := int(opts.EmitRate)
	if burst < 1 {
		burst = 1
	}

	return &Manager{
		opts:    opts,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(opts.EmitRate), burst),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
			Jar:              opts.Jar,
		},
		handlers: make(map[string][]Handler),
	}, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// On registers h for event. Several handlers may share an event; they run in
// registration order.
func (m *Manager) On(event string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], h)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect binds the manager to userID and dials in the background. Calling it
// again for the same user is a no-op; ctx bounds the lifetime of the binding.
func (m *Manager) Connect(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.NewValidationError(map[string]string{"user_id": "required"})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		if m.userID == userID {
			return nil
		}
		return fmt.Errorf("realtime: bound to another user: %w", domain.ErrAlreadyBound)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.userID = userID
	m.state = StateConnecting
	m.cancel = cancel
	m.done = done

	go m.run(runCtx, userID, done)
	return nil
}

// Disconnect closes the session, stops reconnecting and clears presence. It
// must not be called from a Handler.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done, l := m.cancel, m.done, m.link
	m.cancel, m.done, m.link = nil, nil, nil
	m.userID = ""
	m.state = StateDisconnected
	m.mu.Unlock()

	if l != nil {
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
	}
	if cancel != nil {
		cancel()
		<-done
	}
	m.clearPresence()
}

// Emit queues an event for the writer goroutine. It never blocks; without a
// live session it returns domain.ErrNotConnected.
func (m *Manager) Emit(event string, payload any) error {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	l := m.link
	m.mu.Unlock()
	if l == nil {
		return domain.ErrNotConnected
	}

	select {
	case l.out <- frame:
		return nil
	default:
		m.logger.Warn("realtime: send queue full", "event", event)
		return fmt.Errorf("realtime: send queue full: %w", domain.ErrTransport)
	}
}

func (m *Manager) run(ctx context.Context, userID string, done chan struct{}) {
	defer close(done)
	defer m.release(done)

	b := backoff.WithContext(m.opts.NewBackOff(), ctx)
	for {
		connected, err := m.session(ctx, userID, done)
		if ctx.Err() != nil {
			return
		}
		m.dropped(done, connected, err)
		if connected {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			m.logger.Warn("realtime: giving up reconnecting", "user_id", userID)
			return
		}
		m.logger.Info("realtime: reconnecting", "user_id", userID, "in_ms", wait.Milliseconds())

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (m *Manager) session(ctx context.Context, userID string, done chan struct{}) (bool, error) {
	sessionTag := uuid.NewString()
	header := http.Header{"X-Client-Session": {sessionTag}}

	conn, _, err := m.dialer.DialContext(ctx, m.endpoint(userID), header)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	info, err := handshake(conn, m.opts.HandshakeTimeout)
	if err != nil {
		return false, err
	}

	l := &link{
		conn: conn,
		out:  make(chan []byte, sendQueueSize),
		ctrl: make(chan []byte, 8),
		quit: make(chan struct{}),
	}
	if !m.attach(done, l) {
		return false, context.Canceled
	}
	m.logger.Info("realtime: connected", "user_id", userID, "sid", info.SID, "session", sessionTag)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.writeLoop(ctx, l)
	}()

	err = m.readLoop(ctx, l, info)

	m.detach(done, l)
	close(l.quit)
	_ = conn.Close()
	wg.Wait()
	return true, err
}

func handshake(conn *websocket.Conn, timeout time.Duration) (openInfo, error) {
	deadline := time.Now().Add(timeout)
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)

	p, err := readPacket(conn)
	if err != nil {
		return openInfo{}, fmt.Errorf("handshake: %w", err)
	}
	if p.eio != eioOpen {
		return openInfo{}, fmt.Errorf("handshake: %w: expected open, got %q", errMalformedPacket, p.eio)
	}
	var info openInfo
	if err := json.Unmarshal(p.data, &info); err != nil {
		return openInfo{}, fmt.Errorf("handshake: %w: %v", errMalformedPacket, err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, connectFrame); err != nil {
		return openInfo{}, fmt.Errorf("handshake: %w", err)
	}

	for {
		p, err := readPacket(conn)
		if err != nil {
			return openInfo{}, fmt.Errorf("handshake: %w", err)
		}
		switch {
		case p.eio == eioPing:
			if err := conn.WriteMessage(websocket.TextMessage, pongFrame); err != nil {
				return openInfo{}, fmt.Errorf("handshake: %w", err)
			}
		case p.eio == eioClose:
			return openInfo{}, fmt.Errorf("handshake: %w", errServerClosed)
		case p.eio == eioMessage && p.sio == sioConnect:
			_ = conn.SetReadDeadline(time.Time{})
			_ = conn.SetWriteDeadline(time.Time{})
			return info, nil
		case p.eio == eioMessage && p.sio == sioConnectError:
			return openInfo{}, fmt.Errorf("handshake: connection rejected: %s", p.data)
		}
	}
}

func readPacket(conn *websocket.Conn) (packet, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return packet{}, err
	}
	return decodePacket(data)
}

func (m *Manager) readLoop(ctx context.Context, l *link, info openInfo) error {
	for {
		_ = l.conn.SetReadDeadline(time.Now().Add(info.readTimeout()))
		p, err := readPacket(l.conn)
		if err != nil {
			if errors.Is(err, errMalformedPacket) {
				m.logger.Warn("realtime: dropping packet", "err", err)
				continue
			}
			return err
		}

		switch p.eio {
		case eioPing:
			select {
			case l.ctrl <- pongFrame:
			default:
			}
		case eioClose:
			return errServerClosed
		case eioMessage:
			switch p.sio {
			case sioEvent:
				name, payload, err := decodeEvent(p.data)
				if err != nil {
					m.logger.Warn("realtime: dropping event", "err", err)
					continue
				}
				m.dispatch(ctx, name, payload)
			case sioDisconnect:
				return errServerClosed
			}
		}
	}
}

func (m *Manager) writeLoop(ctx context.Context, l *link) {
	for {
		var frame []byte
		select {
		case <-l.quit:
			return
		case frame = <-l.ctrl:
		case frame = <-l.out:
			if err := m.limiter.Wait(ctx); err != nil {
				return
			}
		}

		_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := l.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			m.logger.Warn("realtime: write failed", "err", err)
			_ = l.conn.Close()
			return
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, name string, payload json.RawMessage) {
	if name == domain.EventOnlineUsers {
		var ids []string
		if err := json.Unmarshal(payload, &ids); err != nil {
			m.logger.Warn("realtime: bad online users payload", "err", err)
		} else if m.opts.Presence != nil {
			m.opts.Presence.ReplaceOnline(ids)
		}
	}

	m.mu.Lock()
	hs := append([]Handler(nil), m.handlers[name]...)
	m.mu.Unlock()

	if len(hs) == 0 && name != domain.EventOnlineUsers {
		m.logger.Debug("realtime: unhandled event", "event", name)
		return
	}
	for _, h := range hs {
		m.call(ctx, name, h, payload)
	}
}

func (m *Manager) call(ctx context.Context, name string, h Handler, payload json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("realtime: handler panic", "event", name, "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	h(ctx, payload)
}

func (m *Manager) attach(done chan struct{}, l *link) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != done {
		return false
	}
	m.link = l
	m.state = StateConnected
	return true
}

func (m *Manager) detach(done chan struct{}, l *link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == done && m.link == l {
		m.link = nil
	}
}

func (m *Manager) dropped(done chan struct{}, wasConnected bool, err error) {
	m.mu.Lock()
	current := m.done == done
	if current {
		m.link = nil
		m.state = StateReconnecting
	}
	m.mu.Unlock()
	if !current {
		return
	}

	m.clearPresence()
	if wasConnected {
		m.logger.Warn("realtime: connection lost", "err", err)
		if m.opts.Notices != nil {
			m.opts.Notices.Notice(domain.Notice{Kind: domain.NoticeError, Message: "Connection lost. Reconnecting..."})
		}
	} else {
		m.logger.Warn("realtime: connect failed", "err", err)
	}
}

func (m *Manager) release(done chan struct{}) {
	m.mu.Lock()
	current := m.done == done
	if current {
		if m.cancel != nil {
			m.cancel()
		}
		m.cancel, m.done, m.link = nil, nil, nil
		m.userID = ""
		m.state = StateDisconnected
	}
	m.mu.Unlock()
	if current {
		m.clearPresence()
	}
}

func (m *Manager) clearPresence() {
	if m.opts.Presence != nil {
		m.opts.Presence.Clear()
	}
}

func (m *Manager) endpoint(userID string) string {
	u := *m.opts.URL
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket.io/"
	u.RawQuery = url.Values{
		"EIO":       {"4"},
		"transport": {"websocket"},
		"userId":    {userID},
	}.Encode()
	return u.String()
}
