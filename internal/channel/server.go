package channel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/velvetkey/winpilot/internal/coords"
	"github.com/velvetkey/winpilot/internal/native"
)

const (
	// maxMessageSize bounds inbound frames; screenshots dominate.
	maxMessageSize = 10 * 1024 * 1024
	authDeadline   = 5 * time.Second
	writeDeadline  = 10 * time.Second
)

// Server accepts executor connections and turns transport operations into
// correlated command exchanges. One server handles many executors; each
// session is claimed by exactly one connection at a time.
type Server struct {
	token   string
	timeout time.Duration

	mu      sync.Mutex
	conns   []*execConn
	claims  map[string]*execConn
	pending map[string]*pendingRequest
}

type execConn struct {
	ws      *websocket.Conn
	remote  string
	writeMu sync.Mutex
}

type outcome struct {
	resp Response
	err  error
}

type pendingRequest struct {
	owner *execConn
	ch    chan outcome
}

// NewServer creates a command channel server. token authenticates
// executors; timeout bounds every awaited request.
func NewServer(token string, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Server{
		token:   token,
		timeout: timeout,
		claims:  make(map[string]*execConn),
		pending: make(map[string]*pendingRequest),
	}
}

// ServeHTTP upgrades an executor connection, runs the auth handshake, and
// then pumps responses until the connection drops.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept executor websocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	ws.SetReadLimit(maxMessageSize)

	c := &execConn{ws: ws, remote: r.RemoteAddr}
	if !s.authenticate(c) {
		_ = ws.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	s.register(c)
	slog.Info("Executor connected", "ip", c.remote, "executors", s.ExecutorCount())
	defer func() {
		s.unregister(c)
		_ = ws.Close(websocket.StatusNormalClosure, "connection ended")
		slog.Info("Executor disconnected", "ip", c.remote, "executors", s.ExecutorCount())
	}()

	s.readLoop(r.Context(), c)
}

// authenticate reads the first frame and validates the shared token. No
// command is dispatched to, and no response accepted from, a connection
// that has not passed this exchange.
func (s *Server) authenticate(c *execConn) bool {
	ctx, cancel := context.WithTimeout(context.Background(), authDeadline)
	defer cancel()

	_, data, err := c.ws.Read(ctx)
	if err != nil {
		slog.Warn("Executor handshake read failed", "error", err, "ip", c.remote)
		return false
	}
	var auth AuthMessage
	if err := json.Unmarshal(data, &auth); err != nil || auth.Type != "auth" {
		slog.Warn("Executor handshake malformed", "ip", c.remote)
		return false
	}
	if s.token == "" || auth.Token != s.token {
		slog.Warn("Executor token rejected", "ip", c.remote)
		return false
	}

	reply, _ := json.Marshal(AuthReply{Status: AuthAccepted})
	if err := c.write(ctx, reply); err != nil {
		slog.Warn("Executor handshake reply failed", "error", err, "ip", c.remote)
		return false
	}
	return true
}

func (s *Server) readLoop(ctx context.Context, c *execConn) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Executor closed connection", "ip", c.remote)
			} else {
				slog.Warn("Executor read error", "error", err, "ip", c.remote)
			}
			return
		}

		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			slog.Warn("Unparseable executor message", "error", err, "ip", c.remote)
			continue
		}
		s.resolve(resp)
	}
}

// resolve matches a response to its pending request. A reply bearing an
// unknown request id is dropped: the awaiting side already gave up.
func (s *Server) resolve(resp Response) {
	p := s.takePending(resp.RequestID)
	if p == nil {
		slog.Debug("Response for unknown request id ignored", "request_id", resp.RequestID)
		return
	}
	if resp.Status != StatusSuccess {
		p.ch <- outcome{err: &ExecutorError{Message: resp.Error}}
		return
	}
	p.ch <- outcome{resp: resp}
}

func (s *Server) register(c *execConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns = append(s.conns, c)
}

// unregister removes the connection, releases its session claims, and fails
// every pending request it owned.
func (s *Server) unregister(c *execConn) {
	s.mu.Lock()
	for i, cc := range s.conns {
		if cc == c {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			break
		}
	}
	for sid, cc := range s.claims {
		if cc == c {
			delete(s.claims, sid)
			slog.Info("Session claim released", "session", sid, "ip", c.remote)
		}
	}
	var orphaned []*pendingRequest
	for id, p := range s.pending {
		if p.owner == c {
			delete(s.pending, id)
			orphaned = append(orphaned, p)
		}
	}
	s.mu.Unlock()

	for _, p := range orphaned {
		p.ch <- outcome{err: fmt.Errorf("%w: executor disconnected", ErrNotConnected)}
	}
}

// takePending removes and returns the pending entry for id. Removal and
// resolution happen under one lock acquisition, so each request resolves
// at most once: whoever takes the entry is the sole resolver.
func (s *Server) takePending(id string) *pendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending[id]
	delete(s.pending, id)
	return p
}

// latestConn returns the most recently authenticated connection.
func (s *Server) latestConn() *execConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

// claimedConn returns the connection that currently claims the session.
func (s *Server) claimedConn(sessionID string) *execConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims[sessionID]
}

func (c *execConn) write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeDeadline)
	defer cancel()
	return c.ws.Write(wctx, websocket.MessageText, data)
}

// dispatch sends the command over c. When await is true it assigns a fresh
// request id, arms the deadline, and blocks until the correlated response,
// the deadline, or ctx resolves it. Exactly one of the three wins.
func (s *Server) dispatch(ctx context.Context, c *execConn, cmd Command, await bool) (Response, error) {
	if c == nil {
		return Response{}, ErrSessionNotConnected
	}

	var p *pendingRequest
	if await {
		cmd.RequestID = uuid.NewString()
		p = &pendingRequest{owner: c, ch: make(chan outcome, 1)}
		s.mu.Lock()
		s.pending[cmd.RequestID] = p
		s.mu.Unlock()
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		if await {
			s.takePending(cmd.RequestID)
		}
		return Response{}, fmt.Errorf("encode command: %w", err)
	}
	if err := c.write(ctx, data); err != nil {
		if await {
			s.takePending(cmd.RequestID)
		}
		return Response{}, fmt.Errorf("send %s command: %w", cmd.Action, err)
	}
	if !await {
		return Response{}, nil
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case out := <-p.ch:
		return out.resp, out.err
	case <-timer.C:
		if s.takePending(cmd.RequestID) != nil {
			return Response{}, fmt.Errorf("%w after %s (action %s)", ErrTimeout, s.timeout, cmd.Action)
		}
		// A response won the race; it is already in flight.
		out := <-p.ch
		return out.resp, out.err
	case <-ctx.Done():
		if s.takePending(cmd.RequestID) != nil {
			return Response{}, ctx.Err()
		}
		out := <-p.ch
		return out.resp, out.err
	}
}

// StartSession asks an executor to bind a window to the session and records
// the claim on success. The newest authenticated connection is chosen.
func (s *Server) StartSession(ctx context.Context, sessionID, windowTitle string) error {
	c := s.latestConn()
	if c == nil {
		return ErrNotConnected
	}
	_, err := s.dispatch(ctx, c, Command{
		Action:    ActionStartSession,
		SessionID: sessionID,
		Title:     windowTitle,
	}, true)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.claims[sessionID] = c
	s.mu.Unlock()
	slog.Info("Session claimed by executor", "session", sessionID, "ip", c.remote)
	return nil
}

// StopSession tells the claiming executor to drop the session and releases
// the claim.
func (s *Server) StopSession(ctx context.Context, sessionID string) error {
	c := s.claimedConn(sessionID)
	if c == nil {
		return ErrSessionNotConnected
	}
	_, err := s.dispatch(ctx, c, Command{
		Action:    ActionStopSession,
		SessionID: sessionID,
	}, false)

	s.mu.Lock()
	delete(s.claims, sessionID)
	s.mu.Unlock()
	return err
}

// Click dispatches a fire-and-forget click at the ratio position.
func (s *Server) Click(ctx context.Context, sessionID string, at coords.Ratio, method native.InputMethod) error {
	at = at.Clamp()
	x, y := at.X, at.Y
	_, err := s.dispatch(ctx, s.claimedConn(sessionID), Command{
		Action:    ActionClick,
		SessionID: sessionID,
		XRatio:    &x,
		YRatio:    &y,
		Method:    string(method),
	}, false)
	return err
}

// PressKey dispatches a fire-and-forget key press.
func (s *Server) PressKey(ctx context.Context, sessionID, key string, method native.InputMethod) error {
	_, err := s.dispatch(ctx, s.claimedConn(sessionID), Command{
		Action:    ActionPressKey,
		SessionID: sessionID,
		Key:       key,
		Method:    string(method),
	}, false)
	return err
}

// Screenshot requests a capture and waits for the correlated image payload.
func (s *Server) Screenshot(ctx context.Context, sessionID string, delay time.Duration, format string) ([]byte, error) {
	resp, err := s.dispatch(ctx, s.claimedConn(sessionID), Command{
		Action:    ActionScreenshot,
		SessionID: sessionID,
		DelayMS:   int(delay / time.Millisecond),
		Format:    format,
	}, true)
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(resp.ImageData)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot payload: %w", err)
	}
	return data, nil
}

// ExecutorCount reports the number of authenticated connections.
func (s *Server) ExecutorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// SessionConnected reports whether any connection claims the session.
func (s *Server) SessionConnected(sessionID string) bool {
	return s.claimedConn(sessionID) != nil
}

// PendingCount reports in-flight awaited requests.
func (s *Server) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
