package channel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/velvetkey/winpilot/internal/coords"
	"github.com/velvetkey/winpilot/internal/native"
)

const testToken = "test-secret"

func base64Encode(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func newTestServer(t *testing.T, timeout time.Duration) (*Server, string) {
	t.Helper()
	s := NewServer(testToken, timeout)
	hs := httptest.NewServer(s)
	t.Cleanup(hs.Close)
	return s, "ws" + strings.TrimPrefix(hs.URL, "http")
}

// rawExecutor is a scripted executor connection: it authenticates and then
// feeds every received command to handle, which may return a response.
func rawExecutor(t *testing.T, url string, handle func(Command) *Response) *websocket.Conn {
	t.Helper()
	ctx := context.Background()
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "test done") })

	auth, _ := json.Marshal(AuthMessage{Type: "auth", Token: testToken})
	if err := ws.Write(ctx, websocket.MessageText, auth); err != nil {
		t.Fatalf("auth write failed: %v", err)
	}
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("auth reply read failed: %v", err)
	}
	var reply AuthReply
	if err := json.Unmarshal(data, &reply); err != nil || reply.Status != AuthAccepted {
		t.Fatalf("handshake rejected: %s", data)
	}

	go func() {
		for {
			_, data, err := ws.Read(context.Background())
			if err != nil {
				return
			}
			var cmd Command
			if err := json.Unmarshal(data, &cmd); err != nil {
				continue
			}
			if resp := handle(cmd); resp != nil {
				out, _ := json.Marshal(resp)
				_ = ws.Write(context.Background(), websocket.MessageText, out)
			}
		}
	}()
	return ws
}

// ackAll acknowledges every command that carries a request id.
func ackAll(cmd Command) *Response {
	if cmd.RequestID == "" {
		return nil
	}
	return &Response{RequestID: cmd.RequestID, Status: StatusSuccess}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAuthRejectsBadToken(t *testing.T) {
	s, url := newTestServer(t, time.Second)
	ctx := context.Background()

	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "") }()

	auth, _ := json.Marshal(AuthMessage{Type: "auth", Token: "wrong"})
	if err := ws.Write(ctx, websocket.MessageText, auth); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// The server must close the connection without accepting it.
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, _, err := ws.Read(rctx); err == nil {
		t.Error("expected connection close after bad token")
	}
	if s.ExecutorCount() != 0 {
		t.Errorf("rejected connection registered: count = %d", s.ExecutorCount())
	}
}

func TestStartSessionWithoutExecutor(t *testing.T) {
	s, _ := newTestServer(t, time.Second)
	err := s.StartSession(context.Background(), "group_1", "Game")
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestDispatchToUnclaimedSessionFailsImmediately(t *testing.T) {
	s, url := newTestServer(t, 5*time.Second)
	rawExecutor(t, url, ackAll)
	waitFor(t, "executor registration", func() bool { return s.ExecutorCount() == 1 })

	start := time.Now()
	_, err := s.Screenshot(context.Background(), "unclaimed", 0, "png")
	if !errors.Is(err, ErrSessionNotConnected) {
		t.Errorf("expected ErrSessionNotConnected, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("unclaimed dispatch must fail immediately, not wait for timeout")
	}
}

func TestScreenshotRoundTrip(t *testing.T) {
	s, url := newTestServer(t, 5*time.Second)

	payload := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	rawExecutor(t, url, func(cmd Command) *Response {
		switch cmd.Action {
		case ActionStartSession:
			return ackAll(cmd)
		case ActionScreenshot:
			return &Response{
				RequestID: cmd.RequestID,
				Status:    StatusSuccess,
				ImageData: base64Encode(payload),
			}
		}
		return nil
	})
	waitFor(t, "executor registration", func() bool { return s.ExecutorCount() == 1 })

	ctx := context.Background()
	if err := s.StartSession(ctx, "group_1", "Game"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if !s.SessionConnected("group_1") {
		t.Fatal("session not claimed after StartSession")
	}

	got, err := s.Screenshot(ctx, "group_1", 0, "png")
	if err != nil {
		t.Fatalf("Screenshot failed: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %v, want %v", got, payload)
	}
	if s.PendingCount() != 0 {
		t.Errorf("pending requests leaked: %d", s.PendingCount())
	}
}

func TestScreenshotTimeout(t *testing.T) {
	timeout := 300 * time.Millisecond
	s, url := newTestServer(t, timeout)

	var mu sync.Mutex
	var starved []string
	rawExecutor(t, url, func(cmd Command) *Response {
		if cmd.Action == ActionStartSession {
			return ackAll(cmd)
		}
		mu.Lock()
		starved = append(starved, cmd.RequestID)
		mu.Unlock()
		return nil // never answer screenshots
	})
	waitFor(t, "executor registration", func() bool { return s.ExecutorCount() == 1 })

	ctx := context.Background()
	if err := s.StartSession(ctx, "group_1", "Game"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	start := time.Now()
	_, err := s.Screenshot(ctx, "group_1", 0, "png")
	elapsed := time.Since(start)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed < timeout {
		t.Errorf("resolved before deadline: %s < %s", elapsed, timeout)
	}
	if elapsed > timeout+2*time.Second {
		t.Errorf("resolved far past deadline: %s", elapsed)
	}
	if s.PendingCount() != 0 {
		t.Errorf("timed-out request still pending: count = %d", s.PendingCount())
	}

	// A stray late response for the expired id must be ignored.
	mu.Lock()
	staleID := starved[0]
	mu.Unlock()
	s.resolve(Response{RequestID: staleID, Status: StatusSuccess, ImageData: ""})
	if s.PendingCount() != 0 {
		t.Error("stale response resurrected a pending entry")
	}
}

func TestExecutorErrorPropagates(t *testing.T) {
	s, url := newTestServer(t, 5*time.Second)
	rawExecutor(t, url, func(cmd Command) *Response {
		if cmd.Action == ActionStartSession {
			return ackAll(cmd)
		}
		return &Response{RequestID: cmd.RequestID, Status: StatusError, Error: "window is gone"}
	})
	waitFor(t, "executor registration", func() bool { return s.ExecutorCount() == 1 })

	ctx := context.Background()
	if err := s.StartSession(ctx, "group_1", "Game"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	_, err := s.Screenshot(ctx, "group_1", 0, "png")
	var execErr *ExecutorError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutorError, got %v", err)
	}
	if execErr.Message != "window is gone" {
		t.Errorf("message = %q, want %q", execErr.Message, "window is gone")
	}
}

func TestDisconnectFailsPendingAndReleasesClaims(t *testing.T) {
	s, url := newTestServer(t, 5*time.Second)
	ws := rawExecutor(t, url, func(cmd Command) *Response {
		if cmd.Action == ActionStartSession {
			return ackAll(cmd)
		}
		return nil // leave screenshots hanging
	})
	waitFor(t, "executor registration", func() bool { return s.ExecutorCount() == 1 })

	ctx := context.Background()
	if err := s.StartSession(ctx, "group_1", "Game"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Screenshot(ctx, "group_1", 0, "png")
		errCh <- err
	}()
	waitFor(t, "screenshot in flight", func() bool { return s.PendingCount() == 1 })

	_ = ws.Close(websocket.StatusNormalClosure, "gone")

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not failed on disconnect")
	}
	waitFor(t, "claim release", func() bool { return !s.SessionConnected("group_1") })
}

func TestClickClampsRatio(t *testing.T) {
	s, url := newTestServer(t, 5*time.Second)

	clicks := make(chan Command, 1)
	rawExecutor(t, url, func(cmd Command) *Response {
		switch cmd.Action {
		case ActionStartSession:
			return ackAll(cmd)
		case ActionClick:
			clicks <- cmd
		}
		return nil
	})
	waitFor(t, "executor registration", func() bool { return s.ExecutorCount() == 1 })

	ctx := context.Background()
	if err := s.StartSession(ctx, "group_1", "Game"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if err := s.Click(ctx, "group_1", coords.Ratio{X: 1.5, Y: -0.5}, native.InputPostMessage); err != nil {
		t.Fatalf("Click failed: %v", err)
	}

	select {
	case cmd := <-clicks:
		if *cmd.XRatio != 1 || *cmd.YRatio != 0 {
			t.Errorf("click ratio = (%v,%v), want clamped (1,0)", *cmd.XRatio, *cmd.YRatio)
		}
		if cmd.Method != string(native.InputPostMessage) {
			t.Errorf("method = %q, want PostMessage", cmd.Method)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("click never reached executor")
	}
}
