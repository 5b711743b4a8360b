// Package channel implements the command channel between the server and
// remote executors: one persistent websocket per executor, token-based
// handshake, JSON command envelopes, and request/response correlation.
package channel

import "errors"

// Actions understood by executors.
const (
	ActionStartSession = "startSession"
	ActionStopSession  = "stopSession"
	ActionScreenshot   = "screenshot"
	ActionClick        = "click"
	ActionPressKey     = "pressKey"
)

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// ErrNotConnected indicates no authenticated executor connection exists.
	ErrNotConnected = errors.New("no executor connected")
	// ErrSessionNotConnected indicates no connection claims the target session.
	ErrSessionNotConnected = errors.New("session not connected to any executor")
	// ErrTimeout indicates the executor did not answer before the deadline.
	ErrTimeout = errors.New("executor response timed out")
)

// ExecutorError carries a failure reported by the executor itself.
type ExecutorError struct {
	Message string
}

func (e *ExecutorError) Error() string {
	return "executor reported failure: " + e.Message
}

// AuthMessage is the first frame an executor sends after connecting.
type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// AuthReply acknowledges (or rejects) the handshake.
type AuthReply struct {
	Status string `json:"status"`
}

// AuthAccepted is the Status value of a successful handshake reply.
const AuthAccepted = "auth_success"

// Command is a server → executor instruction. RequestID is set whenever the
// sender awaits a correlated reply; any action may carry one, not only
// screenshot.
type Command struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
	RequestID string `json:"requestId,omitempty"`

	// startSession
	Title string `json:"title,omitempty"`

	// click
	XRatio *float64 `json:"x_ratio,omitempty"`
	YRatio *float64 `json:"y_ratio,omitempty"`

	// click / pressKey
	Method string `json:"method,omitempty"`

	// pressKey
	Key string `json:"key,omitempty"`

	// screenshot
	DelayMS int    `json:"delay_ms,omitempty"`
	Format  string `json:"format,omitempty"`
}

// Response is an executor → server reply correlated by RequestID.
type Response struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	// ImageData is base64-encoded image bytes for screenshot replies.
	ImageData string `json:"imageData,omitempty"`
	Error     string `json:"error,omitempty"`
}
