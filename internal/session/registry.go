// Package session tracks active automation sessions keyed by conversation.
package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/velvetkey/winpilot/internal/native"
)

// Session holds the state of one driven window for one conversation.
type Session struct {
	Key         string
	WindowTitle string
	// Window is only populated in local mode; remote executors keep their
	// own session → handle table.
	Window native.WindowHandle
	// SavePath is the working file for the most recent capture.
	SavePath string

	lastAction time.Time
}

// Registry is the single owner of all session state. Every user-visible
// automation action passes through TryTrigger, which enforces the cooldown.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the session for key, or nil.
func (r *Registry) Get(key string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[key]
}

// GetOrCreate returns the existing session for key or creates a fresh one.
// The second return reports whether the session was newly created.
func (r *Registry) GetOrCreate(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		return s, false
	}
	s := &Session{Key: key}
	r.sessions[key] = s
	slog.Info("Session created", "session", key)
	return s, true
}

// Remove deletes the session for key, if present.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[key]; ok {
		delete(r.sessions, key)
		slog.Info("Session removed", "session", key)
	}
}

// TryTrigger applies the cooldown policy: it returns false, leaving state
// unchanged, when less than cooldown has elapsed since the last allowed
// trigger; otherwise it records now as the last action and returns true.
func (r *Registry) TryTrigger(key string, now time.Time, cooldown time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return false
	}
	if now.Sub(s.lastAction) < cooldown {
		return false
	}
	s.lastAction = now
	return true
}

// Keys returns all active session keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
