// Package buttons persists registered button coordinates as a two-level
// window → name → record mapping in a single human-editable JSON file.
package buttons

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/velvetkey/winpilot/internal/coords"
)

// ErrNotFound is returned when a window or button name is absent.
var ErrNotFound = errors.New("button not found")

// Record is one registered button. Unknown fields present in the file
// (provenance metadata written by other tools) are carried in Extra and
// written back verbatim on the next save.
type Record struct {
	Ratio coords.Ratio
	Extra map[string]json.RawMessage
}

// MarshalJSON flattens the ratio and extra fields into one object.
func (r Record) MarshalJSON() ([]byte, error) {
	obj := make(map[string]json.RawMessage, len(r.Extra)+2)
	for k, v := range r.Extra {
		obj[k] = v
	}
	x, err := json.Marshal(r.Ratio.X)
	if err != nil {
		return nil, err
	}
	y, err := json.Marshal(r.Ratio.Y)
	if err != nil {
		return nil, err
	}
	obj["x_ratio"] = x
	obj["y_ratio"] = y
	return json.Marshal(obj)
}

// UnmarshalJSON picks out the coordinate fields and keeps the rest opaque.
func (r *Record) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if raw, ok := obj["x_ratio"]; ok {
		if err := json.Unmarshal(raw, &r.Ratio.X); err != nil {
			return fmt.Errorf("x_ratio: %w", err)
		}
		delete(obj, "x_ratio")
	}
	if raw, ok := obj["y_ratio"]; ok {
		if err := json.Unmarshal(raw, &r.Ratio.Y); err != nil {
			return fmt.Errorf("y_ratio: %w", err)
		}
		delete(obj, "y_ratio")
	}
	r.Ratio = r.Ratio.Clamp()
	if len(obj) > 0 {
		r.Extra = obj
	} else {
		r.Extra = nil
	}
	return nil
}

// Store owns the button mapping and serializes all mutation around a full
// file rewrite. The in-memory state stays authoritative even when a write
// fails; callers log the returned error and keep going.
type Store struct {
	mu   sync.Mutex
	path string
	data map[string]map[string]Record
}

// Open loads the store from path. A missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, data: make(map[string]map[string]Record)}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read button store: %w", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parse button store %s: %w", path, err)
	}
	if s.data == nil {
		s.data = make(map[string]map[string]Record)
	}
	return s, nil
}

// Get returns the record for (window, name).
func (s *Store) Get(window, name string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[window][name]
	return rec, ok
}

// Has reports whether (window, name) exists.
func (s *Store) Has(window, name string) bool {
	_, ok := s.Get(window, name)
	return ok
}

// List returns the button names registered for a window, sorted.
func (s *Store) List(window string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.data[window]))
	for name := range s.data[window] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Put creates or overwrites (window, name) and rewrites the file. The
// in-memory mutation is applied even when the rewrite fails.
func (s *Store) Put(window, name string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[window] == nil {
		s.data[window] = make(map[string]Record)
	}
	s.data[window][name] = rec
	return s.save()
}

// Delete removes (window, name), pruning the window entry when it becomes
// empty, and rewrites the file.
func (s *Store) Delete(window, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.data[window]
	if !ok {
		return fmt.Errorf("%w: window %q", ErrNotFound, window)
	}
	if _, ok := w[name]; !ok {
		return fmt.Errorf("%w: %q in window %q", ErrNotFound, name, window)
	}
	delete(w, name)
	if len(w) == 0 {
		delete(s.data, window)
	}
	return s.save()
}

// save rewrites the whole file atomically: write a sibling temp file, then
// rename over the target. Callers must hold s.mu.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create button store directory: %w", err)
	}
	out, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode button store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("write button store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace button store: %w", err)
	}
	return nil
}
