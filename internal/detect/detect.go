// Package detect is the extension point for automatic UI element detection
// on captured frames. The built-in detector does nothing; richer detectors
// register themselves by name.
package detect

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/velvetkey/winpilot/internal/coords"
)

// Candidate is one detected clickable element.
type Candidate struct {
	Label      string
	At         coords.Ratio
	Confidence float64
}

// Detector proposes click candidates for a frame.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]Candidate, error)
}

// None is the default detector and never proposes anything.
type None struct{}

func (None) Detect(context.Context, image.Image) ([]Candidate, error) {
	return nil, nil
}

var (
	mu        sync.Mutex
	detectors = map[string]func() Detector{
		"none": func() Detector { return None{} },
	}
)

// Register makes a detector constructor available under name. Registering
// an existing name replaces it.
func Register(name string, ctor func() Detector) {
	mu.Lock()
	defer mu.Unlock()
	detectors[name] = ctor
}

// New builds the detector registered under name.
func New(name string) (Detector, error) {
	mu.Lock()
	ctor, ok := detectors[name]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown detector %q (available: %v)", name, Names())
	}
	return ctor(), nil
}

// Names lists registered detector names, sorted.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(detectors))
	for n := range detectors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
