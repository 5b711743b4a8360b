package detect

import (
	"context"
	"image"
	"testing"

	"github.com/velvetkey/winpilot/internal/coords"
)

type fixed struct{}

func (fixed) Detect(context.Context, image.Image) ([]Candidate, error) {
	return []Candidate{{Label: "ok", At: coords.Ratio{X: 0.5, Y: 0.5}, Confidence: 1}}, nil
}

func TestNoneDetectsNothing(t *testing.T) {
	d, err := New("none")
	if err != nil {
		t.Fatalf("New(none) failed: %v", err)
	}
	got, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 1, 1)))
	if err != nil || got != nil {
		t.Errorf("None.Detect = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestUnknownDetector(t *testing.T) {
	if _, err := New("cascade"); err == nil {
		t.Error("expected error for unregistered detector")
	}
}

func TestRegisterAndNew(t *testing.T) {
	Register("fixed", func() Detector { return fixed{} })
	d, err := New("fixed")
	if err != nil {
		t.Fatalf("New(fixed) failed: %v", err)
	}
	got, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 1, 1)))
	if err != nil || len(got) != 1 || got[0].Label != "ok" {
		t.Errorf("registered detector misbehaved: %v, %v", got, err)
	}
}
