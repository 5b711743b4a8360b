package coords

import (
	"math"
	"testing"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		name string
		in   Ratio
		want Ratio
	}{
		{"in range", Ratio{0.25, 0.75}, Ratio{0.25, 0.75}},
		{"below zero", Ratio{-0.5, 0.5}, Ratio{0, 0.5}},
		{"above one", Ratio{1.5, 2.0}, Ratio{1, 1}},
		{"nan", Ratio{math.NaN(), 0.5}, Ratio{0, 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Clamp()
			if got != tt.want {
				t.Errorf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
			}
			if !got.Valid() {
				t.Errorf("Clamp(%v) produced invalid ratio %v", tt.in, got)
			}
		})
	}
}

func TestToPixels(t *testing.T) {
	px, py, err := Ratio{0.5, 0.5}.ToPixels(800, 600)
	if err != nil {
		t.Fatalf("ToPixels failed: %v", err)
	}
	// 0.5 * 799 rounds to 400, 0.5 * 599 rounds to 300.
	if px != 400 || py != 300 {
		t.Errorf("ToPixels(0.5,0.5, 800x600) = (%d,%d), want (400,300)", px, py)
	}
}

func TestToPixelsEndpoints(t *testing.T) {
	px, py, err := Ratio{1, 1}.ToPixels(800, 600)
	if err != nil {
		t.Fatalf("ToPixels failed: %v", err)
	}
	if px != 799 || py != 599 {
		t.Errorf("ratio 1.0 must map to last valid pixel, got (%d,%d)", px, py)
	}

	px, py, err = Ratio{0, 0}.ToPixels(800, 600)
	if err != nil {
		t.Fatalf("ToPixels failed: %v", err)
	}
	if px != 0 || py != 0 {
		t.Errorf("ratio 0.0 must map to origin, got (%d,%d)", px, py)
	}
}

func TestToPixelsRejectsInvalidInput(t *testing.T) {
	if _, _, err := (Ratio{0.5, 0.5}).ToPixels(0, 600); err == nil {
		t.Error("expected error for zero width")
	}
	if _, _, err := (Ratio{0.5, 0.5}).ToPixels(800, -1); err == nil {
		t.Error("expected error for negative height")
	}
	if _, _, err := (Ratio{math.NaN(), 0.5}).ToPixels(800, 600); err == nil {
		t.Error("expected error for NaN ratio")
	}
}

func TestFromPixelsRoundTrip(t *testing.T) {
	r := FromPixels(400, 300, 800, 600)
	px, py, err := r.ToPixels(800, 600)
	if err != nil {
		t.Fatalf("ToPixels failed: %v", err)
	}
	if px != 400 || py != 300 {
		t.Errorf("round trip gave (%d,%d), want (400,300)", px, py)
	}
}

func TestFromPixelsDegenerateAxis(t *testing.T) {
	r := FromPixels(5, 0, 1, 1)
	if !r.Valid() {
		t.Errorf("FromPixels on 1x1 image produced invalid ratio %v", r)
	}
}
