package vision

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"testing"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img
}

func markRect(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	draw.Draw(img, image.Rect(x0, y0, x1, y1), &image.Uniform{c}, image.Point{}, draw.Src)
}

func TestExtractCenteredMark(t *testing.T) {
	clean := solidImage(800, 600, color.White)
	annotated := solidImage(800, 600, color.White)
	// 20x20 red mark centered at (400, 300).
	markRect(annotated, 390, 290, 410, 310, color.RGBA{R: 255, A: 255})

	pt, size, err := NewExtractor().Extract(clean, annotated)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if size.Width != 800 || size.Height != 600 {
		t.Errorf("size = %dx%d, want 800x600", size.Width, size.Height)
	}
	if abs(pt.X-400) > 3 || abs(pt.Y-300) > 3 {
		t.Errorf("centroid = (%d,%d), want within 3px of (400,300)", pt.X, pt.Y)
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	clean := solidImage(320, 240, color.RGBA{R: 40, G: 40, B: 60, A: 255})
	annotated := solidImage(320, 240, color.RGBA{R: 40, G: 40, B: 60, A: 255})
	markRect(annotated, 100, 60, 130, 85, color.RGBA{R: 250, G: 20, B: 20, A: 255})

	first, firstSize, err := NewExtractor().Extract(clean, annotated)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	second, secondSize, err := NewExtractor().Extract(clean, annotated)
	if err != nil {
		t.Fatalf("second Extract failed: %v", err)
	}
	if first != second || firstSize != secondSize {
		t.Errorf("extraction not deterministic: (%v,%v) vs (%v,%v)", first, firstSize, second, secondSize)
	}
}

func TestExtractResamplesSmallerAnnotation(t *testing.T) {
	clean := solidImage(800, 600, color.White)
	// Annotated copy at half resolution, mark centered at (200, 150).
	annotated := solidImage(400, 300, color.White)
	markRect(annotated, 195, 145, 205, 155, color.RGBA{R: 255, A: 255})

	pt, size, err := NewExtractor().Extract(clean, annotated)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if size.Width != 800 || size.Height != 600 {
		t.Errorf("size = %dx%d, want clean dimensions 800x600", size.Width, size.Height)
	}
	if abs(pt.X-400) > 6 || abs(pt.Y-300) > 6 {
		t.Errorf("centroid = (%d,%d), want near (400,300)", pt.X, pt.Y)
	}
}

func TestExtractRejectsAspectMismatch(t *testing.T) {
	clean := solidImage(800, 600, color.White)
	annotated := solidImage(400, 400, color.White)

	_, _, err := NewExtractor().Extract(clean, annotated)
	if !errors.Is(err, ErrAspectMismatch) {
		t.Errorf("expected ErrAspectMismatch, got %v", err)
	}
}

func TestExtractRejectsIdenticalImages(t *testing.T) {
	clean := solidImage(800, 600, color.White)
	annotated := solidImage(800, 600, color.White)

	_, _, err := NewExtractor().Extract(clean, annotated)
	if !errors.Is(err, ErrNoAnnotation) {
		t.Errorf("expected ErrNoAnnotation, got %v", err)
	}
}

func TestExtractRejectsTinyMark(t *testing.T) {
	clean := solidImage(800, 600, color.White)
	annotated := solidImage(800, 600, color.White)
	// Far below the minimum-area filter.
	markRect(annotated, 400, 300, 403, 303, color.RGBA{R: 255, A: 255})

	_, _, err := NewExtractor().Extract(clean, annotated)
	if !errors.Is(err, ErrNoAnnotation) {
		t.Errorf("expected ErrNoAnnotation, got %v", err)
	}
}

func TestExtractRejectsFullFrameScribble(t *testing.T) {
	clean := solidImage(800, 600, color.White)
	annotated := solidImage(800, 600, color.White)
	markRect(annotated, 10, 10, 790, 590, color.RGBA{R: 255, A: 255})

	_, _, err := NewExtractor().Extract(clean, annotated)
	if !errors.Is(err, ErrAnnotationTooLarge) {
		t.Errorf("expected ErrAnnotationTooLarge, got %v", err)
	}
}

func TestExtractPicksLargestRegion(t *testing.T) {
	clean := solidImage(800, 600, color.White)
	annotated := solidImage(800, 600, color.White)
	markRect(annotated, 100, 100, 120, 120, color.RGBA{R: 255, A: 255})
	markRect(annotated, 500, 400, 560, 460, color.RGBA{B: 255, A: 255})

	pt, _, err := NewExtractor().Extract(clean, annotated)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if abs(pt.X-530) > 4 || abs(pt.Y-430) > 4 {
		t.Errorf("centroid = (%d,%d), want the larger mark near (530,430)", pt.X, pt.Y)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
