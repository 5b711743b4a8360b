// Package vision extracts a click point from a user-annotated screenshot.
//
// The pipeline compares a clean capture against the user's marked-up copy:
// absolute difference, grayscale, blur, Otsu threshold, morphological
// open/close, connected-component selection, centroid. Every step is
// integer-deterministic: identical inputs always produce identical output.
package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"
	"os"

	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

var (
	// ErrDecode indicates an input image could not be decoded.
	ErrDecode = errors.New("cannot decode image")
	// ErrAspectMismatch indicates the annotated image's aspect ratio
	// deviates too far from the clean capture, suggesting an unrelated
	// or cropped upload.
	ErrAspectMismatch = errors.New("annotated image aspect ratio differs from screenshot")
	// ErrNoAnnotation indicates no qualifying marked region was found.
	ErrNoAnnotation = errors.New("no annotation detected")
	// ErrAnnotationTooLarge indicates the marked region covers most of the
	// frame and cannot identify a single click target.
	ErrAnnotationTooLarge = errors.New("annotation too large to locate a click target")
)

// Point is a pixel position in clean-screenshot space.
type Point struct {
	X int
	Y int
}

// Size is the clean screenshot's pixel dimensions.
type Size struct {
	Width  int
	Height int
}

const (
	// aspectTolerance bounds the difference between horizontal and
	// vertical scale factors before the upload is rejected.
	aspectTolerance = 0.2
	// minAreaFraction filters residual noise: regions below this share
	// of total image area are discarded.
	minAreaFraction = 0.0005
	// minAreaFloor keeps the noise filter meaningful on small captures.
	minAreaFloor = 60
)

// Extractor runs the annotation-difference pipeline.
type Extractor struct {
	// MaxRegionFraction rejects a winning region whose bounding box spans
	// more than this fraction of the image in both dimensions.
	MaxRegionFraction float64
}

// NewExtractor returns an Extractor with default selection limits.
func NewExtractor() *Extractor {
	return &Extractor{MaxRegionFraction: 0.85}
}

// ExtractFiles decodes both images from disk and runs Extract.
func (e *Extractor) ExtractFiles(cleanPath, annotatedPath string) (Point, Size, error) {
	clean, err := decodeFile(cleanPath)
	if err != nil {
		return Point{}, Size{}, err
	}
	annotated, err := decodeFile(annotatedPath)
	if err != nil {
		return Point{}, Size{}, err
	}
	return e.Extract(clean, annotated)
}

// Extract computes the centroid of the annotated region and returns it
// together with the clean image's dimensions, so the caller can derive a
// resolution-independent ratio.
func (e *Extractor) Extract(clean, annotated image.Image) (Point, Size, error) {
	cw := clean.Bounds().Dx()
	ch := clean.Bounds().Dy()
	if cw <= 0 || ch <= 0 {
		return Point{}, Size{}, fmt.Errorf("%w: empty screenshot", ErrDecode)
	}

	annotated, err := alignAnnotated(clean, annotated)
	if err != nil {
		return Point{}, Size{}, err
	}

	diff := grayDiff(clean, annotated)
	blurred := blur5(diff)
	binary := threshold(blurred, otsu(blurred))
	cleaned := morphClose(morphOpen(binary))

	regions := labelRegions(cleaned)
	if len(regions) == 0 {
		return Point{}, Size{}, fmt.Errorf("%w: use a clearly visible color and thicker strokes", ErrNoAnnotation)
	}

	minArea := minAreaFloor
	if frac := int(minAreaFraction * float64(cw) * float64(ch)); frac > minArea {
		minArea = frac
	}
	best := regions[0]
	found := false
	for _, r := range regions {
		if r.area < minArea {
			continue
		}
		if !found || r.area > best.area {
			best = r
			found = true
		}
	}
	if !found {
		return Point{}, Size{}, fmt.Errorf("%w: marked region too small", ErrNoAnnotation)
	}

	maxFrac := e.MaxRegionFraction
	if maxFrac <= 0 || maxFrac > 1 {
		maxFrac = 0.85
	}
	bw := best.maxX - best.minX + 1
	bh := best.maxY - best.minY + 1
	if float64(bw) > maxFrac*float64(cw) && float64(bh) > maxFrac*float64(ch) {
		return Point{}, Size{}, ErrAnnotationTooLarge
	}

	centroid := Point{
		X: int(best.sumX / int64(best.area)),
		Y: int(best.sumY / int64(best.area)),
	}
	return centroid, Size{Width: cw, Height: ch}, nil
}

func decodeFile(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	return img, nil
}

// alignAnnotated resamples the annotated image to the clean image's exact
// dimensions so the comparison is pixel-aligned. A large divergence between
// the two scale factors means the aspect ratio changed (cropped or
// unrelated image) and the comparison would be meaningless.
func alignAnnotated(clean, annotated image.Image) (image.Image, error) {
	cb := clean.Bounds()
	ab := annotated.Bounds()
	if ab.Dx() <= 0 || ab.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty annotated image", ErrDecode)
	}
	if cb.Dx() == ab.Dx() && cb.Dy() == ab.Dy() {
		return annotated, nil
	}

	scaleW := float64(cb.Dx()) / float64(ab.Dx())
	scaleH := float64(cb.Dy()) / float64(ab.Dy())
	if math.Abs(scaleW-scaleH) > aspectTolerance {
		return nil, ErrAspectMismatch
	}

	dst := image.NewRGBA(image.Rect(0, 0, cb.Dx(), cb.Dy()))
	scaler := xdraw.Scaler(xdraw.ApproxBiLinear)
	if scaleW > 1.0 || scaleH > 1.0 {
		scaler = xdraw.BiLinear
	}
	scaler.Scale(dst, dst.Bounds(), annotated, ab, xdraw.Src, nil)
	return dst, nil
}
