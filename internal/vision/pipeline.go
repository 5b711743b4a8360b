package vision

import "image"

// grayDiff computes the per-pixel absolute difference between the two
// images and reduces it to single-channel intensity using the standard
// luminance weights. Both images must share dimensions.
func grayDiff(a, b image.Image) *image.Gray {
	ab := a.Bounds()
	w, h := ab.Dx(), ab.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	bb := b.Bounds()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ar, ag, abl, _ := a.At(ab.Min.X+x, ab.Min.Y+y).RGBA()
			br, bg, bbl, _ := b.At(bb.Min.X+x, bb.Min.Y+y).RGBA()
			dr := absDiff(ar>>8, br>>8)
			dg := absDiff(ag>>8, bg>>8)
			db := absDiff(abl>>8, bbl>>8)
			// BT.601 luminance, integer arithmetic.
			out.Pix[out.PixOffset(x, y)] = uint8((299*dr + 587*dg + 114*db) / 1000)
		}
	}
	return out
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

// blur5 applies a separable 5-tap binomial blur (1 4 6 4 1)/16, a fixed
// approximation of a small Gaussian, to suppress compression and
// antialiasing noise. Edges clamp to the nearest valid pixel.
func blur5(src *image.Gray) *image.Gray {
	w := src.Bounds().Dx()
	h := src.Bounds().Dy()
	kernel := [5]uint32{1, 4, 6, 4, 1}

	tmp := image.NewGray(src.Bounds())
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum uint32
			for k := -2; k <= 2; k++ {
				xx := clampIdx(x+k, w)
				sum += kernel[k+2] * uint32(src.Pix[src.PixOffset(xx, y)])
			}
			tmp.Pix[tmp.PixOffset(x, y)] = uint8(sum / 16)
		}
	}
	out := image.NewGray(src.Bounds())
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum uint32
			for k := -2; k <= 2; k++ {
				yy := clampIdx(y+k, h)
				sum += kernel[k+2] * uint32(tmp.Pix[tmp.PixOffset(x, yy)])
			}
			out.Pix[out.PixOffset(x, y)] = uint8(sum / 16)
		}
	}
	return out
}

func clampIdx(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// otsu picks the binarization threshold maximizing between-class variance,
// making the split robust to annotation color and screenshot brightness.
func otsu(img *image.Gray) uint8 {
	var hist [256]int64
	for _, p := range img.Pix {
		hist[p]++
	}
	total := int64(len(img.Pix))
	if total == 0 {
		return 0
	}

	var sumAll int64
	for i, c := range hist {
		sumAll += int64(i) * c
	}

	var sumBack, weightBack int64
	var bestVar float64
	var best uint8
	for t := 0; t < 256; t++ {
		weightBack += hist[t]
		if weightBack == 0 {
			continue
		}
		weightFore := total - weightBack
		if weightFore == 0 {
			break
		}
		sumBack += int64(t) * hist[t]
		meanBack := float64(sumBack) / float64(weightBack)
		meanFore := float64(sumAll-sumBack) / float64(weightFore)
		d := meanBack - meanFore
		v := float64(weightBack) * float64(weightFore) * d * d
		if v > bestVar {
			bestVar = v
			best = uint8(t)
		}
	}
	return best
}

// threshold binarizes the image: pixels strictly above t become foreground.
func threshold(img *image.Gray, t uint8) *image.Gray {
	out := image.NewGray(img.Bounds())
	for i, p := range img.Pix {
		if p > t {
			out.Pix[i] = 255
		}
	}
	return out
}

// morphOpen erodes then dilates with a 3x3 structuring element,
// removing speckle noise.
func morphOpen(img *image.Gray) *image.Gray {
	return dilate3(erode3(img))
}

// morphClose dilates then erodes with a 3x3 structuring element,
// filling small gaps in the annotation stroke.
func morphClose(img *image.Gray) *image.Gray {
	return erode3(dilate3(img))
}

func erode3(img *image.Gray) *image.Gray {
	return morph3(img, func(minv, _ uint8) uint8 { return minv })
}

func dilate3(img *image.Gray) *image.Gray {
	return morph3(img, func(_, maxv uint8) uint8 { return maxv })
}

func morph3(img *image.Gray, pick func(minv, maxv uint8) uint8) *image.Gray {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	out := image.NewGray(img.Bounds())
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			minv := uint8(255)
			maxv := uint8(0)
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					v := img.Pix[img.PixOffset(clampIdx(x+dx, w), clampIdx(y+dy, h))]
					if v < minv {
						minv = v
					}
					if v > maxv {
						maxv = v
					}
				}
			}
			out.Pix[out.PixOffset(x, y)] = pick(minv, maxv)
		}
	}
	return out
}

// region accumulates the statistics of one connected foreground component.
type region struct {
	area int
	sumX int64
	sumY int64
	minX int
	minY int
	maxX int
	maxY int
}

// labelRegions finds 8-connected foreground components with an iterative
// flood fill. Scan order is fixed (row-major), so the returned slice order
// and contents are deterministic.
func labelRegions(img *image.Gray) []region {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	visited := make([]bool, w*h)
	var regions []region

	var stack []int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if visited[idx] || img.Pix[img.PixOffset(x, y)] == 0 {
				continue
			}
			r := region{minX: x, minY: y, maxX: x, maxY: y}
			stack = append(stack[:0], idx)
			visited[idx] = true
			for len(stack) > 0 {
				cur := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				cx, cy := cur%w, cur/w

				r.area++
				r.sumX += int64(cx)
				r.sumY += int64(cy)
				if cx < r.minX {
					r.minX = cx
				}
				if cx > r.maxX {
					r.maxX = cx
				}
				if cy < r.minY {
					r.minY = cy
				}
				if cy > r.maxY {
					r.maxY = cy
				}

				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := cx+dx, cy+dy
						if nx < 0 || ny < 0 || nx >= w || ny >= h {
							continue
						}
						nidx := ny*w + nx
						if !visited[nidx] && img.Pix[img.PixOffset(nx, ny)] != 0 {
							visited[nidx] = true
							stack = append(stack, nidx)
						}
					}
				}
			}
			regions = append(regions, r)
		}
	}
	return regions
}
