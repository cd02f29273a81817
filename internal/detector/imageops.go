package detector

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// plane is a single-channel 8-bit image stored row-major.
type plane struct {
	w, h int
	pix  []uint8
}

func newPlane(w, h int) *plane {
	return &plane{w: w, h: h, pix: make([]uint8, w*h)}
}

func (p *plane) at(x, y int) uint8 {
	return p.pix[y*p.w+x]
}

func (p *plane) set(x, y int, v uint8) {
	p.pix[y*p.w+x] = v
}

// blurSigma matches a 5x5 Gaussian kernel with automatic sigma.
const blurSigma = 1.1

// grayBlur converts the frame to luma and smooths it.
func grayBlur(img image.Image) *plane {
	g := imaging.Blur(imaging.Grayscale(img), blurSigma)
	b := g.Bounds()
	p := newPlane(b.Dx(), b.Dy())
	for y := 0; y < p.h; y++ {
		row := g.Pix[y*g.Stride:]
		for x := 0; x < p.w; x++ {
			p.pix[y*p.w+x] = row[x*4]
		}
	}
	return p
}

// cannyEdges runs Sobel gradients, non-maximum suppression and hysteresis
// thresholding. The gradient magnitude is |gx|+|gy|.
func cannyEdges(src *plane, low, high float64) *plane {
	w, h := src.w, src.h
	edges := newPlane(w, h)
	if w < 3 || h < 3 {
		return edges
	}

	mag := make([]float64, w*h)
	dir := make([]uint8, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			p := func(dx, dy int) float64 { return float64(src.at(x+dx, y+dy)) }
			gx := -p(-1, -1) - 2*p(-1, 0) - p(-1, 1) + p(1, -1) + 2*p(1, 0) + p(1, 1)
			gy := -p(-1, -1) - 2*p(0, -1) - p(1, -1) + p(-1, 1) + 2*p(0, 1) + p(1, 1)
			i := y*w + x
			mag[i] = math.Abs(gx) + math.Abs(gy)
			dir[i] = quantizeDirection(gx, gy)
		}
	}

	const (
		none   = 0
		weak   = 1
		strong = 2
	)
	class := make([]uint8, w*h)
	var stack []int
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			m := mag[i]
			if m <= low {
				continue
			}
			var a, b float64
			switch dir[i] {
			case 0: // horizontal gradient, compare left/right
				a, b = mag[i-1], mag[i+1]
			case 1: // 45 degrees, y grows downwards
				a, b = mag[i-w-1], mag[i+w+1]
			case 2: // vertical gradient, compare up/down
				a, b = mag[i-w], mag[i+w]
			default: // 135 degrees
				a, b = mag[i-w+1], mag[i+w-1]
			}
			if m < a || m <= b {
				continue
			}
			if m > high {
				class[i] = strong
				stack = append(stack, i)
			} else {
				class[i] = weak
			}
		}
	}

	// Hysteresis: weak pixels survive only when 8-connected to a strong one.
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if edges.pix[i] != 0 {
			continue
		}
		edges.pix[i] = 255
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if class[j] != none && edges.pix[j] == 0 {
					stack = append(stack, j)
				}
			}
		}
	}
	return edges
}

// quantizeDirection maps the gradient angle to one of four sectors:
// 0 horizontal, 1 at 45 degrees, 2 vertical, 3 at 135 degrees.
func quantizeDirection(gx, gy float64) uint8 {
	angle := math.Atan2(gy, gx) * 180 / math.Pi
	if angle < 0 {
		angle += 180
	}
	switch {
	case angle < 22.5 || angle >= 157.5:
		return 0
	case angle < 67.5:
		return 1
	case angle < 112.5:
		return 2
	default:
		return 3
	}
}

// hsvRange is an inclusive range on the 8-bit HSV scale where hue runs
// 0-180 and saturation and value run 0-255.
type hsvRange struct {
	lowH, lowS, lowV    float64
	highH, highS, highV float64
}

func (r hsvRange) contains(h, s, v float64) bool {
	return h >= r.lowH && h <= r.highH &&
		s >= r.lowS && s <= r.highS &&
		v >= r.lowV && v <= r.highV
}

// rgbToHSV converts 8-bit RGB to the 8-bit HSV scale.
func rgbToHSV(r, g, b uint8) (h, s, v float64) {
	rf, gf, bf := float64(r), float64(g), float64(b)
	mx := math.Max(rf, math.Max(gf, bf))
	mn := math.Min(rf, math.Min(gf, bf))
	v = mx
	if mx == 0 {
		return 0, 0, 0
	}
	delta := mx - mn
	s = math.Round(255 * delta / mx)
	if delta == 0 {
		return 0, s, v
	}

	var deg float64
	switch mx {
	case rf:
		deg = 60 * (gf - bf) / delta
	case gf:
		deg = 120 + 60*(bf-rf)/delta
	default:
		deg = 240 + 60*(rf-gf)/delta
	}
	if deg < 0 {
		deg += 360
	}
	return math.Round(deg / 2), s, v
}

// inRangeMask marks pixels whose HSV value falls inside r.
func inRangeMask(img image.Image, r hsvRange) *plane {
	n := imaging.Clone(img)
	b := n.Bounds()
	mask := newPlane(b.Dx(), b.Dy())
	for y := 0; y < mask.h; y++ {
		row := n.Pix[y*n.Stride:]
		for x := 0; x < mask.w; x++ {
			o := x * 4
			h, s, v := rgbToHSV(row[o], row[o+1], row[o+2])
			if r.contains(h, s, v) {
				mask.set(x, y, 255)
			}
		}
	}
	return mask
}

// morphClose dilates then erodes the mask with a size x size square.
func morphClose(m *plane, size int) *plane {
	return erode(dilate(m, size), size)
}

func dilate(m *plane, size int) *plane {
	return morph(m, size, func(acc, v uint8) uint8 { return max(acc, v) }, 0)
}

func erode(m *plane, size int) *plane {
	return morph(m, size, func(acc, v uint8) uint8 { return min(acc, v) }, 255)
}

// morph applies a separable square structuring element. Pixels outside the
// frame are ignored.
func morph(m *plane, size int, op func(acc, v uint8) uint8, init uint8) *plane {
	r := size / 2
	tmp := newPlane(m.w, m.h)
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			acc := init
			for k := max(0, x-r); k <= min(m.w-1, x+r); k++ {
				acc = op(acc, m.at(k, y))
			}
			tmp.set(x, y, acc)
		}
	}
	out := newPlane(m.w, m.h)
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			acc := init
			for k := max(0, y-r); k <= min(m.h-1, y+r); k++ {
				acc = op(acc, tmp.at(x, k))
			}
			out.set(x, y, acc)
		}
	}
	return out
}

// region is an 8-connected set of foreground pixels.
type region struct {
	Area   int
	Bounds image.Rectangle
}

// AspectRatio is bounds width over height, 0 for a zero height.
func (r region) AspectRatio() float64 {
	if r.Bounds.Dy() == 0 {
		return 0
	}
	return float64(r.Bounds.Dx()) / float64(r.Bounds.Dy())
}

// regions labels 8-connected foreground components in scan order.
func regions(m *plane) []region {
	seen := make([]bool, len(m.pix))
	var out []region
	var stack []int

	for start, v := range m.pix {
		if v == 0 || seen[start] {
			continue
		}
		seen[start] = true
		stack = append(stack[:0], start)
		sx, sy := start%m.w, start/m.w
		reg := region{Bounds: image.Rect(sx, sy, sx+1, sy+1)}

		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%m.w, i/m.w
			reg.Area++
			reg.Bounds = reg.Bounds.Union(image.Rect(x, y, x+1, y+1))

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= m.w || ny >= m.h {
						continue
					}
					j := ny*m.w + nx
					if m.pix[j] != 0 && !seen[j] {
						seen[j] = true
						stack = append(stack, j)
					}
				}
			}
		}
		out = append(out, reg)
	}
	return out
}
