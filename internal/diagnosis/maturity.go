package diagnosis

import (
	"fmt"
	"math"

	"github.com/canopy-robotics/canopy-agent/internal/frame"
	"github.com/canopy-robotics/canopy-agent/pkg/plugin"
)

// MaturityClass is one of the four ripeness bands the upstream YOLO-based
// strawberry_maturity_analyzer classified fruit into.
type MaturityClass string

const (
	MaturityUnripe        MaturityClass = "unripe"
	MaturityPartiallyRipe MaturityClass = "partially_ripe"
	MaturityRipe          MaturityClass = "ripe"
	MaturityOverripe      MaturityClass = "overripe"
)

// maturityClassOrder fixes the tie-break order when two bands score an
// equal ratio: the riper reading wins, since it is the more actionable one
// to surface in a pre-stage0 hint.
var maturityClassOrder = []MaturityClass{MaturityOverripe, MaturityRipe, MaturityPartiallyRipe, MaturityUnripe}

// MaturityHint is a deterministic, non-ML maturity estimate computed from
// HSV color ratios over a detected bounding box. It stands in for the
// YOLO classifier strawberry_maturity_analyzer.py used, without requiring
// a model: purely additive context folded into stage 1's mask prompt, it
// never gates ShouldTrigger or Execute.
type MaturityHint struct {
	Dominant MaturityClass
	Ratios   map[MaturityClass]float64
}

// Empty reports whether no pixel in the box classified into any band, e.g.
// an all-background region or a degenerate (zero-area) box.
func (h MaturityHint) Empty() bool {
	return h.Dominant == ""
}

// PromptContext renders the hint as a short clause for stage 1's mask
// prompt synthesis.
func (h MaturityHint) PromptContext() string {
	if h.Empty() {
		return ""
	}
	return fmt.Sprintf("fruit color over the detected region suggests %s maturity (%.0f%% of sampled pixels)", h.Dominant, h.Ratios[h.Dominant]*100)
}

// ComputeMaturityHint scores the pixels inside box (clipped to rgb's
// bounds) against the four color bands strawberry_maturity_analyzer.py's
// color_map encoded (unripe green, partially_ripe yellow, ripe red,
// overripe dark red), and returns the dominant one by pixel-count ratio.
// A box with no classified pixels returns a zero-value, Empty hint.
func ComputeMaturityHint(rgb *frame.RGB, box plugin.Rect) MaturityHint {
	x0, y0, x1, y1 := clipMaturityBox(box, rgb.Width, rgb.Height)
	if x1 <= x0 || y1 <= y0 {
		return MaturityHint{}
	}

	counts := make(map[MaturityClass]int, len(maturityClassOrder))
	total := 0
	for y := y0; y < y1; y++ {
		base := y * rgb.Stride
		for x := x0; x < x1; x++ {
			i := base + x*3
			if i+2 >= len(rgb.Pix) {
				continue
			}
			h, s, v := maturityHSV(float64(rgb.Pix[i]), float64(rgb.Pix[i+1]), float64(rgb.Pix[i+2]))
			class, ok := classifyMaturity(h, s, v)
			if !ok {
				continue
			}
			counts[class]++
			total++
		}
	}
	if total == 0 {
		return MaturityHint{}
	}

	ratios := make(map[MaturityClass]float64, len(counts))
	var dominant MaturityClass
	var dominantRatio float64
	for _, class := range maturityClassOrder {
		ratio := float64(counts[class]) / float64(total)
		ratios[class] = ratio
		if ratio > dominantRatio {
			dominantRatio = ratio
			dominant = class
		}
	}
	if dominant == "" {
		return MaturityHint{}
	}
	return MaturityHint{Dominant: dominant, Ratios: ratios}
}

func clipMaturityBox(box plugin.Rect, width, height int) (x0, y0, x1, y1 int) {
	x0, y0 = box.X, box.Y
	x1, y1 = box.X+box.W, box.Y+box.H
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > width {
		x1 = width
	}
	if y1 > height {
		y1 = height
	}
	return
}

// classifyMaturity buckets one HSV sample (half-range hue in [0,180],
// matching internal/segmentation's OpenCV-style convention) into a
// maturity band. Ripe and overripe share the same red hue band; value
// separates the bright, fully ripe red from the darkening overripe red.
func classifyMaturity(h, s, v float64) (MaturityClass, bool) {
	red := (h >= 0 && h <= 10) || (h >= 160 && h <= 180)
	switch {
	case red && s >= 0.25 && v >= 0.35:
		return MaturityRipe, true
	case red && s >= 0.2 && v >= 0.1 && v < 0.35:
		return MaturityOverripe, true
	case h > 15 && h <= 34 && s >= 0.3:
		return MaturityPartiallyRipe, true
	case h > 34 && h <= 85 && s >= 0.25:
		return MaturityUnripe, true
	default:
		return "", false
	}
}

// maturityHSV converts 8-bit RGB to half-range HSV (hue in [0,180]), the
// same convention internal/segmentation/fallback.go's rgbToHSV uses.
func maturityHSV(r, g, b float64) (h, s, v float64) {
	r, g, b = r/255, g/255, b/255
	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	delta := maxC - minC

	v = maxC
	if maxC == 0 {
		s = 0
	} else {
		s = delta / maxC
	}

	if delta == 0 {
		h = 0
	} else {
		switch maxC {
		case r:
			h = 60 * math.Mod((g-b)/delta, 6)
		case g:
			h = 60 * ((b-r)/delta + 2)
		default:
			h = 60 * ((r-g)/delta + 4)
		}
	}
	if h < 0 {
		h += 360
	}
	return h / 2, s, v
}
