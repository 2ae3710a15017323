package diagnosis

import (
	"testing"

	"github.com/canopy-robotics/canopy-agent/internal/frame"
	"github.com/canopy-robotics/canopy-agent/pkg/plugin"
)

func solidRGB(w, h int, r, g, b byte) *frame.RGB {
	pix := make([]byte, w*h*3)
	for i := 0; i < len(pix); i += 3 {
		pix[i], pix[i+1], pix[i+2] = r, g, b
	}
	return &frame.RGB{Pix: pix, Width: w, Height: h, Stride: w * 3}
}

func TestComputeMaturityHint_BrightRedIsRipe(t *testing.T) {
	rgb := solidRGB(10, 10, 220, 20, 20)
	hint := ComputeMaturityHint(rgb, plugin.Rect{X: 0, Y: 0, W: 10, H: 10})
	if hint.Empty() {
		t.Fatalf("expected a non-empty hint")
	}
	if hint.Dominant != MaturityRipe {
		t.Fatalf("expected ripe, got %s (%v)", hint.Dominant, hint.Ratios)
	}
}

func TestComputeMaturityHint_DarkRedIsOverripe(t *testing.T) {
	rgb := solidRGB(10, 10, 70, 5, 5)
	hint := ComputeMaturityHint(rgb, plugin.Rect{X: 0, Y: 0, W: 10, H: 10})
	if hint.Dominant != MaturityOverripe {
		t.Fatalf("expected overripe, got %s (%v)", hint.Dominant, hint.Ratios)
	}
}

func TestComputeMaturityHint_GreenIsUnripe(t *testing.T) {
	rgb := solidRGB(10, 10, 20, 200, 20)
	hint := ComputeMaturityHint(rgb, plugin.Rect{X: 0, Y: 0, W: 10, H: 10})
	if hint.Dominant != MaturityUnripe {
		t.Fatalf("expected unripe, got %s (%v)", hint.Dominant, hint.Ratios)
	}
}

func TestComputeMaturityHint_YellowIsPartiallyRipe(t *testing.T) {
	rgb := solidRGB(10, 10, 210, 190, 20)
	hint := ComputeMaturityHint(rgb, plugin.Rect{X: 0, Y: 0, W: 10, H: 10})
	if hint.Dominant != MaturityPartiallyRipe {
		t.Fatalf("expected partially_ripe, got %s (%v)", hint.Dominant, hint.Ratios)
	}
}

func TestComputeMaturityHint_GrayBackgroundIsEmpty(t *testing.T) {
	rgb := solidRGB(10, 10, 128, 128, 128)
	hint := ComputeMaturityHint(rgb, plugin.Rect{X: 0, Y: 0, W: 10, H: 10})
	if !hint.Empty() {
		t.Fatalf("expected empty hint for unsaturated gray, got %v", hint)
	}
}

func TestComputeMaturityHint_ZeroAreaBoxIsEmpty(t *testing.T) {
	rgb := solidRGB(10, 10, 220, 20, 20)
	hint := ComputeMaturityHint(rgb, plugin.Rect{X: 0, Y: 0, W: 0, H: 0})
	if !hint.Empty() {
		t.Fatalf("expected empty hint for a zero-area box")
	}
}

func TestComputeMaturityHint_BoxClippedToFrameBounds(t *testing.T) {
	rgb := solidRGB(10, 10, 220, 20, 20)
	hint := ComputeMaturityHint(rgb, plugin.Rect{X: 5, Y: 5, W: 50, H: 50})
	if hint.Dominant != MaturityRipe {
		t.Fatalf("expected ripe from the clipped in-bounds region, got %s", hint.Dominant)
	}
}

func TestMaturityHint_PromptContextMentionsDominantClass(t *testing.T) {
	hint := MaturityHint{Dominant: MaturityRipe, Ratios: map[MaturityClass]float64{MaturityRipe: 0.8}}
	ctx := hint.PromptContext()
	if ctx == "" {
		t.Fatalf("expected non-empty prompt context")
	}
}

func TestMaturityHint_EmptyPromptContextIsBlank(t *testing.T) {
	if (MaturityHint{}).PromptContext() != "" {
		t.Fatalf("expected blank prompt context for an empty hint")
	}
}
