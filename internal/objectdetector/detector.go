// Package objectdetector implements C3: an object-detector plugin that
// runs a trained model over a frame and returns boxes+labels plus a
// drawn annotation. The model inference itself is a pluggable Backend
// (spec treats the YOLO/detector inference as an external collaborator,
// §1); canopy-agent supplies the detection-to-summary-to-annotation
// plumbing and a no-op backend usable when no model is loaded.
package objectdetector

import (
	"context"
	"fmt"
	"sort"

	"github.com/canopy-robotics/canopy-agent/internal/frame"
	"github.com/canopy-robotics/canopy-agent/pkg/plugin"
)

// RawDetection is what a Backend reports, in the RGB image's own pixel
// coordinates (same coordinate space as the frame passed to Infer).
type RawDetection struct {
	ClassID    int
	ClassName  string
	BBox       plugin.Rect
	Confidence float64
}

// Backend performs the actual model inference. Implementations are free to
// wrap any trained model; canopy-agent does not re-specify the model
// format, matching spec's "YOLO / marker-decoding inference itself" scope
// exclusion.
type Backend interface {
	Infer(ctx context.Context, img *frame.RGB) ([]RawDetection, error)
}

// NopBackend never finds anything; it is the default when no model is
// loaded into the registry, matching §4.2's "legal no-op" requirement.
type NopBackend struct{}

func (NopBackend) Infer(context.Context, *frame.RGB) ([]RawDetection, error) { return nil, nil }

// Color is a B,G,R annotation color, matching frame's native channel order.
type Color struct{ B, G, R byte }

// Detector is C3. It owns its confidence/IoU thresholds and its
// annotation color palette.
type Detector struct {
	name            string
	backend         Backend
	confThreshold   float64
	iouThreshold    float64
	palette         map[string]Color
	defaultColor    Color
}

var _ plugin.Detector = (*Detector)(nil)

// New builds a Detector. A nil backend is replaced with NopBackend so a
// misconfigured deployment degrades to "no detections" rather than a nil
// dereference deep in the pipeline.
func New(name string, backend Backend, confThreshold, iouThreshold float64) *Detector {
	if backend == nil {
		backend = NopBackend{}
	}
	if confThreshold <= 0 {
		confThreshold = 0.4
	}
	if iouThreshold <= 0 {
		iouThreshold = 0.5
	}
	return &Detector{
		name:          name,
		backend:       backend,
		confThreshold: confThreshold,
		iouThreshold:  iouThreshold,
		palette:       map[string]Color{},
		defaultColor:  Color{B: 0, G: 200, R: 0},
	}
}

func (d *Detector) Name() string { return d.name }

// Init accepts confidence/IoU overrides from the plugin configuration map;
// the class->color palette is set with SetColor, not through Init.
func (d *Detector) Init(cfg map[string]any) error {
	if v, ok := cfg["confidence_threshold"].(float64); ok {
		d.confThreshold = v
	}
	if v, ok := cfg["iou_threshold"].(float64); ok {
		d.iouThreshold = v
	}
	return nil
}

// SetColor assigns an annotation color for a class label.
func (d *Detector) SetColor(className string, c Color) {
	d.palette[className] = c
}

// Detect implements plugin.Detector. It consumes and returns channel-order
// native frames; the conversion to RGB for inference is internal.
func (d *Detector) Detect(ctx context.Context, f *frame.Frame) (*frame.Frame, plugin.Summary, []plugin.Detection, error) {
	rgb := f.ToRGB()
	raw, err := d.backend.Infer(ctx, rgb)
	if err != nil {
		return f, plugin.Summary{}, nil, fmt.Errorf("objectdetector %s: infer: %w", d.name, err)
	}

	annotated := f.Clone()
	summary := plugin.Summary{Counts: map[string]int{}}
	var detections []plugin.Detection

	for _, r := range raw {
		if r.Confidence < d.confThreshold {
			continue
		}
		color, ok := d.palette[r.ClassName]
		if !ok {
			color = d.defaultColor
		}
		drawBox(annotated, r.BBox, color)

		summary.Counts[r.ClassName]++
		summary.Total++
		detections = append(detections, plugin.Detection{
			ClassID: r.ClassID, ClassName: r.ClassName, BBox: r.BBox, Confidence: r.Confidence,
		})
	}

	return annotated, summary, detections, nil
}

func init() {
	plugin.RegisterDetector("noop", func() plugin.Detector {
		return New("noop", NopBackend{}, 0.4, 0.5)
	})
}

func drawBox(f *frame.Frame, r plugin.Rect, c Color) {
	set := func(x, y int) {
		if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
			return
		}
		i := y*f.Stride + x*3
		if i+2 >= len(f.Pix) {
			return
		}
		f.Pix[i], f.Pix[i+1], f.Pix[i+2] = c.B, c.G, c.R
	}
	for x := r.X; x < r.X+r.W; x++ {
		set(x, r.Y)
		set(x, r.Y+r.H-1)
	}
	for y := r.Y; y < r.Y+r.H; y++ {
		set(r.X, y)
		set(r.X+r.W-1, y)
	}
}

// SortedClassNames is a small convenience for components (e.g. the control
// plane's object_summary event) that want deterministic class ordering.
func SortedClassNames(s plugin.Summary) []string {
	names := make([]string, 0, len(s.Counts))
	for name := range s.Counts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
