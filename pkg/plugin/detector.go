package plugin

import (
	"context"
	"fmt"
	"sort"

	"github.com/canopy-robotics/canopy-agent/internal/frame"
)

// Rect is a pixel-space bounding box in full-frame coordinates.
type Rect struct {
	X, Y, W, H int
}

// Detection is a single box a C3 object-detector plugin found.
type Detection struct {
	ClassID    int
	ClassName  string
	BBox       Rect
	Confidence float64
}

// Summary aggregates a detection pass by class label plus a total count.
type Summary struct {
	Counts map[string]int
	Total  int
}

// Detector is the capability surface an object-detector plugin exposes. It
// consumes and returns channel-order native frames; any conversion to an
// inference-native color order is internal to the implementation. A
// detector with no loaded model is a legal no-op: it returns the input
// frame unannotated and an empty summary.
type Detector interface {
	Lifecycle
	Detect(ctx context.Context, f *frame.Frame) (*frame.Frame, Summary, []Detection, error)
}

// DetectorFactory returns a new, unconfigured Detector instance.
type DetectorFactory func() Detector

var detectorRegistry = make(map[string]DetectorFactory)

// RegisterDetector registers a detector factory under name. Panics on an
// empty name, a nil factory or a duplicate registration, since all three
// indicate a compile-time wiring bug rather than a runtime condition.
func RegisterDetector(name string, factory DetectorFactory) {
	if name == "" {
		panic("plugin: detector name cannot be empty")
	}
	if factory == nil {
		panic("plugin: detector factory cannot be nil")
	}
	if _, exists := detectorRegistry[name]; exists {
		panic(fmt.Sprintf("plugin: detector %q already registered", name))
	}
	detectorRegistry[name] = factory
}

// GetDetectorFactory returns the factory registered under name.
func GetDetectorFactory(name string) (DetectorFactory, error) {
	factory, ok := detectorRegistry[name]
	if !ok {
		return nil, fmt.Errorf("detector %q: %w", name, ErrNotFound)
	}
	return factory, nil
}

// ListDetectors returns the sorted names of every registered detector.
func ListDetectors() []string {
	names := make([]string, 0, len(detectorRegistry))
	for name := range detectorRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
