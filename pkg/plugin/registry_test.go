package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopy-robotics/canopy-agent/internal/frame"
)

type stubDetector struct{ name string }

func (s *stubDetector) Name() string                  { return s.name }
func (s *stubDetector) Init(cfg map[string]any) error { return nil }
func (s *stubDetector) Detect(ctx context.Context, f *frame.Frame) (*frame.Frame, Summary, []Detection, error) {
	return f, Summary{}, nil, nil
}

func TestRegisterAndGetDetector(t *testing.T) {
	RegisterDetector("stub-detector-1", func() Detector { return &stubDetector{name: "stub-detector-1"} })

	factory, err := GetDetectorFactory("stub-detector-1")
	require.NoError(t, err)
	assert.Equal(t, "stub-detector-1", factory().Name())

	assert.Contains(t, ListDetectors(), "stub-detector-1")
}

func TestGetDetectorFactory_NotFound(t *testing.T) {
	_, err := GetDetectorFactory("does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterDetector_DuplicatePanics(t *testing.T) {
	RegisterDetector("stub-detector-dup", func() Detector { return &stubDetector{} })
	assert.Panics(t, func() {
		RegisterDetector("stub-detector-dup", func() Detector { return &stubDetector{} })
	})
}

type stubProvider struct{ name string }

func (s *stubProvider) Name() string                                         { return s.name }
func (s *stubProvider) Init(cfg map[string]any) error                        { return nil }
func (s *stubProvider) GenerateMaskPrompt(ctx context.Context, image []byte) (string, error) {
	return "diseased region", nil
}
func (s *stubProvider) Diagnose(ctx context.Context, req DiagnoseRequest) (string, error) {
	return "# Summary\nstub", nil
}

func TestRegisterAndGetProvider(t *testing.T) {
	RegisterProvider("stub-provider-1", func() Provider { return &stubProvider{name: "stub-provider-1"} })

	factory, err := GetProviderFactory("stub-provider-1")
	require.NoError(t, err)
	assert.Equal(t, "stub-provider-1", factory().Name())
	assert.Contains(t, ListProviders(), "stub-provider-1")
}

func TestGetProviderFactory_NotFound(t *testing.T) {
	_, err := GetProviderFactory("does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}
