package framepipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/canopy-robotics/canopy-agent/internal/driver"
	"github.com/canopy-robotics/canopy-agent/internal/frame"
	"github.com/canopy-robotics/canopy-agent/internal/marker"
	"github.com/canopy-robotics/canopy-agent/pkg/plugin"
)

type fakeDecoder struct {
	text string
	once sync.Once
}

func (f *fakeDecoder) DecodeAll(img *frame.RGB) []marker.RawCode {
	var out []marker.RawCode
	f.once.Do(func() {
		out = []marker.RawCode{{Text: f.text, BBox: marker.Rect{W: 10, H: 10}}}
	})
	return out
}

type recordingPublisher struct {
	mu          sync.Mutex
	frames      int
	observations []marker.Observation
	cooldowns   []int
}

func (p *recordingPublisher) PublishFrame(jpeg []byte, seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames++
}
func (p *recordingPublisher) PublishDetectionSummary(summary plugin.Summary) {}
func (p *recordingPublisher) PublishMarkerObservation(obs marker.Observation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observations = append(p.observations, obs)
}
func (p *recordingPublisher) PublishMarkerCooldown(plantID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cooldowns = append(p.cooldowns, plantID)
}

type fakeTrigger struct {
	mu        sync.Mutex
	allow     bool
	submitted []int
}

func (t *fakeTrigger) ShouldTrigger(plantID int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allow
}
func (t *fakeTrigger) Submit(plantID int, f *frame.Frame, box plugin.Rect) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.submitted = append(t.submitted, plantID)
}

func solidFrame(seq uint64, w, h int) *frame.Frame {
	pix := make([]byte, w*h*3)
	for i := range pix {
		pix[i] = 128
	}
	return frame.New(pix, w, h, w*3, seq, int64(seq))
}

func TestPipeline_DropsStaleFrames(t *testing.T) {
	sim := driver.NewSim()
	sim.Connect(context.Background())
	sim.Push(solidFrame(1, 8, 8))

	pub := &recordingPublisher{}
	p := New(sim, nil, nil, nil, pub)

	_, ok := p.tick(context.Background())
	if !ok {
		t.Fatalf("expected first tick to process the frame")
	}
	_, ok = p.tick(context.Background())
	if ok {
		t.Fatalf("expected second tick on the same frame to be dropped")
	}
	if pub.frames != 1 {
		t.Fatalf("expected exactly one published frame, got %d", pub.frames)
	}
}

func TestPipeline_MarkerObservationTriggersDiagnosis(t *testing.T) {
	sim := driver.NewSim()
	sim.Connect(context.Background())
	sim.Push(solidFrame(1, 8, 8))

	markerDet := marker.New(&fakeDecoder{text: "plant-99"}, time.Minute)
	trigger := &fakeTrigger{allow: true}
	pub := &recordingPublisher{}

	p := New(sim, nil, markerDet, trigger, pub)
	p.SetMarkerDetectionEnabled(true)

	if _, ok := p.tick(context.Background()); !ok {
		t.Fatalf("expected tick to process")
	}

	if len(pub.observations) != 1 {
		t.Fatalf("expected one marker observation published, got %d", len(pub.observations))
	}
	if len(trigger.submitted) != 1 || trigger.submitted[0] != 99 {
		t.Fatalf("expected diagnosis submitted for plant 99, got %v", trigger.submitted)
	}
}

func TestPipeline_CooldownSkipsSubmission(t *testing.T) {
	sim := driver.NewSim()
	sim.Connect(context.Background())
	sim.Push(solidFrame(1, 8, 8))

	markerDet := marker.New(&fakeDecoder{text: "plant-5"}, time.Minute)
	trigger := &fakeTrigger{allow: false}
	pub := &recordingPublisher{}

	p := New(sim, nil, markerDet, trigger, pub)
	p.SetMarkerDetectionEnabled(true)

	p.tick(context.Background())

	if len(trigger.submitted) != 0 {
		t.Fatalf("expected no submission while trigger refuses, got %v", trigger.submitted)
	}
	if len(pub.cooldowns) != 1 || pub.cooldowns[0] != 5 {
		t.Fatalf("expected cooldown event for plant 5, got %v", pub.cooldowns)
	}
}
