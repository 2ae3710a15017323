// Package framepipeline implements C7: the single producer loop that
// pulls frames from the drone driver, runs the enabled detectors in fixed
// order, triggers diagnosis jobs on confirmed marker observations, and
// publishes annotated, JPEG-encoded frames in capture order.
package framepipeline

import (
	"context"
	"sync"
	"time"

	"github.com/canopy-robotics/canopy-agent/internal/driver"
	"github.com/canopy-robotics/canopy-agent/internal/frame"
	"github.com/canopy-robotics/canopy-agent/internal/log"
	"github.com/canopy-robotics/canopy-agent/internal/marker"
	"github.com/canopy-robotics/canopy-agent/internal/objectdetector"
	"github.com/canopy-robotics/canopy-agent/pkg/plugin"
)

const (
	targetFPS            = 30
	summaryInterval      = 2 * time.Second
	jpegQuality          = 80
	previewMaxWidth      = 960 // caps the websocket video_frame stream independent of capture resolution
)

// DiagnosisTrigger is the subset of C6 the pipeline needs: a gate and an
// asynchronous job submission. The pipeline never blocks on a diagnosis;
// Submit runs the job in its own goroutine. box is the marker's bounding
// box, passed through so C6 can compute its optional maturity hint.
type DiagnosisTrigger interface {
	ShouldTrigger(plantID int) bool
	Submit(plantID int, f *frame.Frame, box plugin.Rect)
}

// Publisher is the outbound boundary to C9: one annotated, JPEG-encoded
// frame per iteration, plus periodic detection summaries and per-marker
// events.
type Publisher interface {
	PublishFrame(jpeg []byte, seq uint64)
	PublishDetectionSummary(summary plugin.Summary)
	PublishMarkerObservation(obs marker.Observation)
	PublishMarkerCooldown(plantID int)
}

// Pipeline is C7.
type Pipeline struct {
	drv       driver.Driver
	objDet    *objectdetector.Detector
	markerDet *marker.Detector
	trigger   DiagnosisTrigger
	publisher Publisher

	objectDetectionEnabled bool
	markerDetectionEnabled bool

	mu        sync.RWMutex
	lastSeq   uint64
	submitted map[int]int64 // plantID -> seq of last diagnosis submission

	stop chan struct{}
	done chan struct{}
}

// New builds a Pipeline. objDet/markerDet/trigger may be nil, in which
// case that stage is a no-op — matching "a detector's failure logs and is
// skipped; the pipeline never aborts" generalized to "disabled" as well.
func New(drv driver.Driver, objDet *objectdetector.Detector, markerDet *marker.Detector, trigger DiagnosisTrigger, publisher Publisher) *Pipeline {
	return &Pipeline{
		drv:       drv,
		objDet:    objDet,
		markerDet: markerDet,
		trigger:   trigger,
		publisher: publisher,
		submitted: make(map[int]int64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (p *Pipeline) SetObjectDetectionEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objectDetectionEnabled = enabled
}

func (p *Pipeline) SetMarkerDetectionEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markerDetectionEnabled = enabled
}

// Run is the producer loop. It blocks until ctx is cancelled or Stop is
// called, at which point it returns after finishing the current iteration.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(time.Second / targetFPS)
	defer ticker.Stop()

	summaryTicker := time.NewTicker(summaryInterval)
	defer summaryTicker.Stop()

	var lastSummary plugin.Summary

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-summaryTicker.C:
			if p.publisher != nil {
				p.publisher.PublishDetectionSummary(lastSummary)
			}
		case <-ticker.C:
			summary, ok := p.tick(ctx)
			if ok {
				lastSummary = summary
			}
		}
	}
}

// Stop requests the loop to exit; Run returns after the in-flight
// iteration completes.
func (p *Pipeline) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	<-p.done
}

// tick runs exactly one producer iteration (§4.7 steps 1-5).
func (p *Pipeline) tick(ctx context.Context) (plugin.Summary, bool) {
	reader := p.drv.GetFrameRead()
	if reader == nil {
		return plugin.Summary{}, false
	}
	f, ok := reader.Read()
	if !ok || f == nil {
		return plugin.Summary{}, false
	}

	p.mu.RLock()
	if f.Seq <= p.lastSeq && p.lastSeq != 0 {
		p.mu.RUnlock()
		return plugin.Summary{}, false // drop-oldest: nothing new since last iteration
	}
	objEnabled := p.objectDetectionEnabled
	markerEnabled := p.markerDetectionEnabled
	p.mu.RUnlock()

	preAnnotation := f.Clone()
	annotated := f

	var summary plugin.Summary
	if objEnabled && p.objDet != nil {
		out, s, _, err := p.objDet.Detect(ctx, annotated)
		if err != nil {
			log.Get().WithError(err).Warn("object detector failed, skipping")
		} else {
			annotated = out
			summary = s
		}
	}

	if markerEnabled && p.markerDet != nil {
		out, observations := p.markerDet.Detect(annotated, marker.Options{ScanRegion: marker.ScanRegion{Kind: marker.ScanFull}})
		annotated = out
		for _, obs := range observations {
			p.handleObservation(obs, preAnnotation)
		}
	}

	p.mu.Lock()
	p.lastSeq = f.Seq
	p.mu.Unlock()

	p.publish(annotated)
	return summary, true
}

// handleObservation implements §4.7 step 3: a confirmed, non-cooldown
// marker observation emits an event and, if eligible, submits an
// asynchronous diagnosis job with a deep copy of the pre-annotation frame.
func (p *Pipeline) handleObservation(obs marker.Observation, preAnnotation *frame.Frame) {
	if obs.ID == nil {
		return
	}
	plantID := *obs.ID

	if p.publisher != nil {
		p.publisher.PublishMarkerObservation(obs)
	}

	if p.trigger == nil || !p.trigger.ShouldTrigger(plantID) {
		if p.publisher != nil {
			p.publisher.PublishMarkerCooldown(plantID)
		}
		return
	}

	p.mu.Lock()
	lastSubmitted, already := p.submitted[plantID]
	if already && lastSubmitted == int64(preAnnotation.Seq) {
		p.mu.Unlock()
		return
	}
	p.submitted[plantID] = int64(preAnnotation.Seq)
	p.mu.Unlock()

	p.trigger.Submit(plantID, preAnnotation.Clone(), plugin.Rect{X: obs.BBox.X, Y: obs.BBox.Y, W: obs.BBox.W, H: obs.BBox.H})
}

func (p *Pipeline) publish(annotated *frame.Frame) {
	if p.publisher == nil {
		return
	}
	rgb := annotated.ToRGB().ScaleToWidth(previewMaxWidth)
	encoded, err := frame.EncodeJPEG(rgb, jpegQuality)
	if err != nil {
		log.Get().WithError(err).Warn("jpeg encode failed, dropping frame")
		return
	}
	p.publisher.PublishFrame(encoded, annotated.Seq)
}
