// Package diagnosis implements C6: the three-stage sequential workflow
// that turns a confirmed marker observation into a diagnosis report,
// gated by a single AI configuration slot and a per-plant-ID cooldown.
package diagnosis

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/canopy-robotics/canopy-agent/internal/errs"
	"github.com/canopy-robotics/canopy-agent/internal/frame"
	"github.com/canopy-robotics/canopy-agent/internal/log"
	"github.com/canopy-robotics/canopy-agent/internal/segmentation"
	"github.com/canopy-robotics/canopy-agent/internal/vlm"
	"github.com/canopy-robotics/canopy-agent/pkg/plugin"
)

// Stage names reported via ProgressFunc, in execution order.
const (
	StageMaskPrompt  = "generating_mask_prompt"
	StageSegmenting  = "generating_mask"
	StageDiagnosing  = "generating_report"
	StageComplete    = "complete"
)

const defaultMaskPromptFailure = "diseased region"

// ProgressFunc reports workflow progress for one plant's in-flight
// diagnosis: stage label, a short human message, and percent complete.
type ProgressFunc func(plantID int, stage, message string, percent int)

// Report is the outcome of one successful diagnosis run.
type Report struct {
	PlantID         int
	Summary         string
	Severity        string
	Diseases        []string
	Recommendations []string
	Confidence      float64
	MaskBase64      string
	MaskDescription string
	CreatedAt       time.Time
	Raw             string
}

// Config parameterizes the workflow: per-ID cooldown and bounded history.
type Config struct {
	CooldownSeconds int
	HistoryLimit    int
}

// Workflow is C6. It holds the single AI configuration slot, the
// segmentation client (optional — C4 may be disabled entirely), and the
// diagnosis cooldown map, distinct from C2's marker-decode cooldown.
type Workflow struct {
	cooldown time.Duration
	history  int

	segClient *segmentation.Client // nil if segmentation is disabled

	mu          sync.Mutex
	enabled     bool
	provider    plugin.Provider
	providerCfg vlm.Config
	hasProvider bool
	expiresAt   map[int]time.Time
	reports     []Report

	progressCB ProgressFunc
	resultCB   ResultFunc
	errorCB    ErrorFunc

	now func() time.Time
}

// New builds a Workflow. segClient may be nil when segmentation is disabled
// at the configuration level; stage 2 then always no-ops per §4.6.
func New(cfg Config, segClient *segmentation.Client) *Workflow {
	cooldown := time.Duration(cfg.CooldownSeconds) * time.Second
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	history := cfg.HistoryLimit
	if history <= 0 {
		history = 100
	}
	return &Workflow{
		cooldown:  cooldown,
		history:   history,
		segClient: segClient,
		expiresAt: make(map[int]time.Time),
		now:       time.Now,
	}
}

// SetEnabled toggles start_diagnosis_workflow/stop_diagnosis_workflow.
// Disabling mid-execution lets the in-flight Execute finish; subsequent
// ShouldTrigger calls are refused until re-enabled.
func (w *Workflow) SetEnabled(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enabled = enabled
}

// SetAIConfig installs the single AI configuration slot used by all
// subsequent triggers, replacing any prior snapshot wholesale.
func (w *Workflow) SetAIConfig(provider plugin.Provider, cfg vlm.Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.provider = provider
	w.providerCfg = cfg
	w.hasProvider = true
}

// AIConfigStatus reports the currently configured provider/model, mirroring
// get_ai_config_status's shape.
func (w *Workflow) AIConfigStatus() (provider, model string, configured, visionCapable bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.hasProvider {
		return "", "", false, false
	}
	return w.providerCfg.Provider, w.providerCfg.Model, true, w.providerCfg.SupportsVision
}

// ShouldTrigger reports whether a new diagnosis should start for plantID:
// the workflow must be enabled, the cooldown must have elapsed, and a
// vision-capable AI configuration must be present (§4.6).
func (w *Workflow) ShouldTrigger(plantID int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.enabled || !w.hasProvider || !w.providerCfg.SupportsVision {
		return false
	}
	expires, ok := w.expiresAt[plantID]
	if !ok {
		return true
	}
	return !w.now().Before(expires)
}

// CooldownRemaining reports how long until plantID may trigger again; zero
// or negative means it is currently eligible.
func (w *Workflow) CooldownRemaining(plantID int) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	expires, ok := w.expiresAt[plantID]
	if !ok {
		return 0
	}
	return expires.Sub(w.now())
}

// Execute runs the three-stage pipeline for plantID against frame (already
// JPEG-encoded client-native bytes). hint is the optional pre-stage0
// maturity hint computed from the pre-annotation frame's bounding box
// (nil when the box had no classifiable pixels); it is folded additively
// into stage 1's mask prompt and never affects stage 2 or 3. A nil report
// with a non-nil error means stage 3 failed terminally: no cooldown is
// started so the very next eligible frame may retry (§4.6).
func (w *Workflow) Execute(ctx context.Context, plantID int, frameJPEG []byte, hint *MaturityHint, progress ProgressFunc) (*Report, error) {
	w.mu.Lock()
	provider := w.provider
	providerCfg := w.providerCfg
	w.mu.Unlock()

	report(progress, plantID, StageMaskPrompt, "synthesizing mask prompt", 0)
	maskPrompt := w.generateMaskPrompt(ctx, provider, frameJPEG, hint)
	report(progress, plantID, StageMaskPrompt, "mask prompt ready", 33)

	report(progress, plantID, StageSegmenting, "generating mask", 33)
	maskBase64, maskDescription := w.generateMask(ctx, frameJPEG, maskPrompt)
	report(progress, plantID, StageSegmenting, "mask stage complete", 66)

	report(progress, plantID, StageDiagnosing, "synthesizing report", 66)
	rawReport, err := provider.Diagnose(ctx, plugin.DiagnoseRequest{
		PlantID:         plantID,
		Image:           frameJPEG,
		MaskImage:       decodeMaskForProvider(maskBase64),
		MaskDescription: maskDescription,
		MaskPrompt:      maskPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("diagnosis stage 3 for plant %d: %w", plantID, err)
	}

	parsed := vlm.ParseReport(rawReport)
	result := &Report{
		PlantID:         plantID,
		Summary:         parsed.Summary,
		Severity:        parsed.Severity,
		Diseases:        parsed.Diseases,
		Recommendations: parsed.Recommendations,
		Confidence:      parsed.Confidence,
		MaskBase64:      maskBase64,
		MaskDescription: maskDescription,
		CreatedAt:        w.now(),
		Raw:             parsed.Raw,
	}

	w.recordAndCooldown(plantID, *result)
	report(progress, plantID, StageComplete, "diagnosis complete", 100)
	_ = providerCfg
	return result, nil
}

func (w *Workflow) generateMaskPrompt(ctx context.Context, provider plugin.Provider, frameJPEG []byte, hint *MaturityHint) string {
	phrase, err := provider.GenerateMaskPrompt(ctx, frameJPEG)
	if err != nil || phrase == "" {
		phrase = defaultMaskPromptFailure
	}
	if hint != nil && !hint.Empty() {
		phrase = phrase + "; " + hint.PromptContext()
	}
	return phrase
}

func (w *Workflow) generateMask(ctx context.Context, frameJPEG []byte, maskPrompt string) (maskBase64, description string) {
	if w.segClient == nil {
		return "", ""
	}
	result := w.segClient.Segment(ctx, frameJPEG, maskPrompt, 16, nil)
	if result.Err != nil || !result.Success {
		return "", ""
	}
	return result.MaskBase64, result.Description
}

// decodeMaskForProvider strips the data-URL prefix C4 returns and decodes
// the base64 payload into the raw image bytes DiagnoseRequest.MaskImage
// carries; a "" or undecodable input yields nil, meaning no mask image is
// attached to the diagnose request.
func decodeMaskForProvider(maskBase64 string) []byte {
	if maskBase64 == "" {
		return nil
	}
	if i := strings.Index(maskBase64, ","); i >= 0 && strings.HasPrefix(maskBase64, "data:") {
		maskBase64 = maskBase64[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(maskBase64)
	if err != nil {
		return nil
	}
	return raw
}

func (w *Workflow) recordAndCooldown(plantID int, r Report) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expiresAt[plantID] = w.now().Add(w.cooldown)
	w.reports = append(w.reports, r)
	if len(w.reports) > w.history {
		w.reports = w.reports[len(w.reports)-w.history:]
	}
}

// ResultFunc receives a completed diagnosis report.
type ResultFunc func(report *Report)

// ErrorFunc receives a terminal stage-3 failure for plantID.
type ErrorFunc func(plantID int, err error)

// SetCallbacks installs the progress/result/error sinks Submit uses for
// its asynchronous run. Safe to call at any time; takes effect on the next
// Submit.
func (w *Workflow) SetCallbacks(progress ProgressFunc, onResult ResultFunc, onError ErrorFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.progressCB = progress
	w.resultCB = onResult
	w.errorCB = onError
}

// Submit runs Execute in its own goroutine against a background context,
// satisfying the frame pipeline's DiagnosisTrigger contract: the pipeline
// never blocks waiting on a diagnosis job (§5). f is JPEG-encoded here,
// off the pipeline's hot path, from the caller's already-owned frame copy.
// box is the marker's bounding box in f's coordinate space, used only to
// compute the optional pre-stage0 maturity hint; a zero-value box yields
// no hint.
func (w *Workflow) Submit(plantID int, f *frame.Frame, box plugin.Rect) {
	w.mu.Lock()
	progress, onResult, onError := w.progressCB, w.resultCB, w.errorCB
	w.mu.Unlock()

	go func() {
		defer errs.Guard("diagnosis")()
		rgb := f.ToRGB()
		jpeg, err := frame.EncodeJPEG(rgb, 90)
		if err != nil {
			log.Get().WithError(err).Warn("diagnosis: failed to encode submitted frame")
			return
		}

		var hint *MaturityHint
		if h := ComputeMaturityHint(rgb, box); !h.Empty() {
			hint = &h
		}

		rep, err := w.Execute(context.Background(), plantID, jpeg, hint, progress)
		if err != nil {
			if onError != nil {
				onError(plantID, err)
			}
			return
		}
		if onResult != nil {
			onResult(rep)
		}
	}()
}

// History returns a copy of the bounded report history, newest last.
func (w *Workflow) History() []Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Report, len(w.reports))
	copy(out, w.reports)
	return out
}

func report(cb ProgressFunc, plantID int, stage, message string, percent int) {
	if cb != nil {
		cb(plantID, stage, message, percent)
	}
}
