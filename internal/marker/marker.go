// Package marker implements C2: decoding 2-D markers from a frame,
// extracting integer plant IDs, and enforcing the per-ID cooldown that is
// distinct from (and independent of) the diagnosis cooldown owned by C6.
//
// The actual 2-D code decode (QR/ArUco-style) is delegated to a Decoder
// implementation; canopy-agent does not bundle a barcode-decoding library,
// matching spec's framing of the decode step as an external collaborator.
package marker

import (
	"regexp"
	"sync"
	"time"

	"github.com/canopy-robotics/canopy-agent/internal/frame"
)

// Rect is a pixel-space bounding box in full-frame coordinates.
type Rect struct{ X, Y, W, H int }

// Quad is the four corners of a decoded marker, in full-frame coordinates.
type Quad [4][2]int

// Observation is one decoded marker (§3 Data Model). ID is nil when the
// decoded text did not parse to a plant ID.
type Observation struct {
	ID          *int
	BBox        Rect
	Corners     *Quad
	DecodedText string
	SeenAt      int64 // monotonic nanoseconds
}

// ScanRegionKind selects which part of the frame is scanned.
type ScanRegionKind int

const (
	ScanFull ScanRegionKind = iota
	ScanCenter
	ScanTop
	ScanBottom
	ScanCustom
)

// ScanRegion describes the sub-rectangle of the frame to scan. Custom uses
// X/Y/W/H verbatim, clipped to frame bounds.
type ScanRegion struct {
	Kind ScanRegionKind
	X, Y, W, H int
}

// Validation is an optional per-call rule set; a marker whose decoded text
// fails any configured rule is annotated "invalid" and excluded.
type Validation struct {
	Pattern        *regexp.Regexp
	RequiredPrefix string
	MinLen, MaxLen int
}

// Options parameterizes one Detect call.
type Options struct {
	ScanRegion  ScanRegion
	AllowMulti  bool
	MaxResults  int
	Validation  *Validation
}

// RawCode is what a Decoder reports for one decoded symbol, in the
// region's local coordinate space; Detect translates it back to full-frame
// space by adding the region's origin offset.
type RawCode struct {
	Text    string
	BBox    Rect
	Corners Quad
}

// Decoder decodes 2-D markers out of an RGB image region. Implementations
// are swapped in by configuration; canopy-agent ships none built-in.
type Decoder interface {
	DecodeAll(img *frame.RGB) []RawCode
}

// NopDecoder never finds a marker; it is the default so a deployment
// without a decoding library wired in degrades to "no markers observed"
// rather than failing to start.
type NopDecoder struct{}

func (NopDecoder) DecodeAll(*frame.RGB) []RawCode { return nil }

const (
	colorNormal  = "normal"
	colorCooling = "cooling"
	colorInvalid = "invalid"
)

type cooldownEntry struct {
	expiresAt int64
}

// Detector is C2.
type Detector struct {
	mu       sync.Mutex
	decoder  Decoder
	cooldown time.Duration
	entries  map[int]cooldownEntry
	now      func() int64
}

// New builds a Detector with the given decoder and cooldown (default 60s
// per §5's timeout table when cooldown<=0).
func New(decoder Decoder, cooldown time.Duration) *Detector {
	if decoder == nil {
		decoder = NopDecoder{}
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &Detector{
		decoder:  decoder,
		cooldown: cooldown,
		entries:  make(map[int]cooldownEntry),
		now:      func() int64 { return time.Now().UnixNano() },
	}
}

// SetCooldown changes the cooldown window at runtime.
func (d *Detector) SetCooldown(cooldown time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cooldown = cooldown
}

// CooldownStatus reports the configured window and currently active
// cooldown IDs (for the control plane's get_marker_cooldown_status).
func (d *Detector) CooldownStatus() (cooldown time.Duration, active map[int]int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	active = make(map[int]int64, len(d.entries))
	now := d.now()
	for id, e := range d.entries {
		if e.expiresAt > now {
			active[id] = e.expiresAt
		}
	}
	return d.cooldown, active
}

// ClearCooldowns removes every active cooldown entry.
func (d *Detector) ClearCooldowns() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[int]cooldownEntry)
}

// Detect runs the full C2 pipeline (§4.3): region crop, decode, fallback
// retry on zero results, ID extraction, validation, cooldown filtering and
// annotation. The returned frame is channel-order native, matching what
// was passed in.
func (d *Detector) Detect(f *frame.Frame, opts Options) (*frame.Frame, []Observation) {
	region := clipRegion(opts.ScanRegion, f.Width, f.Height)
	rgb := f.ToRGB()
	cropped := cropRGB(rgb, region)

	raws := d.decoder.DecodeAll(cropped)
	if len(raws) == 0 {
		preprocessed := preprocess(cropped)
		raws = d.decoder.DecodeAll(preprocessed)
	}

	now := d.now()
	var observations []Observation
	annotated := f.Clone()

	for _, raw := range raws {
		bbox := translate(raw.BBox, region)
		corners := translateQuad(raw.Corners, region)
		id := extractPlantID(raw.Text)

		if opts.Validation != nil && id != nil && !validate(raw.Text, opts.Validation) {
			annotateBox(annotated, bbox, colorInvalid)
			continue
		}

		if id != nil {
			d.mu.Lock()
			entry, onCooldown := d.entries[*id]
			stillCooling := onCooldown && entry.expiresAt > now
			if !stillCooling {
				d.entries[*id] = cooldownEntry{expiresAt: now + d.cooldown.Nanoseconds()}
			}
			d.mu.Unlock()

			if stillCooling {
				annotateBox(annotated, bbox, colorCooling)
				continue
			}
		}

		annotateBox(annotated, bbox, colorNormal)
		observations = append(observations, Observation{
			ID: id, BBox: bbox, Corners: &corners, DecodedText: raw.Text, SeenAt: now,
		})

		if !opts.AllowMulti {
			break
		}
		if opts.MaxResults > 0 && len(observations) >= opts.MaxResults {
			break
		}
	}

	return annotated, observations
}

var (
	prefixPattern = regexp.MustCompile(`(?i)(?:plant|植株|id)[-_:]?(\d+)`)
	digitsPattern = regexp.MustCompile(`^\d+$`)
)

// extractPlantID matches the prefix pattern first, then falls back to a
// pure-integer parse. Returns nil on failure.
func extractPlantID(text string) *int {
	if m := prefixPattern.FindStringSubmatch(text); m != nil {
		if v, ok := parseInt(m[1]); ok {
			return &v
		}
	}
	if digitsPattern.MatchString(text) {
		if v, ok := parseInt(text); ok {
			return &v
		}
	}
	return nil
}

func parseInt(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

func validate(text string, v *Validation) bool {
	if v.Pattern != nil && !v.Pattern.MatchString(text) {
		return false
	}
	if v.RequiredPrefix != "" && len(text) < len(v.RequiredPrefix) {
		return false
	}
	if v.RequiredPrefix != "" && text[:len(v.RequiredPrefix)] != v.RequiredPrefix {
		return false
	}
	if v.MinLen > 0 && len(text) < v.MinLen {
		return false
	}
	if v.MaxLen > 0 && len(text) > v.MaxLen {
		return false
	}
	return true
}

func clipRegion(r ScanRegion, width, height int) Rect {
	switch r.Kind {
	case ScanCenter:
		return Rect{X: width / 4, Y: height / 4, W: width / 2, H: height / 2}
	case ScanTop:
		return Rect{X: 0, Y: 0, W: width, H: height / 2}
	case ScanBottom:
		return Rect{X: 0, Y: height / 2, W: width, H: height / 2}
	case ScanCustom:
		return clip(Rect{X: r.X, Y: r.Y, W: r.W, H: r.H}, width, height)
	default:
		return Rect{X: 0, Y: 0, W: width, H: height}
	}
}

func clip(r Rect, width, height int) Rect {
	if r.X < 0 {
		r.X = 0
	}
	if r.Y < 0 {
		r.Y = 0
	}
	if r.X > width {
		r.X = width
	}
	if r.Y > height {
		r.Y = height
	}
	if r.X+r.W > width {
		r.W = width - r.X
	}
	if r.Y+r.H > height {
		r.H = height - r.Y
	}
	if r.W < 0 {
		r.W = 0
	}
	if r.H < 0 {
		r.H = 0
	}
	return r
}

func translate(r Rect, region Rect) Rect {
	return Rect{X: r.X + region.X, Y: r.Y + region.Y, W: r.W, H: r.H}
}

func translateQuad(q Quad, region Rect) Quad {
	var out Quad
	for i, pt := range q {
		out[i] = [2]int{pt[0] + region.X, pt[1] + region.Y}
	}
	return out
}
