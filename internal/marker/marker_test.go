package marker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopy-robotics/canopy-agent/internal/frame"
)

type fakeDecoder struct {
	results []RawCode
	calls   int
}

func (f *fakeDecoder) DecodeAll(*frame.RGB) []RawCode {
	f.calls++
	return f.results
}

func blankFrame(w, h int) *frame.Frame {
	return frame.New(make([]byte, w*h*3), w, h, w*3, 1, 0)
}

func TestExtractPlantID_PrefixPattern(t *testing.T) {
	id := extractPlantID("plant_42")
	require.NotNil(t, id)
	assert.Equal(t, 42, *id)
}

func TestExtractPlantID_PureInteger(t *testing.T) {
	id := extractPlantID("17")
	require.NotNil(t, id)
	assert.Equal(t, 17, *id)
}

func TestExtractPlantID_Unparseable(t *testing.T) {
	assert.Nil(t, extractPlantID("not-a-plant"))
}

func TestDetect_ReturnsObservationOnDecode(t *testing.T) {
	dec := &fakeDecoder{results: []RawCode{{Text: "plant_42", BBox: Rect{X: 10, Y: 10, W: 20, H: 20}}}}
	d := New(dec, 60*time.Second)

	_, obs := d.Detect(blankFrame(100, 100), Options{ScanRegion: ScanRegion{Kind: ScanFull}, AllowMulti: true})
	require.Len(t, obs, 1)
	require.NotNil(t, obs[0].ID)
	assert.Equal(t, 42, *obs[0].ID)
	assert.Equal(t, 1, dec.calls, "first pass found a marker, no fallback retry")
}

func TestDetect_RetriesOnceWhenEmpty(t *testing.T) {
	dec := &fakeDecoder{results: nil}
	d := New(dec, 60*time.Second)

	_, obs := d.Detect(blankFrame(50, 50), Options{ScanRegion: ScanRegion{Kind: ScanFull}})
	assert.Empty(t, obs)
	assert.Equal(t, 2, dec.calls, "exactly one retry on a preprocessed copy")
}

func TestDetect_CooldownExcludesRepeat(t *testing.T) {
	dec := &fakeDecoder{results: []RawCode{{Text: "plant_42", BBox: Rect{X: 1, Y: 1, W: 5, H: 5}}}}
	d := New(dec, 60*time.Second)

	_, first := d.Detect(blankFrame(50, 50), Options{ScanRegion: ScanRegion{Kind: ScanFull}, AllowMulti: true})
	require.Len(t, first, 1)

	_, second := d.Detect(blankFrame(50, 50), Options{ScanRegion: ScanRegion{Kind: ScanFull}, AllowMulti: true})
	assert.Empty(t, second, "repeat decode within cooldown window is excluded")
}

func TestDetect_ValidationRejectsMismatch(t *testing.T) {
	dec := &fakeDecoder{results: []RawCode{{Text: "plant_42", BBox: Rect{X: 1, Y: 1, W: 5, H: 5}}}}
	d := New(dec, 60*time.Second)

	v := &Validation{RequiredPrefix: "crop_"}
	_, obs := d.Detect(blankFrame(50, 50), Options{ScanRegion: ScanRegion{Kind: ScanFull}, AllowMulti: true, Validation: v})
	assert.Empty(t, obs)
}

func TestClipRegion_CenterIsMiddleHalf(t *testing.T) {
	r := clipRegion(ScanRegion{Kind: ScanCenter}, 100, 100)
	assert.Equal(t, Rect{X: 25, Y: 25, W: 50, H: 50}, r)
}

func TestClipRegion_CustomClipsToBounds(t *testing.T) {
	r := clipRegion(ScanRegion{Kind: ScanCustom, X: 90, Y: 90, W: 50, H: 50}, 100, 100)
	assert.Equal(t, 10, r.W)
	assert.Equal(t, 10, r.H)
}

func TestCooldownStatus_ReportsActiveEntries(t *testing.T) {
	dec := &fakeDecoder{results: []RawCode{{Text: "plant_7", BBox: Rect{X: 1, Y: 1, W: 5, H: 5}}}}
	d := New(dec, 60*time.Second)
	d.Detect(blankFrame(50, 50), Options{ScanRegion: ScanRegion{Kind: ScanFull}, AllowMulti: true})

	cooldown, active := d.CooldownStatus()
	assert.Equal(t, 60*time.Second, cooldown)
	assert.Contains(t, active, 7)
}

func TestClearCooldowns_EmptiesActiveSet(t *testing.T) {
	dec := &fakeDecoder{results: []RawCode{{Text: "plant_7", BBox: Rect{X: 1, Y: 1, W: 5, H: 5}}}}
	d := New(dec, 60*time.Second)
	d.Detect(blankFrame(50, 50), Options{ScanRegion: ScanRegion{Kind: ScanFull}, AllowMulti: true})
	d.ClearCooldowns()

	_, active := d.CooldownStatus()
	assert.Empty(t, active)
}
