package statuscache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestCache(minInterval, ttl time.Duration) (*Cache, *int64) {
	c := New(DefaultThresholds(), minInterval, ttl, 0)
	var clock int64
	c.now = func() int64 { return clock }
	return c, &clock
}

func status(battery int) DroneStatus {
	return DroneStatus{Connected: true, Flying: true, Battery: battery, Temperature: 30, HeightCM: 100}
}

func TestUpdate_FirstAlwaysBroadcasts(t *testing.T) {
	c, _ := newTestCache(100*time.Millisecond, 60*time.Second)
	broadcast, changed := c.Update(status(80))
	assert.True(t, broadcast)
	assert.True(t, changed)
}

func TestUpdate_IdenticalDigestSuppressed(t *testing.T) {
	c, clock := newTestCache(100*time.Millisecond, 60*time.Second)
	c.Update(status(80))
	*clock += int64(200 * time.Millisecond)
	broadcast, changed := c.Update(status(80))
	assert.False(t, broadcast)
	assert.False(t, changed)
}

func TestUpdate_ThresholdHysteresisSequence(t *testing.T) {
	c, clock := newTestCache(100*time.Millisecond, 60*time.Second)

	// index 0: first update, always broadcasts
	b0, _ := c.Update(status(80))
	assert.True(t, b0)

	// index 1: identical digest within TTL, no advance in time
	b1, changed1 := c.Update(status(80))
	assert.False(t, b1)
	assert.False(t, changed1)

	// index 2: battery drops by 1 (>= threshold) but still inside the
	// 100ms min-interval window since the last broadcast (index 0)
	b2, changed2 := c.Update(status(79))
	assert.False(t, b2)
	assert.True(t, changed2)

	// index 3: identical to index 2, still within window
	b3, _ := c.Update(status(79))
	assert.False(t, b3)

	// advance past the min-interval before index 4
	*clock += int64(150 * time.Millisecond)
	b4, changed4 := c.Update(status(75))
	assert.True(t, b4)
	assert.True(t, changed4)
}

func TestUpdate_TTLExpiredUnchangedDoublesInterval(t *testing.T) {
	c, clock := newTestCache(50*time.Millisecond, 100*time.Millisecond)
	c.Update(status(80))
	*clock += int64(120 * time.Millisecond) // TTL expired, identical status
	broadcast, changed := c.Update(status(80))
	assert.True(t, broadcast, "TTL expiry forces a re-broadcast of an unchanged snapshot")
	assert.False(t, changed)
}

func TestHistory_BoundedRing(t *testing.T) {
	c, clock := newTestCache(0, 60*time.Second)
	for i := 0; i < 150; i++ {
		*clock += int64(time.Second)
		c.Update(status(80 - i%5))
	}
	assert.LessOrEqual(t, len(c.History(0, 0)), 100)
}

func TestChangesSince_OnlyNonEmptyDiffs(t *testing.T) {
	c, clock := newTestCache(0, 60*time.Second)
	c.Update(status(80))
	*clock += int64(time.Second)
	c.Update(status(70))
	changes := c.ChangesSince(0)
	assert.NotEmpty(t, changes)
	for _, e := range changes {
		assert.NotEmpty(t, e.ChangedFields)
	}
}

func TestSetThresholdAppliesToSubsequentDiff(t *testing.T) {
	c, clock := newTestCache(0, 60*time.Second)
	c.SetThreshold("battery", 10)
	c.Update(status(80))
	*clock += int64(time.Second)
	_, changed := c.Update(status(75)) // delta 5 < new threshold 10
	assert.False(t, changed)
}

func TestClearResetsState(t *testing.T) {
	c, _ := newTestCache(0, 60*time.Second)
	c.Update(status(80))
	c.Clear()
	stats := c.StatisticsSnapshot()
	assert.Equal(t, int64(0), stats.Updates)
	assert.Empty(t, c.History(0, 0))
}
