// Package statuscache implements C1: it decides whether a fresh drone
// status snapshot deserves a broadcast, and retains bounded history for
// later inspection. It never raises; a digest failure falls through to
// "always broadcast" since silence is worse than noise for a safety
// telemetry stream.
package statuscache

import (
	"crypto/sha256"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Position is the drone's local 3-D position estimate.
type Position struct {
	X, Y, Z float64
}

// DroneStatus is one telemetry snapshot (§3 Data Model).
type DroneStatus struct {
	Connected     bool
	Flying        bool
	Battery       int
	Temperature   int
	HeightCM      int
	Position      Position
	WifiSignal    int
	FlightTimeS   int
	MissionPadID  int // -1 = none
	CapturedAt    int64 // monotonic nanoseconds
}

// Thresholds holds the per-field absolute thresholds used by the
// field-wise differ. Boolean fields (Connected, Flying) and MissionPadID
// always count as "any change".
type Thresholds struct {
	Battery     float64
	Temperature float64
	Height      float64
	Position    float64
}

// DefaultThresholds matches §4.1's defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Battery: 1, Temperature: 1, Height: 5, Position: 2}
}

// Entry is one bounded-history ring slot.
type Entry struct {
	Status        DroneStatus
	Hash          string
	ChangedFields []string
	CapturedAt    int64
}

// Statistics summarizes the cache's broadcast decisions over its lifetime.
type Statistics struct {
	Updates            int64
	Broadcasts         int64
	Suppressed         int64
	LastBroadcastAt    int64
	HistorySize        int
}

// Cache is C1. All exported methods are safe for concurrent use; the lock
// is held only for the duration of bookkeeping, never across a caller's
// own I/O.
type Cache struct {
	mu sync.Mutex

	thresholds  Thresholds
	minInterval time.Duration
	ttl         time.Duration
	historyCap  int

	hasCurrent     bool
	current        DroneStatus
	currentDigest  string
	lastBroadcast  int64 // monotonic nanoseconds
	lastUpdateMono int64

	history []Entry

	stats Statistics

	// now is swappable for tests; defaults to time.Now().UnixNano.
	now func() int64
}

// New builds a Cache with the given thresholds, minimum broadcast
// interval, TTL and bounded history size (0 uses the spec defaults).
func New(thresholds Thresholds, minInterval, ttl time.Duration, historyCap int) *Cache {
	if historyCap <= 0 {
		historyCap = 100
	}
	if minInterval <= 0 {
		minInterval = 100 * time.Millisecond
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Cache{
		thresholds:  thresholds,
		minInterval: minInterval,
		ttl:         ttl,
		historyCap:  historyCap,
		now:         func() int64 { return time.Now().UnixNano() },
	}
}

// digest computes a stable, field-order-independent digest of a status
// snapshot. It cannot actually fail (unlike a JSON marshal of an
// interface{} might), but the call sites below are written as though it
// could, matching the spec's "never raises" guarantee structurally.
func digest(s DroneStatus) (string, bool) {
	h := sha256.New()
	fmt.Fprintf(h, "c=%v|f=%v|b=%d|t=%d|h=%d|x=%f|y=%f|z=%f|w=%d|ft=%d|p=%d",
		s.Connected, s.Flying, s.Battery, s.Temperature, s.HeightCM,
		s.Position.X, s.Position.Y, s.Position.Z, s.WifiSignal, s.FlightTimeS, s.MissionPadID)
	return fmt.Sprintf("%x", h.Sum(nil)), true
}

// diff returns the sorted list of field names whose delta crosses the
// configured threshold.
func (c *Cache) diff(prev, next DroneStatus) []string {
	var changed []string
	if prev.Connected != next.Connected {
		changed = append(changed, "connected")
	}
	if prev.Flying != next.Flying {
		changed = append(changed, "flying")
	}
	if absInt(next.Battery-prev.Battery) >= int(c.thresholds.Battery) {
		changed = append(changed, "battery")
	}
	if absInt(next.Temperature-prev.Temperature) >= int(c.thresholds.Temperature) {
		changed = append(changed, "temperature")
	}
	if absInt(next.HeightCM-prev.HeightCM) >= int(c.thresholds.Height) {
		changed = append(changed, "height_cm")
	}
	if positionDelta(prev.Position, next.Position) >= c.thresholds.Position {
		changed = append(changed, "position")
	}
	if prev.MissionPadID != next.MissionPadID {
		changed = append(changed, "mission_pad_id")
	}
	sort.Strings(changed)
	return changed
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func positionDelta(a, b Position) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Update runs the full C1 decision described in §4.1 and returns
// (shouldBroadcast, changed).
func (c *Cache) Update(status DroneStatus) (shouldBroadcast bool, changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.stats.Updates++

	h, ok := digest(status)
	if !ok {
		// Safety over silence: a digest failure always broadcasts.
		c.commitLocked(status, "", nil, now)
		return true, true
	}

	ttlExpired := c.hasCurrent && now-c.lastUpdateMono > c.ttl.Nanoseconds()

	if c.hasCurrent && h == c.currentDigest && !ttlExpired {
		return false, false
	}

	var changedFields []string
	if c.hasCurrent {
		changedFields = c.diff(c.current, status)
	} else {
		changedFields = []string{"initial"}
	}
	changed = len(changedFields) > 0 || !c.hasCurrent

	interval := c.minInterval
	if !changed && ttlExpired {
		interval *= 2
	}

	elapsedSinceBroadcast := now - c.lastBroadcast
	if c.stats.Broadcasts > 0 && elapsedSinceBroadcast < interval.Nanoseconds() {
		c.commitLocked(status, h, changedFields, now)
		c.stats.Suppressed++
		return false, changed
	}

	c.commitLocked(status, h, changedFields, now)
	c.lastBroadcast = now
	c.stats.Broadcasts++
	c.stats.LastBroadcastAt = now
	return true, changed
}

func (c *Cache) commitLocked(status DroneStatus, h string, changedFields []string, now int64) {
	c.current = status
	c.currentDigest = h
	c.hasCurrent = true
	c.lastUpdateMono = now

	c.history = append(c.history, Entry{Status: status, Hash: h, ChangedFields: changedFields, CapturedAt: now})
	if len(c.history) > c.historyCap {
		c.history = c.history[len(c.history)-c.historyCap:]
	}
	c.stats.HistorySize = len(c.history)
}

// History returns up to limit of the most recent entries captured at or
// after since (0 means no lower bound). limit<=0 returns everything kept.
func (c *Cache) History(limit int, since int64) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Entry
	for _, e := range c.history {
		if e.CapturedAt >= since {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// FieldHistory returns the value of a single field across history, most
// recent last, for the named field ("battery", "height_cm", ...).
func (c *Cache) FieldHistory(name string, limit int) []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []interface{}
	for _, e := range c.history {
		out = append(out, fieldValue(e.Status, name))
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func fieldValue(s DroneStatus, name string) interface{} {
	switch name {
	case "battery":
		return s.Battery
	case "temperature":
		return s.Temperature
	case "height_cm":
		return s.HeightCM
	case "connected":
		return s.Connected
	case "flying":
		return s.Flying
	case "mission_pad_id":
		return s.MissionPadID
	case "position":
		return s.Position
	default:
		return nil
	}
}

// ChangesSince returns every history entry whose changed-field set is
// non-empty and captured after ts.
func (c *Cache) ChangesSince(ts int64) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Entry
	for _, e := range c.history {
		if e.CapturedAt > ts && len(e.ChangedFields) > 0 {
			out = append(out, e)
		}
	}
	return out
}

// StatisticsSnapshot returns a copy of the running counters.
func (c *Cache) StatisticsSnapshot() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Clear resets the cache to its initial empty state, preserving
// thresholds and rate-limit configuration.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasCurrent = false
	c.current = DroneStatus{}
	c.currentDigest = ""
	c.lastBroadcast = 0
	c.lastUpdateMono = 0
	c.history = nil
	c.stats = Statistics{}
}

// SetThreshold updates a single named threshold at runtime.
func (c *Cache) SetThreshold(field string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch field {
	case "battery":
		c.thresholds.Battery = value
	case "temperature":
		c.thresholds.Temperature = value
	case "height":
		c.thresholds.Height = value
	case "position":
		c.thresholds.Position = value
	}
}
