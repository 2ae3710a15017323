// Package segmentation implements C4: calling an external semantic-mask
// service, detecting its availability, and falling back to a local
// color-threshold mask when the remote is unavailable or its retry chain
// is exhausted.
package segmentation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/semaphore"
)

// Result is C4's uniform outcome type for both the remote call and the
// local fallback.
type Result struct {
	Success        bool
	MaskBase64     string
	Description    string
	Err            error
	ElapsedSeconds float64
	Metadata       map[string]interface{}
}

// Task is one unit of work for BatchSegment.
type Task struct {
	Image        []byte
	Query        string
	SampleFrames int
}

// ProgressFunc is invoked with a coarse stage label as a segmentation call
// advances; nil is a valid no-op callback.
type ProgressFunc func(stage string)

// Client is C4.
type Client struct {
	baseURL         string
	http            *retryablehttp.Client
	sem             *semaphore.Weighted
	fallbackEnabled bool
	availabilityTTL time.Duration

	mu            sync.Mutex
	lastProbeAt   time.Time
	lastAvailable bool
}

// Config parameterizes a Client; zero values take the §4.4/§5 defaults
// (concurrency cap 3, retry max 3, availability TTL 300s).
type Config struct {
	BaseURL         string
	MaxConcurrent   int
	RetryMax        int
	RequestTimeout  time.Duration
	FallbackEnabled bool
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	hc := retryablehttp.NewClient()
	hc.Logger = nil
	hc.RetryMax = cfg.RetryMax
	hc.HTTPClient.Timeout = cfg.RequestTimeout
	hc.CheckRetry = checkRetry
	hc.Backoff = exponentialBackoff

	return &Client{
		baseURL:         cfg.BaseURL,
		http:            hc,
		sem:             semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		fallbackEnabled: cfg.FallbackEnabled,
		availabilityTTL: 300 * time.Second,
	}
}

// checkRetry retries only on 5xx responses or a transport-level
// (network/timeout) error; a 4xx response is terminal.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp != nil && resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

// exponentialBackoff implements the 2^i second delay schedule from §4.4.
func exponentialBackoff(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
	return time.Duration(1<<uint(attemptNum)) * time.Second
}

// IsAvailable probes the remote's health path, caching the result for
// availabilityTTL. Any response from the origin, including 404/405,
// counts as "process alive" per §4.4.
func (c *Client) IsAvailable(ctx context.Context) bool {
	c.mu.Lock()
	if time.Since(c.lastProbeAt) < c.availabilityTTL && !c.lastProbeAt.IsZero() {
		available := c.lastAvailable
		c.mu.Unlock()
		return available
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		c.recordProbe(false)
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.recordProbe(false)
		return false
	}
	resp.Body.Close()
	c.recordProbe(true)
	return true
}

func (c *Client) recordProbe(available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastProbeAt = time.Now()
	c.lastAvailable = available
}

type segmentRequest struct {
	ImageBase64  string `json:"imageBase64"`
	Query        string `json:"query"`
	SampleFrames int    `json:"sample_frames"`
}

type segmentResponse struct {
	Mask        string `json:"mask"`
	Description string `json:"description"`
}

// Segment implements C4's main operation (§4.4). It tries the remote
// service (subject to the availability probe and the retry policy) and
// falls back to a local HSV threshold mask when fallback is enabled and
// the remote attempt chain fails.
func (c *Client) Segment(ctx context.Context, image []byte, query string, sampleFrames int, progress ProgressFunc) Result {
	start := time.Now()
	if sampleFrames <= 0 {
		sampleFrames = 16
	}
	if progress != nil {
		progress("segmenting")
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return Result{Success: false, Err: fmt.Errorf("segmentation semaphore: %w", err), ElapsedSeconds: time.Since(start).Seconds()}
	}
	defer c.sem.Release(1)

	remoteResult, remoteErr := c.callRemote(ctx, image, query, sampleFrames)
	if remoteErr == nil {
		remoteResult.ElapsedSeconds = time.Since(start).Seconds()
		return remoteResult
	}

	if !c.fallbackEnabled {
		return Result{Success: false, Err: remoteErr, ElapsedSeconds: time.Since(start).Seconds()}
	}

	if progress != nil {
		progress("local_fallback")
	}
	fallbackResult, fallbackErr := LocalFallback(image, query)
	if fallbackErr != nil {
		// §4.4 error model: surface the remote error, not the fallback's.
		return Result{Success: false, Err: remoteErr, ElapsedSeconds: time.Since(start).Seconds()}
	}
	fallbackResult.ElapsedSeconds = time.Since(start).Seconds()
	return fallbackResult
}

func (c *Client) callRemote(ctx context.Context, image []byte, query string, sampleFrames int) (Result, error) {
	if !c.IsAvailable(ctx) {
		return Result{}, fmt.Errorf("segmentation service unavailable")
	}

	body := segmentRequest{
		ImageBase64:  "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image),
		Query:        query,
		SampleFrames: sampleFrames,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("marshal segmentation request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/infer_unipixel_base64", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build segmentation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("segmentation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("segmentation service returned %d", resp.StatusCode)
	}

	var parsed segmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("decode segmentation response: %w", err)
	}

	return Result{
		Success:     true,
		MaskBase64:  parsed.Mask,
		Description: parsed.Description,
		Metadata:    map[string]interface{}{"method": "remote"},
	}, nil
}

// BatchSegment runs every task under the same concurrency cap as Segment,
// fanning out and fanning back in while preserving input order.
func (c *Client) BatchSegment(ctx context.Context, tasks []Task, progress ProgressFunc) []Result {
	results := make([]Result, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			results[i] = c.Segment(ctx, task.Image, task.Query, task.SampleFrames, progress)
		}(i, task)
	}
	wg.Wait()
	return results
}
