package vlm

import (
	"errors"
	"fmt"
	"strings"
)

// Failure taxonomy surfaced to the diagnosis workflow (§4.5/§7): every
// transport or API-level error a provider call can produce maps to one of
// these sentinels so C6 can decide whether to keep the cooldown clear for
// retry or surface the failure to clients.
var (
	ErrUnauthorized  = errors.New("vlm: unauthorized")
	ErrQuotaExceeded = errors.New("vlm: quota exceeded")
	ErrModelNotFound = errors.New("vlm: model not found")
	ErrNetworkTimeout = errors.New("vlm: network timeout")
	ErrUnknown       = errors.New("vlm: unknown provider error")
)

func classifyStatusError(status int, body string) error {
	lower := strings.ToLower(body)
	switch {
	case status == 401 || status == 403:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, status)
	case status == 429 || strings.Contains(lower, "quota") || strings.Contains(lower, "rate limit"):
		return fmt.Errorf("%w: status %d", ErrQuotaExceeded, status)
	case status == 404 || strings.Contains(lower, "model_not_found") || strings.Contains(lower, "model not found"):
		return fmt.Errorf("%w: status %d", ErrModelNotFound, status)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrUnknown, status, truncate(body, 200))
	}
}

func classifyTransportError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "connection refused") {
		return fmt.Errorf("%w: %v", ErrNetworkTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnknown, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
