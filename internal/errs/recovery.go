package errs

import (
	"fmt"
	"sync"

	"github.com/canopy-robotics/canopy-agent/internal/log"
)

// RecoveryStrategy attempts to recover from an error carrying the given
// code. It returns nil on success.
type RecoveryStrategy func() error

// RecoveryManager holds a per-error-code registered strategy with a
// per-code attempt counter. A successful recovery resets the counter; a
// code that has exhausted its attempt budget is reported as such so the
// caller can escalate instead of looping forever.
type RecoveryManager struct {
	mu         sync.Mutex
	strategies map[int]RecoveryStrategy
	attempts   map[int]int
	maxAttempts int
}

// NewRecoveryManager creates a manager with the given max-attempts budget
// per code (default 3 when maxAttempts <= 0).
func NewRecoveryManager(maxAttempts int) *RecoveryManager {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &RecoveryManager{
		strategies:  make(map[int]RecoveryStrategy),
		attempts:    make(map[int]int),
		maxAttempts: maxAttempts,
	}
}

// Register installs the strategy invoked by Recover for the given code.
func (m *RecoveryManager) Register(code int, strategy RecoveryStrategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[code] = strategy
}

// Recover runs the registered strategy for err.Code, if any and if the
// attempt budget for that code is not exhausted. Returns
// (attempted, succeeded).
func (m *RecoveryManager) Recover(err *AgentError) (attempted bool, succeeded bool) {
	if err == nil || !err.Recoverable {
		return false, false
	}

	m.mu.Lock()
	strategy, ok := m.strategies[err.Code]
	if !ok {
		m.mu.Unlock()
		return false, false
	}
	if m.attempts[err.Code] >= m.maxAttempts {
		m.mu.Unlock()
		return false, false
	}
	m.attempts[err.Code]++
	m.mu.Unlock()

	if recErr := strategy(); recErr != nil {
		return true, false
	}

	m.mu.Lock()
	m.attempts[err.Code] = 0
	m.mu.Unlock()
	return true, true
}

// AttemptCount reports how many consecutive unsuccessful recoveries have
// been made for code since the last success.
func (m *RecoveryManager) AttemptCount(code int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[code]
}

// Guard recovers a panic in the calling goroutine, logging it as a
// CategorySystem AgentError instead of letting it crash the process.
// Call it as the first deferred statement inside a long-running
// goroutine's body: `defer errs.Guard(name)()`. It does not re-panic:
// a supervised goroutine exits quietly and the caller is expected to
// notice via its own exit signal (closed channel, IsRunning() going
// false, etc).
func Guard(component string) func() {
	return func() {
		r := recover()
		if r == nil {
			return
		}
		e := New(CodeUnknown, CategorySystem, SeverityCritical,
			fmt.Sprintf("recovered from panic in %s", component), false).
			WithContext(map[string]interface{}{"panic": fmt.Sprintf("%v", r)})
		log.Get().WithField("component", component).WithField("panic", r).Error(e.Message)
	}
}

// Supervise runs run in the calling goroutine under Guard, then, on a
// non-panic error, consults manager for a registered recovery strategy
// for code before giving up. It is meant to wrap a server loop's
// top-level `for { ... }` so that a transient failure (e.g. "address
// already in use" during a hot restart window) gets a few automatic
// retries instead of immediately logging and exiting.
func Supervise(component string, manager *RecoveryManager, code int, run func() error) {
	defer Guard(component)()
	err := run()
	if err == nil || manager == nil {
		return
	}
	agentErr := New(code, CategorySystem, SeverityHigh, fmt.Sprintf("%s failed", component), true).WithContext(map[string]interface{}{"error": err.Error()})
	if attempted, succeeded := manager.Recover(agentErr); attempted {
		if succeeded {
			log.Get().WithField("component", component).Info("recovery strategy succeeded, retrying")
			Supervise(component, manager, code, run)
			return
		}
		log.Get().WithField("component", component).WithError(err).Warn("recovery strategy attempted and failed")
	}
}
