package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrOpen is returned when a call is rejected because the breaker is open.
// Callers distinguish it with errors.Is.
var ErrOpen = errors.New("breaker: circuit open")

// State is the breaker state machine position
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config holds breaker tuning
type Config struct {
	// FailureThreshold is the number of classified failures within the
	// monitoring window that trips the breaker
	FailureThreshold int
	// ResetTimeout is how long an open breaker rejects before allowing a probe
	ResetTimeout time.Duration
	// MonitoringWindow is the rolling window failures are counted over
	MonitoringWindow time.Duration
}

// DefaultConfig returns the standard breaker tuning
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		MonitoringWindow: 5 * time.Minute,
	}
}

// Breaker guards one named dependency with the classic three-state machine.
// Only transport-class failures (5xx, 429, connection errors) count toward
// tripping; validation and auth errors pass through without effect.
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger

	mu            sync.Mutex
	state         State
	failures      []time.Time
	nextRetryTime time.Time

	now func() time.Time
}

// New creates a breaker for the given dependency name
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}
	if cfg.MonitoringWindow <= 0 {
		cfg.MonitoringWindow = DefaultConfig().MonitoringWindow
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger.Named("breaker"),
		state:  StateClosed,
		now:    time.Now,
	}
}

// Execute runs fn under the breaker. An open breaker rejects immediately
// with ErrOpen without invoking fn; a half-open breaker lets exactly one
// probe through.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && IsFailure(err) {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return err
}

// allow decides whether a call may proceed, advancing OPEN to HALF_OPEN
// when the reset timeout has elapsed.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		// The single probe admitted at the OPEN to HALF_OPEN transition is
		// still in flight; its verdict decides the next state.
		return fmt.Errorf("%w: %s (probe in flight)", ErrOpen, b.name)
	case StateOpen:
		if b.now().Before(b.nextRetryTime) {
			return fmt.Errorf("%w: %s (retry at %s)", ErrOpen, b.name, b.nextRetryTime.Format(time.RFC3339))
		}
		b.state = StateHalfOpen
		b.logger.Info("Circuit breaker half-open, allowing probe",
			zap.String("name", b.name),
		)
		return nil
	default:
		return nil
	}
}

// recordFailure counts a classified failure and trips the breaker when the
// threshold is reached within the monitoring window. A failed half-open
// probe reopens immediately.
func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if b.state == StateHalfOpen {
		b.trip(now)
		return
	}

	b.failures = append(b.failures, now)
	b.pruneLocked(now)

	if len(b.failures) >= b.cfg.FailureThreshold {
		b.trip(now)
	}
}

// recordSuccess closes a half-open breaker after a successful probe. In
// CLOSED state the failure window is left untouched so a flapping dependency
// still accumulates toward the threshold; pruneLocked ages entries out.
func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateHalfOpen {
		return
	}
	b.state = StateClosed
	b.failures = nil
	b.nextRetryTime = time.Time{}
	b.logger.Info("Circuit breaker closed after successful probe",
		zap.String("name", b.name),
	)
}

// trip opens the breaker and sets the next retry time. Caller holds the lock.
func (b *Breaker) trip(now time.Time) {
	b.state = StateOpen
	b.nextRetryTime = now.Add(b.cfg.ResetTimeout)
	b.failures = nil
	b.logger.Warn("Circuit breaker opened",
		zap.String("name", b.name),
		zap.Time("next_retry_at", b.nextRetryTime),
	)
}

// pruneLocked drops failures older than the monitoring window. Caller holds
// the lock.
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.MonitoringWindow)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = kept
}

// Reset forces the breaker back to CLOSED with counters cleared
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = nil
	b.nextRetryTime = time.Time{}
}

// Stats is a point-in-time snapshot of one breaker
type Stats struct {
	Name           string    `json:"name"`
	State          State     `json:"state"`
	RecentFailures int       `json:"recent_failures"`
	NextRetryTime  time.Time `json:"next_retry_time"`
}

// Snapshot returns the breaker's current stats
func (b *Breaker) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(b.now())
	return Stats{
		Name:           b.name,
		State:          b.state,
		RecentFailures: len(b.failures),
		NextRetryTime:  b.nextRetryTime,
	}
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
