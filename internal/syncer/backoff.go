package syncer

import (
	"math"
	"math/rand"
	"time"
)

// Config tunes the orchestrator's retry, backoff, and drain behavior.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0

	// RequestTimeout bounds each handler call so one stuck request cannot
	// stall the whole drain cycle.
	RequestTimeout time.Duration

	// MaxRequeuePasses caps the fixed-point loop that re-queues operations
	// blocked on unresolved dependencies within a single drain cycle.
	MaxRequeuePasses int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       5,
		InitialBackoff:   500 * time.Millisecond,
		MaxBackoff:       5 * time.Minute,
		JitterFraction:   0.25,
		RequestTimeout:   30 * time.Second,
		MaxRequeuePasses: 3,
	}
}

// backoff computes the re-attempt delay for the given retry count with jitter.
func (o *Orchestrator) backoff(retries int) time.Duration {
	if retries < 1 {
		return 0
	}
	base := float64(o.config.InitialBackoff) * math.Pow(2, float64(retries-1))
	if base > float64(o.config.MaxBackoff) {
		base = float64(o.config.MaxBackoff)
	}
	jitter := base * o.config.JitterFraction * (rand.Float64()*2 - 1) // +/- jitter
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// gated reports whether an operation's last transient failure is still
// within its backoff window.
func (o *Orchestrator) gated(retries int, lastAttempt time.Time) bool {
	if retries == 0 || lastAttempt.IsZero() {
		return false
	}
	return o.now().Before(lastAttempt.Add(o.backoff(retries)))
}
