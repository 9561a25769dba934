// Package breaker builds the circuit breakers that guard upstream calls.
package breaker

import (
	"time"

	"github.com/rewired-gh/proporacle/internal/logger"
	cb "github.com/sony/gobreaker"
)

// Settings tunes when a breaker opens and how long it stays open.
type Settings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// New returns a breaker that trips after ConsecutiveFailures failures in a row,
// or when more than half of at least 20 requests in the interval failed.
func New(name string, s Settings) *cb.CircuitBreaker {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	st := cb.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = s.OpenTimeout
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= s.ConsecutiveFailures {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.5
	}
	st.OnStateChange = func(name string, from, to cb.State) {
		logger.Warn("Circuit breaker %s: %s -> %s", name, from, to)
	}
	return cb.NewCircuitBreaker(st)
}
