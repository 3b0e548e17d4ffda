package downloader

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/italolelis/genome_downloader/internal/assembly"
	"github.com/italolelis/genome_downloader/internal/remote"
)

// state is the lifecycle position of one task.
//
//	pending -> in-flight -> verified
//	                     -> retrying -> in-flight
//	                     -> failed
type state int

const (
	statePending state = iota
	stateInFlight
	stateRetrying
	stateVerified
	stateFailed
)

func (s state) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateInFlight:
		return "in-flight"
	case stateRetrying:
		return "retrying"
	case stateVerified:
		return "verified"
	case stateFailed:
		return "failed"
	}

	return "unknown"
}

func (s state) terminal() bool {
	return s == stateVerified || s == stateFailed
}

// retryReason labels why a task went back to in-flight.
type retryReason string

const (
	retryNetwork  retryReason = "network"
	retryChecksum retryReason = "checksum"
)

// machine tracks attempts for one task. Network failures are bounded by
// maxAttempts; a checksum mismatch allows exactly one further attempt.
type machine struct {
	state            state
	maxAttempts      int
	attempts         int
	networkFailures  int
	checksumFailures int
	lastErr          error
	lastRetry        retryReason
	backoff          *backoff.ExponentialBackOff
}

func newMachine(maxAttempts int, initial, maxInterval time.Duration) *machine {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = maxInterval

	return &machine{
		state:       statePending,
		maxAttempts: maxAttempts,
		backoff:     bo,
	}
}

// begin moves pending or retrying to in-flight.
func (m *machine) begin() {
	if m.state == statePending || m.state == stateRetrying {
		m.state = stateInFlight
		m.attempts++
	}
}

// complete applies the result of an in-flight attempt.
func (m *machine) complete(err error) {
	if m.state != stateInFlight {
		return
	}

	m.lastErr = err

	var mismatch *assembly.ChecksumMismatchError

	switch {
	case err == nil:
		m.state = stateVerified
	case errors.Is(err, ErrDestination):
		m.state = stateFailed
	case errors.As(err, &mismatch):
		m.checksumFailures++
		if m.checksumFailures > 1 {
			m.state = stateFailed

			return
		}

		m.state = stateRetrying
		m.lastRetry = retryChecksum
	case remote.Permanent(err):
		m.state = stateFailed
	default:
		m.networkFailures++
		if m.networkFailures >= m.maxAttempts {
			m.state = stateFailed

			return
		}

		m.state = stateRetrying
		m.lastRetry = retryNetwork
	}
}

// fail ends the task from any state, used when the run is cancelled.
func (m *machine) fail(err error) {
	m.state = stateFailed
	m.lastErr = err
}

// nextDelay is the wait before the next in-flight transition.
func (m *machine) nextDelay() time.Duration {
	return m.backoff.NextBackOff()
}
