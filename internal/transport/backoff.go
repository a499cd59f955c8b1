// Package transport owns the persistent connection to one agent
// session: dialing, heartbeat, reconnect with exponential backoff,
// and the policy deciding which closures are worth retrying.
package transport

import "time"

// Close codes with defined retry semantics. Anything else retries
// with backoff up to the attempt cap.
const (
	CloseNormal          = 1000
	CloseAbnormal        = 1006
	CloseAuthFailure     = 4001
	CloseForbidden       = 4003
	CloseSessionNotFound = 4004
)

// CloseError reports why a connection ended. SSE closures synthesize
// CloseAbnormal since the protocol has no close codes.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason == "" {
		return "connection closed"
	}
	return e.Reason
}

func retryable(code int) bool {
	switch code {
	case CloseNormal, CloseAuthFailure, CloseForbidden, CloseSessionNotFound:
		return false
	}
	return true
}

// BackoffPolicy is the reconnect schedule: Initial doubling per
// attempt, capped at Max, giving up after MaxAttempts failures.
type BackoffPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Initial:     time.Second,
		Max:         30 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns the wait before reconnect attempt number attempt
// (1-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}
