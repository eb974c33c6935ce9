// Package poll provides a bounded polling loop for detecting state changes
// that have no callback: script globals appearing, an externally-owned
// subtree rendering, capabilities becoming available.
package poll

import (
	"context"
	"time"
)

// Outcome reports how a bounded poll ended.
type Outcome int

const (
	// Satisfied means the predicate returned true within the attempt bound.
	Satisfied Outcome = iota
	// Exhausted means every attempt ran without the predicate holding.
	Exhausted
	// Canceled means the context ended before the poll settled.
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Satisfied:
		return "satisfied"
	case Exhausted:
		return "exhausted"
	case Canceled:
		return "canceled"
	}
	return "unknown"
}

// Until checks predicate immediately, then once per interval, up to attempts
// total checks. It always returns: worst case after attempts*interval plus
// one predicate evaluation. Predicate errors are treated as "not yet" so a
// transiently failing probe does not abort the wait.
func Until(ctx context.Context, interval time.Duration, attempts int, predicate func(context.Context) (bool, error)) Outcome {
	if attempts < 1 {
		attempts = 1
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < attempts; i++ {
		if ok, err := predicate(ctx); err == nil && ok {
			return Satisfied
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return Canceled
		case <-ticker.C:
		}
	}
	if ctx.Err() != nil {
		return Canceled
	}
	return Exhausted
}

// Capability is the tri-state result of probing an ambient global.
type Capability int

const (
	// Absent means the probe ran and the capability is definitively missing.
	Absent Capability = iota
	// Present means the probe confirmed the capability.
	Present
	// Uncertain means the probe could not settle within its bound; callers
	// decide whether to degrade or fail.
	Uncertain
)

func (c Capability) String() string {
	switch c {
	case Absent:
		return "absent"
	case Present:
		return "present"
	case Uncertain:
		return "uncertain"
	}
	return "unknown"
}

// Probe polls for a capability. A predicate error on the final attempt maps
// to Uncertain rather than Absent: the capability may exist but the probe
// channel itself was unhealthy.
func Probe(ctx context.Context, interval time.Duration, attempts int, predicate func(context.Context) (bool, error)) Capability {
	if attempts < 1 {
		attempts = 1
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for i := 0; i < attempts; i++ {
		ok, err := predicate(ctx)
		lastErr = err
		if err == nil && ok {
			return Present
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return Uncertain
		case <-ticker.C:
		}
	}
	if lastErr != nil || ctx.Err() != nil {
		return Uncertain
	}
	return Absent
}
