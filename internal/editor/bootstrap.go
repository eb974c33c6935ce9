package editor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"mailsmith/internal/poll"
)

// Script element ids. Stable so concurrent injections can be deduplicated by
// a DOM lookup, and so operators can spot our tags in a page inspector.
const (
	shimScriptID   = "mailsmith-shim-script"
	editorScriptID = "mailsmith-editor-script"
)

// ErrScriptNotLoaded is the fatal outcome of the hard bootstrap step: the
// editor bundle script never produced its global entry point.
var ErrScriptNotLoaded = errors.New("editor script not loaded")

// BootstrapConfig tunes the runtime-script loading sequence.
type BootstrapConfig struct {
	// Soft dependency: reactive-framework shim. Failure never blocks.
	ShimURL         string
	ShimFallbackURL string
	ShimGlobal      string // e.g. "Vue"

	// Hard dependency: the editor bundle. Failure is fatal.
	EditorURL    string
	EditorGlobal string // e.g. "BeePlugin"

	PollInterval time.Duration
	PollAttempts int
	SettleDelay  time.Duration
}

func (c *BootstrapConfig) applyDefaults() {
	if c.ShimGlobal == "" {
		c.ShimGlobal = "Vue"
	}
	if c.EditorGlobal == "" {
		c.EditorGlobal = "BeePlugin"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = 25
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 300 * time.Millisecond
	}
}

// Sequencer loads the page's runtime scripts in dependency order: shim first
// (best effort), then the editor bundle (required). Safe to call
// concurrently; all callers share one in-flight attempt and injection is
// deduplicated by element id.
type Sequencer struct {
	ev  Evaluator
	cfg BootstrapConfig

	mu       sync.Mutex
	inflight chan struct{}
	result   error
	done     bool
}

func NewSequencer(ev Evaluator, cfg BootstrapConfig) *Sequencer {
	cfg.applyDefaults()
	return &Sequencer{ev: ev, cfg: cfg}
}

// EnsureRuntimeLoaded resolves once both bootstrap steps have settled. The
// soft step settles successfully no matter what; only the hard step can
// return an error.
func (s *Sequencer) EnsureRuntimeLoaded(ctx context.Context) error {
	s.mu.Lock()
	if s.done {
		err := s.result
		s.mu.Unlock()
		return err
	}
	if s.inflight != nil {
		waiter := s.inflight
		s.mu.Unlock()
		select {
		case <-waiter:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
		err := s.result
		s.mu.Unlock()
		return err
	}
	s.inflight = make(chan struct{})
	waiter := s.inflight
	s.mu.Unlock()

	s.loadShim(ctx)
	err := s.loadEditor(ctx)

	s.mu.Lock()
	s.result = err
	s.done = err == nil
	s.inflight = nil
	s.mu.Unlock()
	close(waiter)
	return err
}

// Reset clears a failed attempt so a retry can run the sequence again.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	if s.inflight == nil {
		s.done = false
		s.result = nil
	}
	s.mu.Unlock()
}

// loadShim performs the soft step. Every exit path is a settle, never a
// failure: the editor bundle may not strictly require the shim.
func (s *Sequencer) loadShim(ctx context.Context) {
	switch s.probeGlobal(ctx, s.cfg.ShimGlobal) {
	case poll.Present:
		return
	case poll.Uncertain:
		log.Printf("editor: shim probe uncertain, continuing without confirmation")
		return
	}

	if s.cfg.ShimURL == "" {
		return
	}

	present, err := s.scriptTagPresent(ctx, shimScriptID)
	if err == nil && present {
		// Someone else's tag is already loading it; give the marker a
		// bounded chance to appear, then move on regardless.
		s.waitForGlobal(ctx, s.cfg.ShimGlobal, shimScriptID)
		return
	}

	if err := s.injectScript(ctx, shimScriptID, s.cfg.ShimURL); err != nil {
		log.Printf("editor: shim injection failed: %v", err)
		return
	}
	if s.waitForGlobal(ctx, s.cfg.ShimGlobal, shimScriptID) == loadFailed && s.cfg.ShimFallbackURL != "" {
		// Exactly one fallback source.
		log.Printf("editor: shim load failed, trying fallback source")
		_ = s.removeScript(ctx, shimScriptID)
		if err := s.injectScript(ctx, shimScriptID, s.cfg.ShimFallbackURL); err != nil {
			log.Printf("editor: shim fallback injection failed: %v", err)
			return
		}
		s.waitForGlobal(ctx, s.cfg.ShimGlobal, shimScriptID)
	}
}

// loadEditor performs the hard step.
func (s *Sequencer) loadEditor(ctx context.Context) error {
	if s.probeGlobal(ctx, s.cfg.EditorGlobal) == poll.Present {
		return nil
	}

	present, err := s.scriptTagPresent(ctx, editorScriptID)
	if err != nil {
		return fmt.Errorf("probe editor script tag: %w", err)
	}
	if present {
		switch s.waitForGlobal(ctx, s.cfg.EditorGlobal, editorScriptID) {
		case loadSucceeded:
			return nil
		case loadFailed:
			return fmt.Errorf("%w: script tag errored", ErrScriptNotLoaded)
		default:
			return fmt.Errorf("%w: global %s never appeared", ErrScriptNotLoaded, s.cfg.EditorGlobal)
		}
	}

	if err := s.injectScript(ctx, editorScriptID, s.cfg.EditorURL); err != nil {
		return fmt.Errorf("inject editor script: %w", err)
	}

	switch s.waitForGlobal(ctx, s.cfg.EditorGlobal, editorScriptID) {
	case loadSucceeded:
	case loadFailed:
		return fmt.Errorf("%w: network error fetching %s", ErrScriptNotLoaded, s.cfg.EditorURL)
	default:
		return fmt.Errorf("%w: global %s never appeared after injection", ErrScriptNotLoaded, s.cfg.EditorGlobal)
	}

	// Short settle: the bundle may define its global a tick before its
	// internals are callable.
	select {
	case <-time.After(s.cfg.SettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.probeGlobal(ctx, s.cfg.EditorGlobal) != poll.Present {
		return fmt.Errorf("%w: global %s vanished after settle", ErrScriptNotLoaded, s.cfg.EditorGlobal)
	}
	return nil
}

// probeGlobal is a single-shot capability probe for an ambient global.
func (s *Sequencer) probeGlobal(ctx context.Context, global string) poll.Capability {
	return poll.Probe(ctx, s.cfg.PollInterval, 1, func(ctx context.Context) (bool, error) {
		var present bool
		err := s.ev.Eval(ctx, fmt.Sprintf("typeof window[%q] !== 'undefined'", global), &present)
		return present, err
	})
}

type loadResult int

const (
	loadSucceeded loadResult = iota
	loadFailed
	loadTimedOut
)

// waitForGlobal polls for a script's global marker, watching the injected
// onerror flag so a network failure is distinguishable from slowness.
func (s *Sequencer) waitForGlobal(ctx context.Context, global, scriptID string) loadResult {
	failed := false
	outcome := poll.Until(ctx, s.cfg.PollInterval, s.cfg.PollAttempts, func(ctx context.Context) (bool, error) {
		var state string
		expr := fmt.Sprintf(`(() => {
			if (typeof window[%q] !== 'undefined') return 'loaded';
			if (window.__mailsmithScriptErrors && window.__mailsmithScriptErrors[%q]) return 'failed';
			return 'pending';
		})()`, global, scriptID)
		if err := s.ev.Eval(ctx, expr, &state); err != nil {
			return false, err
		}
		if state == "failed" {
			failed = true
			return true, nil
		}
		return state == "loaded", nil
	})
	if failed {
		return loadFailed
	}
	if outcome == poll.Satisfied {
		return loadSucceeded
	}
	return loadTimedOut
}

func (s *Sequencer) scriptTagPresent(ctx context.Context, scriptID string) (bool, error) {
	var present bool
	err := s.ev.Eval(ctx, fmt.Sprintf("document.getElementById(%q) !== null", scriptID), &present)
	return present, err
}

// injectScript adds a script tag with a stable id. The DOM-side id check
// makes injection exactly-once even if two sequencer attempts race.
func (s *Sequencer) injectScript(ctx context.Context, scriptID, src string) error {
	expr := fmt.Sprintf(`(() => {
		if (document.getElementById(%[1]q)) return 'exists';
		const tag = document.createElement('script');
		tag.id = %[1]q;
		tag.src = %[2]q;
		tag.async = true;
		tag.onerror = () => {
			window.__mailsmithScriptErrors = window.__mailsmithScriptErrors || {};
			window.__mailsmithScriptErrors[%[1]q] = true;
		};
		document.head.appendChild(tag);
		return 'injected';
	})()`, scriptID, src)
	var state string
	if err := s.ev.Eval(ctx, expr, &state); err != nil {
		return err
	}
	return nil
}

func (s *Sequencer) removeScript(ctx context.Context, scriptID string) error {
	expr := fmt.Sprintf(`(() => {
		const tag = document.getElementById(%[1]q);
		if (tag) tag.remove();
		if (window.__mailsmithScriptErrors) delete window.__mailsmithScriptErrors[%[1]q];
		return true;
	})()`, scriptID)
	return s.ev.Eval(ctx, expr, nil)
}
