package editor

import (
	"context"
	"fmt"
	"log"
	"time"

	"mailsmith/internal/poll"
)

// RenderOutcome reports whether the embedded editor produced visible output
// inside its encapsulation boundary before the watchdog gave up.
type RenderOutcome int

const (
	RenderPending RenderOutcome = iota
	Rendered
	TimedOut
)

func (o RenderOutcome) String() string {
	switch o {
	case RenderPending:
		return "pending"
	case Rendered:
		return "rendered"
	case TimedOut:
		return "timed_out"
	}
	return "unknown"
}

// WatchdogConfig tunes render detection. The defaults (500 ms x 40 = 20 s)
// trade CPU against false negatives on slow editor builds.
type WatchdogConfig struct {
	ContainerSelector string
	PollInterval      time.Duration
	PollAttempts      int
}

func (c *WatchdogConfig) applyDefaults() {
	if c.ContainerSelector == "" {
		c.ContainerSelector = "#email-editor-container"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = 40
	}
}

// Watchdog polls for the editor's subtree. The editor mounts itself inside
// an encapsulated region it owns, with no completion callback, so polling
// is the only observation channel.
type Watchdog struct {
	ev  Evaluator
	cfg WatchdogConfig
}

func NewWatchdog(ev Evaluator, cfg WatchdogConfig) *Watchdog {
	cfg.applyDefaults()
	return &Watchdog{ev: ev, cfg: cfg}
}

// WaitForRender blocks until the boundary exists and has at least one child,
// or the attempt bound is spent. It always returns within
// attempts*interval plus one probe evaluation; a timeout is a degraded
// success for the caller (the UI proceeds to loaded), never a hang.
func (w *Watchdog) WaitForRender(ctx context.Context) RenderOutcome {
	outcome := poll.Until(ctx, w.cfg.PollInterval, w.cfg.PollAttempts, w.probe)
	switch outcome {
	case poll.Satisfied:
		return Rendered
	default:
		log.Printf("editor: render watchdog %s after %d attempts; proceeding as loaded",
			outcome, w.cfg.PollAttempts)
		return TimedOut
	}
}

// probe asks the page whether the encapsulation boundary is populated. The
// boundary is either a shadow root on a host inside the container or, for
// editor builds that frame themselves, any injected child element at all.
func (w *Watchdog) probe(ctx context.Context) (bool, error) {
	expr := fmt.Sprintf(`(() => {
		const container = document.querySelector(%q);
		if (!container) return false;
		for (const host of container.querySelectorAll('*')) {
			if (host.shadowRoot && host.shadowRoot.childElementCount > 0) return true;
		}
		const frame = container.querySelector('iframe');
		if (frame) return true;
		return container.childElementCount > 0;
	})()`, w.cfg.ContainerSelector)
	var populated bool
	if err := w.ev.Eval(ctx, expr, &populated); err != nil {
		return false, err
	}
	return populated, nil
}
