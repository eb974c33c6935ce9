package editor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		ShimURL:         "https://cdn.example/vue.js",
		ShimFallbackURL: "https://fallback.example/vue.js",
		EditorURL:       "https://cdn.example/editor.js",
		PollInterval:    time.Millisecond,
		PollAttempts:    5,
		SettleDelay:     time.Millisecond,
	}
}

func TestEnsureRuntimeLoadedInjectsBothScripts(t *testing.T) {
	page := newFakePage(t)
	sequencer := NewSequencer(page, testBootstrapConfig())

	if err := sequencer.EnsureRuntimeLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureRuntimeLoaded failed: %v", err)
	}
	if page.injectionCount(shimScriptID) != 1 {
		t.Errorf("expected 1 shim injection, got %d", page.injectionCount(shimScriptID))
	}
	if page.injectionCount(editorScriptID) != 1 {
		t.Errorf("expected 1 editor injection, got %d", page.injectionCount(editorScriptID))
	}
}

func TestEnsureRuntimeLoadedSkipsPresentGlobals(t *testing.T) {
	page := newFakePage(t)
	page.globals["Vue"] = true
	page.globals["BeePlugin"] = true
	sequencer := NewSequencer(page, testBootstrapConfig())

	if err := sequencer.EnsureRuntimeLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureRuntimeLoaded failed: %v", err)
	}
	if len(page.injections) != 0 {
		t.Errorf("expected no injections when globals present, got %v", page.injections)
	}
}

func TestShimFailureIsNonFatalWithOneFallback(t *testing.T) {
	page := newFakePage(t)
	page.failingSrcs["https://cdn.example/vue.js"] = true
	page.failingSrcs["https://fallback.example/vue.js"] = true
	sequencer := NewSequencer(page, testBootstrapConfig())

	if err := sequencer.EnsureRuntimeLoaded(context.Background()); err != nil {
		t.Fatalf("shim failure must not block the critical path: %v", err)
	}
	// Primary attempt plus exactly one fallback attempt.
	if got := page.injectionCount(shimScriptID); got != 2 {
		t.Errorf("expected 2 shim injections (primary + fallback), got %d", got)
	}
	if page.injectionCount(editorScriptID) != 1 {
		t.Errorf("editor script should still load, got %d injections", page.injectionCount(editorScriptID))
	}
}

func TestEditorScriptNetworkErrorIsFatal(t *testing.T) {
	page := newFakePage(t)
	page.globals["Vue"] = true
	page.failingSrcs["https://cdn.example/editor.js"] = true
	sequencer := NewSequencer(page, testBootstrapConfig())

	err := sequencer.EnsureRuntimeLoaded(context.Background())
	if !errors.Is(err, ErrScriptNotLoaded) {
		t.Fatalf("expected ErrScriptNotLoaded, got %v", err)
	}
}

func TestConcurrentCallsInjectExactlyOnce(t *testing.T) {
	page := newFakePage(t)
	sequencer := NewSequencer(page, testBootstrapConfig())

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = sequencer.EnsureRuntimeLoaded(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}
	if got := page.injectionCount(editorScriptID); got != 1 {
		t.Errorf("expected exactly one editor script tag, got %d", got)
	}
}

func TestFailedAttemptCanRetry(t *testing.T) {
	page := newFakePage(t)
	page.globals["Vue"] = true
	page.failingSrcs["https://cdn.example/editor.js"] = true
	sequencer := NewSequencer(page, testBootstrapConfig())

	if err := sequencer.EnsureRuntimeLoaded(context.Background()); err == nil {
		t.Fatal("expected first attempt to fail")
	}

	// Network recovers; the stale tag is still in the DOM with its error
	// flag, so clear it the way a retrying page would.
	page.mu.Lock()
	delete(page.failingSrcs, "https://cdn.example/editor.js")
	delete(page.scripts, editorScriptID)
	delete(page.scriptErrors, editorScriptID)
	page.mu.Unlock()

	sequencer.Reset()
	if err := sequencer.EnsureRuntimeLoaded(context.Background()); err != nil {
		t.Fatalf("retry after recovery failed: %v", err)
	}
}
