package editor

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

// fakePage simulates the hosting page for state-machine tests: globals,
// script tags, render progress and the notification queue, without Chrome.
type fakePage struct {
	t *testing.T

	mu           sync.Mutex
	globals      map[string]bool
	scripts      map[string]string // element id -> src
	scriptErrors map[string]bool
	failingSrcs  map[string]bool

	renderAfterProbes int // probes before the boundary looks populated
	renderProbes      int

	targetsAfterProbes int // probes before the style targets appear (-1 = never)
	targetProbes       int

	queuedNotices []Notification
	patchSpecs    []patchSpec
	injections    []string // element ids, in order
	editorInvoked bool
	invokeExpr    string
	containerDiv  bool
}

func newFakePage(t *testing.T) *fakePage {
	return &fakePage{
		t:            t,
		globals:      map[string]bool{},
		scripts:      map[string]string{},
		scriptErrors: map[string]bool{},
		failingSrcs:  map[string]bool{},
		containerDiv: true,
	}
}

func (p *fakePage) Eval(ctx context.Context, expr string, out any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	assign := func(value any) error {
		if out == nil {
			return nil
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return json.Unmarshal(encoded, out)
	}

	switch {
	case strings.Contains(expr, "return 'pending'"):
		// waitForGlobal state probe.
		global := extractGlobal(expr)
		id := extractQuoted(expr, "window.__mailsmithScriptErrors[")
		if p.scriptErrors[id] {
			return assign("failed")
		}
		if p.globals[global] {
			return assign("loaded")
		}
		return assign("pending")

	case strings.HasPrefix(expr, "typeof window["):
		return assign(p.globals[extractGlobal(expr)])

	case strings.Contains(expr, "createElement('script')"):
		id := extractQuoted(expr, "document.getElementById(")
		src := extractQuoted(expr, "tag.src = ")
		if _, exists := p.scripts[id]; exists {
			return assign("exists")
		}
		p.scripts[id] = src
		p.injections = append(p.injections, id)
		if p.failingSrcs[src] {
			p.scriptErrors[id] = true
		} else {
			p.globals[globalForScript(id)] = true
		}
		return assign("injected")

	case strings.Contains(expr, "tag.remove()"):
		id := extractQuoted(expr, "document.getElementById(")
		delete(p.scripts, id)
		delete(p.scriptErrors, id)
		return assign(true)

	case strings.Contains(expr, "document.getElementById(") && strings.Contains(expr, "!== null"):
		id := extractQuoted(expr, "document.getElementById(")
		_, present := p.scripts[id]
		return assign(present)

	case strings.Contains(expr, "shadowRoot.childElementCount"):
		p.renderProbes++
		if p.renderAfterProbes < 0 {
			return assign(false)
		}
		return assign(p.renderProbes > p.renderAfterProbes)

	case strings.Contains(expr, "container !== null && container.childElementCount > 0"):
		// pre-apply target wait
		p.targetProbes++
		if p.targetsAfterProbes < 0 {
			return assign(false)
		}
		return assign(p.targetProbes > p.targetsAfterProbes)

	case strings.Contains(expr, "'use strict'"):
		// patch runtime install
		return assign(nil)

	case strings.Contains(expr, "window.__mailsmithPatch({"):
		payload := strings.TrimSuffix(strings.TrimPrefix(expr, "window.__mailsmithPatch("), ")")
		var spec patchSpec
		if err := json.Unmarshal([]byte(payload), &spec); err != nil {
			p.t.Fatalf("bad patch spec %q: %v", payload, err)
		}
		p.patchSpecs = append(p.patchSpecs, spec)
		names := make([]string, 0, len(spec.Targets))
		for _, target := range spec.Targets {
			names = append(names, target.Name)
		}
		return assign(names)

	case strings.Contains(expr, "window.__mailsmithWatch("):
		return assign(false)

	case strings.Contains(expr, "window.__mailsmithNotices = []"):
		drained := p.queuedNotices
		p.queuedNotices = nil
		return assign(drained)

	case strings.Contains(expr, ".create(window.__mailsmithToken"):
		p.editorInvoked = true
		p.invokeExpr = expr
		return assign(true)

	case strings.Contains(expr, "container.innerHTML = ''"):
		p.containerDiv = true
		return assign(true)

	default:
		p.t.Fatalf("fake page got unexpected expression: %s", expr)
		return nil
	}
}

func (p *fakePage) injectionCount(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, injected := range p.injections {
		if injected == id {
			count++
		}
	}
	return count
}

func globalForScript(id string) string {
	if id == shimScriptID {
		return "Vue"
	}
	return "BeePlugin"
}

// extractGlobal pulls the global name out of a `window["Name"]` reference.
func extractGlobal(expr string) string {
	return extractQuoted(expr, "window[")
}

// extractQuoted returns the first double-quoted string following marker.
func extractQuoted(expr, marker string) string {
	idx := strings.Index(expr, marker)
	if idx < 0 {
		return ""
	}
	rest := expr[idx+len(marker):]
	start := strings.Index(rest, `"`)
	if start < 0 {
		return ""
	}
	rest = rest[start+1:]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return ""
	}
	return rest[:end]
}
