package editor

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"mailsmith/internal/poll"
)

//go:embed assets/patch.js
var patchJS string

// PatchConfig names the opaque internal tags the patcher targets. These are
// owned by the external editor component and may change between its
// releases, so they are configuration, not invariants.
type PatchConfig struct {
	ContainerSelector string

	// Structural lookup for the main content panel.
	KnownDescendantTag string
	AncestorTag        string
	MaxAncestorDepth   int

	// Directly addressable panels.
	RowsPanelTag string
	SidebarTag   string
	SidePanels   []string

	BreakpointPx     int
	PanelWidthPx     int
	RowsPanelWidthPx int

	MutationWatchWindow time.Duration
	MutationPollEvery   time.Duration

	// Bounded wait for the targets to appear before the first apply.
	TargetPollEvery    time.Duration
	TargetPollAttempts int
}

func (c *PatchConfig) applyDefaults() {
	if c.ContainerSelector == "" {
		c.ContainerSelector = "#email-editor-container"
	}
	if c.KnownDescendantTag == "" {
		c.KnownDescendantTag = "bee-row"
	}
	if c.AncestorTag == "" {
		c.AncestorTag = "bee-stage"
	}
	if c.MaxAncestorDepth <= 0 {
		c.MaxAncestorDepth = 6
	}
	if c.RowsPanelTag == "" {
		c.RowsPanelTag = "bee-rows-panel"
	}
	if c.SidebarTag == "" {
		c.SidebarTag = "bee-sidebar"
	}
	if len(c.SidePanels) == 0 {
		c.SidePanels = []string{"bee-settings-panel", "bee-comments-panel"}
	}
	if c.BreakpointPx <= 0 {
		c.BreakpointPx = 1200
	}
	if c.PanelWidthPx <= 0 {
		c.PanelWidthPx = 320
	}
	if c.RowsPanelWidthPx <= 0 {
		c.RowsPanelWidthPx = 480
	}
	if c.MutationWatchWindow <= 0 {
		c.MutationWatchWindow = 10 * time.Second
	}
	if c.MutationPollEvery <= 0 {
		c.MutationPollEvery = time.Second
	}
	if c.TargetPollEvery <= 0 {
		c.TargetPollEvery = 200 * time.Millisecond
	}
	if c.TargetPollAttempts <= 0 {
		c.TargetPollAttempts = 10
	}
}

// StyleDecl is one target's full style decision for a width: properties to
// set (with forced precedence) and properties to clear so the subtree's own
// stylesheet governs again. A property never appears in both.
type StyleDecl struct {
	Name          string            `json:"name"`
	Mode          string            `json:"mode"` // "structural" or "tag"
	Tag           string            `json:"tag,omitempty"`
	DescendantTag string            `json:"descendantTag,omitempty"`
	AncestorTag   string            `json:"ancestorTag,omitempty"`
	MaxDepth      int               `json:"maxDepth,omitempty"`
	Set           map[string]string `json:"set"`
	Remove        []string          `json:"remove"`
}

type patchSpec struct {
	Container string      `json:"container"`
	Targets   []StyleDecl `json:"targets"`
}

// Patcher applies responsive inline overrides to the editor's opaque
// subtree. Every call fully determines the resulting styles, so re-applying
// on resize, mutation, or watchdog confirmation can never accumulate state.
type Patcher struct {
	ev  Evaluator
	cfg PatchConfig

	mu        sync.Mutex
	installed bool
	lastWidth int
	// Side panels the user explicitly revealed while compact. Cleared on
	// every transition to wide, which restores visibility unconditionally.
	shownByUser map[string]bool
}

func NewPatcher(ev Evaluator, cfg PatchConfig) *Patcher {
	cfg.applyDefaults()
	return &Patcher{ev: ev, cfg: cfg, shownByUser: map[string]bool{}}
}

// Plan computes the full style decision for a container width. Pure with
// respect to the page: identical inputs produce identical plans.
func (p *Patcher) Plan(widthPx int) []StyleDecl {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.planLocked(widthPx)
}

func (p *Patcher) planLocked(widthPx int) []StyleDecl {
	compact := widthPx <= p.cfg.BreakpointPx
	if !compact {
		// Wide proactively restores anything hidden while compact.
		p.shownByUser = map[string]bool{}
	}

	var decls []StyleDecl
	if compact {
		decls = append(decls, StyleDecl{
			Name:          "content-panel",
			Mode:          "structural",
			DescendantTag: p.cfg.KnownDescendantTag,
			AncestorTag:   p.cfg.AncestorTag,
			MaxDepth:      p.cfg.MaxAncestorDepth,
			Set: map[string]string{
				"transform": "translate(10px, 20px)",
				"width":     fmt.Sprintf("%dpx", p.cfg.PanelWidthPx),
			},
			Remove: []string{},
		})
		// Wider pinned width so reflowed child thumbnails still fit.
		decls = append(decls, StyleDecl{
			Name: "rows-panel",
			Mode: "tag",
			Tag:  p.cfg.RowsPanelTag,
			Set: map[string]string{
				"transform": "translate(10px, 20px)",
				"width":     fmt.Sprintf("%dpx", p.cfg.RowsPanelWidthPx),
			},
			Remove: []string{},
		})
		decls = append(decls, StyleDecl{
			Name: "sidebar",
			Mode: "tag",
			Tag:  p.cfg.SidebarTag,
			Set: map[string]string{
				"display":        "flex",
				"flex-direction": "row",
				"flex-wrap":      "wrap",
			},
			Remove: []string{},
		})
		for _, tag := range p.cfg.SidePanels {
			decl := StyleDecl{Name: tag, Mode: "tag", Tag: tag, Set: map[string]string{}, Remove: []string{}}
			if p.shownByUser[tag] {
				decl.Remove = append(decl.Remove, "display")
			} else {
				decl.Set["display"] = "none"
			}
			decls = append(decls, decl)
		}
		return decls
	}

	// Wide: clear the compact overrides rather than re-setting them, so
	// the subtree's own styling governs. Only the horizontal translation
	// survives.
	decls = append(decls, StyleDecl{
		Name:          "content-panel",
		Mode:          "structural",
		DescendantTag: p.cfg.KnownDescendantTag,
		AncestorTag:   p.cfg.AncestorTag,
		MaxDepth:      p.cfg.MaxAncestorDepth,
		Set:           map[string]string{"transform": "translateX(10px)"},
		Remove:        []string{"width"},
	})
	decls = append(decls, StyleDecl{
		Name:   "rows-panel",
		Mode:   "tag",
		Tag:    p.cfg.RowsPanelTag,
		Set:    map[string]string{"transform": "translateX(10px)"},
		Remove: []string{"width"},
	})
	decls = append(decls, StyleDecl{
		Name:   "sidebar",
		Mode:   "tag",
		Tag:    p.cfg.SidebarTag,
		Set:    map[string]string{},
		Remove: []string{"display", "flex-direction", "flex-wrap"},
	})
	for _, tag := range p.cfg.SidePanels {
		decls = append(decls, StyleDecl{
			Name:   tag,
			Mode:   "tag",
			Tag:    tag,
			Set:    map[string]string{},
			Remove: []string{"display"},
		})
	}
	return decls
}

// ApplyResponsiveStyles pushes the plan for widthPx into the page.
func (p *Patcher) ApplyResponsiveStyles(ctx context.Context, widthPx int) error {
	p.mu.Lock()
	decls := p.planLocked(widthPx)
	p.lastWidth = widthPx
	p.mu.Unlock()

	if err := p.ensureInstalled(ctx); err != nil {
		return err
	}
	return p.push(ctx, decls)
}

// SetPanelVisible is the user's show/hide toggle for a compact side panel.
// In wide mode it is a no-op: visibility there is governed by the subtree.
func (p *Patcher) SetPanelVisible(ctx context.Context, tag string, visible bool) error {
	known := false
	for _, panel := range p.cfg.SidePanels {
		if panel == tag {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown side panel %q", tag)
	}

	p.mu.Lock()
	width := p.lastWidth
	if width == 0 || width > p.cfg.BreakpointPx {
		p.mu.Unlock()
		return nil
	}
	if visible {
		p.shownByUser[tag] = true
	} else {
		delete(p.shownByUser, tag)
	}
	decls := p.planLocked(width)
	p.mu.Unlock()

	return p.push(ctx, decls)
}

// WatchMutations installs a bounded-lifetime observer on the container and
// re-applies the current plan whenever the subtree changes during the
// window. Blocks until the window closes or ctx ends; callers run it in the
// session's goroutine set.
func (p *Patcher) WatchMutations(ctx context.Context) {
	if err := p.ensureInstalled(ctx); err != nil {
		log.Printf("editor: mutation watch unavailable: %v", err)
		return
	}
	var started bool
	err := p.ev.Eval(ctx, fmt.Sprintf("window.__mailsmithWatch(%q, %d)",
		p.cfg.ContainerSelector, p.cfg.MutationWatchWindow.Milliseconds()), &started)
	if err != nil || !started {
		log.Printf("editor: mutation watch not started (started=%v err=%v)", started, err)
		return
	}

	deadline := time.Now().Add(p.cfg.MutationWatchWindow)
	lastSeen := 0
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.MutationPollEvery):
		}
		var count int
		if err := p.ev.Eval(ctx, "window.__mailsmithMutationCount || 0", &count); err != nil {
			return
		}
		if count != lastSeen {
			lastSeen = count
			p.mu.Lock()
			width := p.lastWidth
			var decls []StyleDecl
			if width > 0 {
				decls = p.planLocked(width)
			}
			p.mu.Unlock()
			if decls != nil {
				if err := p.push(ctx, decls); err != nil {
					log.Printf("editor: re-patch after mutation failed: %v", err)
				}
			}
		}
	}
}

func (p *Patcher) ensureInstalled(ctx context.Context) error {
	p.mu.Lock()
	installed := p.installed
	p.mu.Unlock()
	if installed {
		return nil
	}
	if err := p.ev.Eval(ctx, patchJS, nil); err != nil {
		return fmt.Errorf("install patch runtime: %w", err)
	}
	p.mu.Lock()
	p.installed = true
	p.mu.Unlock()
	return nil
}

func (p *Patcher) push(ctx context.Context, decls []StyleDecl) error {
	spec := patchSpec{Container: p.cfg.ContainerSelector, Targets: decls}
	payload, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshal patch spec: %w", err)
	}
	var patched []string
	if err := p.ev.Eval(ctx, fmt.Sprintf("window.__mailsmithPatch(%s)", payload), &patched); err != nil {
		return fmt.Errorf("apply patch spec: %w", err)
	}
	sort.Strings(patched)
	log.Printf("editor: patched targets %v", patched)
	return nil
}

// WaitForTargets gives late-appearing targets a short bounded chance before
// the first apply, reusing the generic poll combinator.
func (p *Patcher) WaitForTargets(ctx context.Context) poll.Outcome {
	return poll.Until(ctx, p.cfg.TargetPollEvery, p.cfg.TargetPollAttempts, func(ctx context.Context) (bool, error) {
		var found bool
		expr := fmt.Sprintf(`(() => {
			const container = document.querySelector(%q);
			return container !== null && container.childElementCount > 0;
		})()`, p.cfg.ContainerSelector)
		if err := p.ev.Eval(ctx, expr, &found); err != nil {
			return false, err
		}
		return found, nil
	})
}
