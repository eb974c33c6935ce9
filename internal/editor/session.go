package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"mailsmith/internal/auth"
	"mailsmith/internal/identity"
	"mailsmith/internal/poll"
)

// LoadingState drives the hosting UI: spinner, content, or recoverable
// error panel. Monotonic within one initialization attempt; Retry resets it
// and starts a new attempt.
type LoadingState int

const (
	StateIdle LoadingState = iota
	StateLoading
	StateLoaded
	StateError
)

func (s LoadingState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateError:
		return "error"
	}
	return "unknown"
}

// MergeTag is one entry of the merge-tag catalog handed to the editor.
type MergeTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// InvokeConfig is everything the embedded editor's initializer needs beyond
// the identity and token, which the session supplies.
type InvokeConfig struct {
	EditorGlobal    string
	ContainerID     string
	UserDisplayName string
	Locale          string
	InitialHTML     string
	InitialCSS      string
	TokenEndpoint   string
	MergeTags       []MergeTag
	MobileToggle    string
	DesktopToggle   string
}

func (c *InvokeConfig) applyDefaults() {
	if c.EditorGlobal == "" {
		c.EditorGlobal = "BeePlugin"
	}
	if c.ContainerID == "" {
		c.ContainerID = "email-editor-container"
	}
	if c.Locale == "" {
		c.Locale = "en-US"
	}
	if c.TokenEndpoint == "" {
		c.TokenEndpoint = "/api/editor/token"
	}
	if c.MobileToggle == "" {
		c.MobileToggle = "#view-toggle-mobile"
	}
	if c.DesktopToggle == "" {
		c.DesktopToggle = "#view-toggle-desktop"
	}
	if len(c.MergeTags) == 0 {
		c.MergeTags = []MergeTag{
			{Name: "First name", Value: "{{first_name}}"},
			{Name: "Last name", Value: "{{last_name}}"},
			{Name: "Email", Value: "{{email}}"},
			{Name: "Unsubscribe link", Value: "{{unsubscribe_url}}"},
		}
	}
}

// Deps are the collaborators one session coordinates.
type Deps struct {
	Ev         Evaluator
	Tab        *Tab // nil in tests; enables viewport/screenshot
	Sequencer  *Sequencer
	Resolver   *identity.Resolver
	Broker     *auth.Broker
	Watchdog   *Watchdog
	Patcher    *Patcher
	Classifier *Classifier
}

// Options select the identity flow and initial layout for a mount.
type Options struct {
	ExplicitID   string
	ShouldCreate bool
	WidthPx      int
	Invoke       InvokeConfig
}

// Session is one mount of the integration: the per-mount mutable context
// shared by the bootstrap sequencer, identity resolver, token broker,
// render watchdog and presentation patcher.
type Session struct {
	ID string

	deps Deps
	opts Options

	mu         sync.Mutex
	state      LoadingState
	stateMsg   string
	documentID string
	guard      bool // latched on first successful start of initialization
	alive      bool
	outcome    RenderOutcome
	widthPx    int
	notices    []Notification
	cleanup    []func()
}

func NewSession(id string, deps Deps, opts Options) *Session {
	opts.Invoke.applyDefaults()
	if opts.WidthPx <= 0 {
		opts.WidthPx = 1280
	}
	return &Session{
		ID:    id,
		deps:  deps,
		opts:  opts,
		state: StateIdle,
		alive: true,
	}
}

// Snapshot is the externally visible session state.
type Snapshot struct {
	ID            string         `json:"id"`
	State         string         `json:"state"`
	Message       string         `json:"message,omitempty"`
	DocumentID    string         `json:"documentId,omitempty"`
	RenderOutcome string         `json:"renderOutcome"`
	WidthPx       int            `json:"widthPx"`
	Notifications []Notification `json:"notifications,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	notes := make([]Notification, len(s.notices))
	copy(notes, s.notices)
	return Snapshot{
		ID:            s.ID,
		State:         s.state.String(),
		Message:       s.stateMsg,
		DocumentID:    s.documentID,
		RenderOutcome: s.outcome.String(),
		WidthPx:       s.widthPx,
		Notifications: notes,
	}
}

// Start runs one initialization attempt: bootstrap, identity, token
// pre-fetch, editor invocation, render watchdog, first patch. The guard
// latch makes a duplicate call on an already-started session a no-op, which
// absorbs double-invocation behavior in hosting frameworks.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return fmt.Errorf("session %s is closed", s.ID)
	}
	if s.guard {
		s.mu.Unlock()
		return nil
	}
	s.guard = true
	s.state = StateLoading
	s.stateMsg = ""
	s.widthPx = s.opts.WidthPx
	s.mu.Unlock()

	if err := s.initialize(ctx); err != nil {
		s.setError(err)
		return err
	}
	return nil
}

func (s *Session) initialize(ctx context.Context) error {
	// Ordering matters: the editor may synchronously need both its
	// runtime globals and a token during its initializer.
	if err := s.deps.Sequencer.EnsureRuntimeLoaded(ctx); err != nil {
		return err
	}

	docID, err := s.deps.Resolver.Resolve(ctx, s.opts.ExplicitID, s.opts.ShouldCreate)
	if err != nil {
		return fmt.Errorf("resolve document identity: %w", err)
	}
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return fmt.Errorf("session %s torn down during init", s.ID)
	}
	// Immutable once chosen for this mount.
	if s.documentID == "" {
		s.documentID = docID
	}
	docID = s.documentID
	s.mu.Unlock()

	if err := s.deps.Broker.Prefetch(ctx); err != nil {
		return err
	}
	token, _ := s.deps.Broker.Cached()

	if s.deps.Tab != nil {
		if err := s.deps.Tab.SetViewport(s.opts.WidthPx, 900); err != nil {
			log.Printf("editor: viewport setup failed: %v", err)
		}
	}

	if err := s.invokeEditor(ctx, docID, token); err != nil {
		return fmt.Errorf("invoke editor: %w", err)
	}

	outcome := s.deps.Watchdog.WaitForRender(ctx)
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return fmt.Errorf("session %s torn down during init", s.ID)
	}
	s.outcome = outcome
	// Timed out still becomes loaded: any deeper failure surfaces through
	// the editor's own error stream, not the watchdog.
	s.state = StateLoaded
	s.mu.Unlock()

	// Give the opaque targets a bounded chance to appear; an exhausted
	// wait still applies, since the patch runtime tolerates absent tags.
	if targets := s.deps.Patcher.WaitForTargets(ctx); targets != poll.Satisfied {
		log.Printf("editor: style targets not confirmed (%s), applying anyway", targets)
	}
	if err := s.deps.Patcher.ApplyResponsiveStyles(ctx, s.opts.WidthPx); err != nil {
		log.Printf("editor: initial style patch failed: %v", err)
	}

	s.startBackgroundWork()
	return nil
}

// startBackgroundWork owns the session's observers and interval timers.
// They all hang off one context so teardown is a single cancel.
func (s *Session) startBackgroundWork() {
	bgCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cleanup = append(s.cleanup, cancel)
	s.mu.Unlock()

	go s.deps.Patcher.WatchMutations(bgCtx)
	go s.pollNotifications(bgCtx)
}

// pollNotifications drains the page-side notification queue and runs it
// through the classifier. Identity-limit errors clear the stored identity
// and never reach the visible stream.
func (s *Session) pollNotifications(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var notes []Notification
		expr := `(() => {
			const drained = window.__mailsmithNotices || [];
			window.__mailsmithNotices = [];
			return drained;
		})()`
		if err := s.deps.Ev.Eval(ctx, expr, &notes); err != nil {
			continue
		}
		if len(notes) == 0 {
			continue
		}
		visible := s.deps.Classifier.Classify(ctx, notes)
		if len(visible) == 0 {
			continue
		}
		s.mu.Lock()
		if s.alive {
			s.notices = append(s.notices, visible...)
			if len(s.notices) > 50 {
				s.notices = s.notices[len(s.notices)-50:]
			}
		}
		s.mu.Unlock()
	}
}

// invokeEditor primes the page-side token cache, installs the notification
// sink and the unhandled-rejection suppressor, and calls the editor's
// global initializer with the full configuration object.
func (s *Session) invokeEditor(ctx context.Context, docID, token string) error {
	cfg := s.opts.Invoke

	// Collaboration toggles (track changes, conditions, module sync,
	// messaging settings) are pinned off in the injected settings object
	// below, so they never appear here.
	type editorConfig struct {
		UID           string     `json:"uid"`
		Container     string     `json:"container"`
		Language      string     `json:"language"`
		UserName      string     `json:"username,omitempty"`
		MergeTags     []MergeTag `json:"mergeTags"`
		MobileToggle  string     `json:"mobileViewSelector"`
		DesktopToggle string     `json:"desktopViewSelector"`
		TokenEndpoint string     `json:"tokenEndpoint"`
		InitialHTML   string     `json:"initialHtml,omitempty"`
		InitialCSS    string     `json:"initialCss,omitempty"`
		DocumentIdent string     `json:"emailId"`
	}
	payload, err := json.Marshal(editorConfig{
		UID:           docID,
		Container:     cfg.ContainerID,
		Language:      cfg.Locale,
		UserName:      cfg.UserDisplayName,
		MergeTags:     cfg.MergeTags,
		MobileToggle:  cfg.MobileToggle,
		DesktopToggle: cfg.DesktopToggle,
		TokenEndpoint: cfg.TokenEndpoint,
		InitialHTML:   cfg.InitialHTML,
		InitialCSS:    cfg.InitialCSS,
		DocumentIdent: docID,
	})
	if err != nil {
		return fmt.Errorf("marshal editor config: %w", err)
	}

	expr := fmt.Sprintf(`(() => {
		window.__mailsmithToken = %s;
		window.__mailsmithNotices = window.__mailsmithNotices || [];
		if (!window.__mailsmithRejectionGuard) {
			window.__mailsmithRejectionGuard = true;
			window.addEventListener('unhandledrejection', (event) => {
				const text = String(event.reason && event.reason.message || event.reason || '');
				if (text.includes('403') || text.toLowerCase().includes('pluginconfiguration')) {
					event.preventDefault();
				}
			});
		}
		const spec = %s;
		const sink = (level) => (message) => {
			window.__mailsmithNotices.push({ level: level, message: String(message) });
		};
		const settings = {
			uid: spec.uid,
			container: spec.container,
			language: spec.language,
			username: spec.username,
			mergeTags: spec.mergeTags,
			trackChanges: false,
			advancedPermissions: {},
			conditionsEnabled: false,
			moduleSyncEnabled: false,
			messagingSettingsEnabled: false,
			defaultTabsOrder: undefined,
			mobileViewSelector: spec.mobileViewSelector,
			desktopViewSelector: spec.desktopViewSelector,
			onInfo: sink('info'),
			onWarning: sink('warn'),
			onError: sink('error'),
			onSuccess: sink('success'),
		};
		// Synchronous-first token hook: answer from the primed cache, then
		// refill it in the background for next time. When the cache is
		// empty the fetch happens first so the editor never sees an empty
		// value.
		const refreshHook = (done) => {
			const refill = () => fetch(spec.tokenEndpoint)
				.then((r) => r.json())
				.then((body) => { if (body.token) window.__mailsmithToken = body.token; })
				.catch(() => {});
			if (window.__mailsmithToken) {
				done(window.__mailsmithToken);
				refill();
				return;
			}
			refill().then(() => done(window.__mailsmithToken || ''));
		};
		settings.onTokenRefresh = refreshHook;
		window[%q].create(window.__mailsmithToken, settings, (instance) => {
			window.__mailsmithEditor = instance;
			instance.start({ emailId: spec.emailId, html: spec.initialHtml, css: spec.initialCss });
		});
		return true;
	})()`, jsString(token), payload, cfg.EditorGlobal)

	var ok bool
	if err := s.deps.Ev.Eval(ctx, expr, &ok); err != nil {
		return err
	}
	return nil
}

// Resize re-applies the responsive patch for a new container width.
func (s *Session) Resize(ctx context.Context, widthPx int) error {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return fmt.Errorf("session %s is closed", s.ID)
	}
	if s.state != StateLoaded {
		s.mu.Unlock()
		return fmt.Errorf("session %s not loaded", s.ID)
	}
	s.widthPx = widthPx
	s.mu.Unlock()

	if s.deps.Tab != nil {
		if err := s.deps.Tab.SetViewport(widthPx, 900); err != nil {
			log.Printf("editor: viewport resize failed: %v", err)
		}
	}
	return s.deps.Patcher.ApplyResponsiveStyles(ctx, widthPx)
}

// SetPanelVisible shows or hides one compact side panel on the user's
// behalf. The patcher remembers the choice until the next wide transition.
func (s *Session) SetPanelVisible(ctx context.Context, tag string, visible bool) error {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return fmt.Errorf("session %s is closed", s.ID)
	}
	if s.state != StateLoaded {
		s.mu.Unlock()
		return fmt.Errorf("session %s not loaded", s.ID)
	}
	s.mu.Unlock()

	return s.deps.Patcher.SetPanelVisible(ctx, tag, visible)
}

// Retry resets a failed attempt and runs initialization again.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return fmt.Errorf("session %s is closed", s.ID)
	}
	if s.state != StateError {
		s.mu.Unlock()
		return fmt.Errorf("session %s is not in an error state", s.ID)
	}
	s.state = StateIdle
	s.stateMsg = ""
	s.guard = false
	s.outcome = RenderPending
	s.mu.Unlock()

	s.deps.Sequencer.Reset()
	return s.Start(ctx)
}

// Preview captures the rendered tab as PNG.
func (s *Session) Preview() ([]byte, error) {
	s.mu.Lock()
	alive, state := s.alive, s.state
	s.mu.Unlock()
	if !alive || state != StateLoaded {
		return nil, errors.New("session not loaded")
	}
	if s.deps.Tab == nil {
		return nil, errors.New("session has no browser tab")
	}
	return s.deps.Tab.Screenshot()
}

// Close tears the mount down: background work canceled synchronously, the
// injected subtree cleared so a remount cannot collide with a stale
// encapsulation boundary, guards reset. In-flight fetches may complete
// afterwards; the alive flag keeps them from mutating this session.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}
	s.alive = false
	s.guard = false
	s.state = StateIdle
	cleanups := s.cleanup
	s.cleanup = nil
	s.mu.Unlock()

	for _, fn := range cleanups {
		fn()
	}

	clearCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	expr := fmt.Sprintf(`(() => {
		const container = document.getElementById(%q);
		if (container) container.innerHTML = '';
		window.__mailsmithEditor = null;
		return true;
	})()`, s.opts.Invoke.ContainerID)
	if err := s.deps.Ev.Eval(clearCtx, expr, nil); err != nil {
		log.Printf("editor: container clear on close failed: %v", err)
	}

	if s.deps.Tab != nil {
		s.deps.Tab.Close()
	}
}

func (s *Session) setError(err error) {
	msg := userFacingMessage(err)
	s.mu.Lock()
	if s.alive {
		s.state = StateError
		s.stateMsg = msg
	}
	s.mu.Unlock()
}

// userFacingMessage maps the error taxonomy to the recoverable error panel:
// configuration and transport errors are actionable, everything else gets a
// generic retry prompt.
func userFacingMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrCredentialsMissing):
		return "Editor credentials are not configured. Set EDITOR_PLUGIN_ID and EDITOR_SECRET_KEY."
	case errors.Is(err, auth.ErrAuthRejected):
		var rejection *auth.RejectionError
		if errors.As(err, &rejection) {
			return "The editor auth service rejected the exchange: " + rejection.Guidance
		}
		return "The editor auth service rejected the exchange."
	case errors.Is(err, ErrScriptNotLoaded):
		return "The editor script failed to load. Check network access and retry."
	default:
		return "Editor initialization failed. Retry, or clear the stored identity and retry."
	}
}

func jsString(value string) string {
	encoded, _ := json.Marshal(value)
	return string(encoded)
}
