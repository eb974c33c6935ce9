package editor

import (
	"context"
	"fmt"
	"log"
	"sync"

	"mailsmith/internal/auth"
	"mailsmith/internal/config"
	"mailsmith/internal/identity"
	"mailsmith/internal/util"
)

// Manager mounts and tracks editor sessions. The broker and resolver are
// shared (one token cache, one identity slot); everything page-scoped is
// per session.
type Manager struct {
	cfg      config.Config
	broker   *auth.Broker
	resolver *identity.Resolver

	// tabCtx parents every browser tab. Tabs must outlive the mount
	// request: the handler answers while initialization is still running,
	// and net/http cancels the request context on response write.
	tabCtx    context.Context
	tabCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg config.Config, broker *auth.Broker, resolver *identity.Resolver) *Manager {
	tabCtx, tabCancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		broker:    broker,
		resolver:  resolver,
		tabCtx:    tabCtx,
		tabCancel: tabCancel,
		sessions:  make(map[string]*Session),
	}
}

// MountOptions are the caller-facing knobs for a new session.
type MountOptions struct {
	ExplicitID   string
	ShouldCreate bool
	WidthPx      int
	InitialHTML  string
	InitialCSS   string
	UserName     string
}

// Mount opens a browser tab, wires a session over it, and starts
// initialization in the background. The returned session is immediately
// inspectable (state=loading) while initialization proceeds.
func (m *Manager) Mount(ctx context.Context, opts MountOptions) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.tabCtx.Err(); err != nil {
		return nil, fmt.Errorf("manager is shut down: %w", err)
	}
	tab, err := NewTab(m.tabCtx, m.cfg.EditorPageURL)
	if err != nil {
		return nil, fmt.Errorf("mount editor tab: %w", err)
	}

	session := m.buildSession(tab, tab, opts)

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	go func() {
		startCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := session.Start(startCtx); err != nil {
			log.Printf("editor: session %s initialization failed: %v", session.ID, err)
		}
	}()

	return session, nil
}

// buildSession wires the five cooperating responsibilities around one
// evaluator. Split out so tests can mount sessions over a fake evaluator
// with no browser.
func (m *Manager) buildSession(ev Evaluator, tab *Tab, opts MountOptions) *Session {
	sequencer := NewSequencer(ev, BootstrapConfig{
		ShimURL:         m.cfg.ShimScriptURL,
		ShimFallbackURL: m.cfg.ShimFallbackURL,
		EditorURL:       m.cfg.EditorScriptURL,
	})
	watchdog := NewWatchdog(ev, WatchdogConfig{
		PollInterval: m.cfg.RenderPollInterval,
		PollAttempts: m.cfg.RenderPollAttempts,
	})
	patcher := NewPatcher(ev, PatchConfig{})
	classifier := NewClassifier(m.resolver)

	return NewSession(util.NewID("sess"), Deps{
		Ev:         ev,
		Tab:        tab,
		Sequencer:  sequencer,
		Resolver:   m.resolver,
		Broker:     m.broker,
		Watchdog:   watchdog,
		Patcher:    patcher,
		Classifier: classifier,
	}, Options{
		ExplicitID:   opts.ExplicitID,
		ShouldCreate: opts.ShouldCreate,
		WidthPx:      opts.WidthPx,
		Invoke: InvokeConfig{
			UserDisplayName: opts.UserName,
			Locale:          m.cfg.EditorLocale,
			InitialHTML:     opts.InitialHTML,
			InitialCSS:      opts.InitialCSS,
		},
	})
}

// Get returns a mounted session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	return session, ok
}

// Unmount closes a session and forgets it.
func (m *Manager) Unmount(id string) bool {
	m.mu.Lock()
	session, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	session.Close()
	return true
}

// CloseAll tears down every session; used on process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	m.tabCancel()
}
