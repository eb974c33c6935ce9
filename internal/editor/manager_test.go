package editor

import (
	"context"
	"testing"

	"mailsmith/internal/auth"
	"mailsmith/internal/config"
	"mailsmith/internal/identity"
)

func newTestManager() *Manager {
	resolver := identity.NewResolver(identity.NewMemoryStore())
	broker := auth.NewBroker(&stubTokenSource{token: "tok-1"})
	return NewManager(config.Config{}, broker, resolver)
}

// Tabs are parented on the manager, not the mount request: the mount
// response is written while initialization is still running, and net/http
// cancels the request context at that point.
func TestTabContextSurvivesRequestCancellation(t *testing.T) {
	m := newTestManager()
	defer m.CloseAll()

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()

	select {
	case <-m.tabCtx.Done():
		t.Fatal("tab context must not follow a request context")
	default:
	}

	if _, err := m.Mount(reqCtx, MountOptions{}); err == nil {
		t.Error("Mount with an already-canceled request context should fail fast")
	}
	if err := m.tabCtx.Err(); err != nil {
		t.Errorf("tab context died with the request: %v", err)
	}
}

func TestCloseAllEndsTabContext(t *testing.T) {
	m := newTestManager()
	m.CloseAll()

	select {
	case <-m.tabCtx.Done():
	default:
		t.Fatal("CloseAll must cancel the shared tab context")
	}

	if _, err := m.Mount(context.Background(), MountOptions{}); err == nil {
		t.Error("Mount after CloseAll should fail")
	}
}
