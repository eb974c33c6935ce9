// Package app wires the integration's collaborators behind the HTTP
// surface: token proxy, template proxies, storage clearing, and the editor
// session lifecycle.
package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"mailsmith/internal/auth"
	"mailsmith/internal/config"
	"mailsmith/internal/editor"
	"mailsmith/internal/identity"
	"mailsmith/internal/preview"
	"mailsmith/internal/search"
	"mailsmith/internal/snapshot"
	"mailsmith/internal/store"
	"mailsmith/internal/templates"
)

type Service struct {
	cfg       config.Config
	broker    *auth.Broker
	resolver  *identity.Resolver
	manager   *editor.Manager
	catalog   *templates.Client
	cache     *store.TemplateCache // nil when no database configured
	search    *search.Service      // nil when search disabled entirely
	previews  *preview.Service     // nil when object storage not configured
	snapshots *snapshot.Service
}

type Options struct {
	Broker    *auth.Broker
	Resolver  *identity.Resolver
	Manager   *editor.Manager
	Catalog   *templates.Client
	Cache     *store.TemplateCache
	Search    *search.Service
	Previews  *preview.Service
	Snapshots *snapshot.Service
}

func New(cfg config.Config, opts Options) *Service {
	return &Service{
		cfg:       cfg,
		broker:    opts.Broker,
		resolver:  opts.Resolver,
		manager:   opts.Manager,
		catalog:   opts.Catalog,
		cache:     opts.Cache,
		search:    opts.Search,
		previews:  opts.Previews,
		snapshots: opts.Snapshots,
	}
}

// Token serves the token proxy: exchange failures map onto the error
// taxonomy rather than leaking upstream bodies.
func (s *Service) Token(ctx context.Context) (string, error) {
	token, err := s.broker.Token(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrCredentialsMissing) {
			return "", domainError(http.StatusServiceUnavailable, "AUTH_NOT_CONFIGURED",
				"Editor credentials not configured", nil)
		}
		var rejection *auth.RejectionError
		if errors.As(err, &rejection) {
			return "", domainError(http.StatusBadGateway, "AUTH_REJECTED", rejection.Guidance, nil)
		}
		return "", err
	}
	return token, nil
}

func (s *Service) ListTemplates(ctx context.Context, q templates.ListQuery) (templates.ListResult, error) {
	result, err := s.catalog.List(ctx, q)
	if err != nil {
		return templates.ListResult{}, domainError(http.StatusBadGateway, "CATALOG_ERROR",
			"Template catalog unavailable", nil)
	}
	return result, nil
}

// TemplateDetail fetches a template, caching and indexing on success and
// falling back to the cache when the remote catalog is down.
func (s *Service) TemplateDetail(ctx context.Context, id string) (templates.Detail, error) {
	detail, err := s.catalog.Get(ctx, id)
	if err == nil {
		s.rememberTemplate(id, detail)
		return detail, nil
	}
	if errors.Is(err, templates.ErrNotNumeric) {
		return templates.Detail{}, domainError(http.StatusBadRequest, "INVALID_TEMPLATE_ID",
			"Template id must be numeric; pass the templateId field from a listing entry", nil)
	}

	if s.cache != nil {
		cached, cacheErr := s.cache.Get(ctx, id)
		if cacheErr == nil {
			log.Printf("templates: serving %s from cache after catalog error: %v", id, err)
			return templates.Detail{
				HTML:        cached.HTML,
				CSS:         cached.CSS,
				Name:        cached.Name,
				Description: cached.Description,
			}, nil
		}
	}
	return templates.Detail{}, domainError(http.StatusBadGateway, "CATALOG_ERROR",
		"Template catalog unavailable", nil)
}

// rememberTemplate is fire-and-forget: a cache or index miss never blocks a
// detail response.
func (s *Service) rememberTemplate(id string, detail templates.Detail) {
	if s.cache == nil && s.search == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if s.cache != nil {
			err := s.cache.Put(ctx, store.CachedTemplate{
				TemplateID:  id,
				Name:        detail.Name,
				Description: detail.Description,
				HTML:        detail.HTML,
				CSS:         detail.CSS,
			})
			if err != nil {
				log.Printf("templates: cache write for %s failed: %v", id, err)
			}
		}
		if s.search != nil {
			s.search.IndexTemplate(search.Record{
				ID:          id,
				Name:        detail.Name,
				Description: detail.Description,
			})
		}
	}()
}

// CreateTemplate always succeeds with a freshly minted opaque identifier.
// The remote service has no reachable authenticated create endpoint; the
// editor itself creates the document at initialization time.
func (s *Service) CreateTemplate(name, subject, html string) map[string]any {
	templateID := uuid.NewString()
	log.Printf("templates: minted %s (name=%q subject=%q, %d bytes html); creation deferred to editor",
		templateID, name, subject, len(html))
	return map[string]any{
		"templateId": templateID,
		"name":       name,
		"subject":    subject,
		"deferred":   true,
	}
}

// ClearStorage drops the server-side identity slot. The browser-local half
// of the clear is the client's job, so the response is instructional.
func (s *Service) ClearStorage(ctx context.Context, clearAll bool) (map[string]any, error) {
	if err := s.resolver.Clear(ctx); err != nil {
		return nil, err
	}
	return map[string]any{
		"cleared":    true,
		"storageKey": s.cfg.IdentityKey,
		"clearAll":   clearAll,
		"note":       "server-side identity slot cleared; remove the same key from browser localStorage",
	}, nil
}

func (s *Service) SearchTemplates(ctx context.Context, query string, limit int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query}
	}
	return s.search.Search(ctx, query, limit)
}

// MountSession starts one editor session in a fresh browser tab.
func (s *Service) MountSession(ctx context.Context, opts editor.MountOptions) (editor.Snapshot, error) {
	session, err := s.manager.Mount(ctx, opts)
	if err != nil {
		return editor.Snapshot{}, domainError(http.StatusBadGateway, "MOUNT_FAILED",
			"Could not open an editor tab", nil)
	}
	return session.Snapshot(), nil
}

func (s *Service) Session(id string) (editor.Snapshot, error) {
	session, ok := s.manager.Get(id)
	if !ok {
		return editor.Snapshot{}, domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "No such session", nil)
	}
	return session.Snapshot(), nil
}

func (s *Service) ResizeSession(ctx context.Context, id string, widthPx int) (editor.Snapshot, error) {
	session, ok := s.manager.Get(id)
	if !ok {
		return editor.Snapshot{}, domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "No such session", nil)
	}
	if widthPx <= 0 {
		return editor.Snapshot{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"width must be a positive pixel count", nil)
	}
	if err := session.Resize(ctx, widthPx); err != nil {
		return editor.Snapshot{}, domainError(http.StatusConflict, "RESIZE_FAILED", err.Error(), nil)
	}
	return session.Snapshot(), nil
}

// SetSessionPanel toggles one of the compact layout's side panels.
func (s *Service) SetSessionPanel(ctx context.Context, id, tag string, visible bool) (editor.Snapshot, error) {
	session, ok := s.manager.Get(id)
	if !ok {
		return editor.Snapshot{}, domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "No such session", nil)
	}
	if tag == "" {
		return editor.Snapshot{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"tag must name a side panel", nil)
	}
	if err := session.SetPanelVisible(ctx, tag, visible); err != nil {
		return editor.Snapshot{}, domainError(http.StatusConflict, "PANEL_TOGGLE_FAILED", err.Error(), nil)
	}
	return session.Snapshot(), nil
}

func (s *Service) RetrySession(ctx context.Context, id string) (editor.Snapshot, error) {
	session, ok := s.manager.Get(id)
	if !ok {
		return editor.Snapshot{}, domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "No such session", nil)
	}
	if err := session.Retry(ctx); err != nil {
		// The retry ran; its failure is visible in the snapshot state.
		log.Printf("app: session %s retry failed: %v", id, err)
	}
	return session.Snapshot(), nil
}

func (s *Service) UnmountSession(id string) error {
	if !s.manager.Unmount(id) {
		return domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "No such session", nil)
	}
	return nil
}

// PreviewSession captures the session's tab and stores it as the document's
// preview image.
func (s *Service) PreviewSession(ctx context.Context, id string) (map[string]any, error) {
	if s.previews == nil {
		return nil, domainError(http.StatusServiceUnavailable, "PREVIEWS_DISABLED",
			"Preview storage is not configured", nil)
	}
	session, ok := s.manager.Get(id)
	if !ok {
		return nil, domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "No such session", nil)
	}
	png, err := session.Preview()
	if err != nil {
		return nil, domainError(http.StatusConflict, "PREVIEW_FAILED", err.Error(), nil)
	}
	snap := session.Snapshot()
	url, err := s.previews.Put(ctx, snap.DocumentID, png)
	if err != nil {
		return nil, domainError(http.StatusBadGateway, "PREVIEW_STORE_FAILED",
			"Could not store the preview image", nil)
	}
	return map[string]any{"previewUrl": url, "documentId": snap.DocumentID}, nil
}

func (s *Service) SaveSnapshot(documentID string, design snapshot.Design, author string) (snapshot.Entry, error) {
	entry, err := s.snapshots.Save(documentID, design, author)
	if err != nil {
		return snapshot.Entry{}, domainError(http.StatusInternalServerError, "SNAPSHOT_FAILED",
			"Could not record the design snapshot", nil)
	}
	return entry, nil
}

func (s *Service) SnapshotHistory(documentID string) ([]snapshot.Entry, error) {
	entries, err := s.snapshots.History(documentID)
	if err != nil {
		return nil, domainError(http.StatusInternalServerError, "SNAPSHOT_FAILED",
			"Could not read the design history", nil)
	}
	return entries, nil
}

// Ping checks the optional backing stores that are actually configured.
func (s *Service) Ping(ctx context.Context) map[string]error {
	checks := map[string]error{}
	if s.cache != nil {
		checks["database"] = s.cache.Ping(ctx)
	}
	return checks
}

// CloseSessions tears down all mounted sessions; used on shutdown.
func (s *Service) CloseSessions() {
	s.manager.CloseAll()
}
