package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mailsmith/internal/app"
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

// cacheFallback adapts the Postgres template cache to the secondary search
// path used when Meilisearch is absent or unhealthy.
type cacheFallback struct {
	cache *store.TemplateCache
}

func (f cacheFallback) SearchTemplates(ctx context.Context, query string, limit int) ([]search.Result, error) {
	cached, err := f.cache.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	results := make([]search.Result, 0, len(cached))
	for _, t := range cached {
		results = append(results, search.Result{
			ID:          t.TemplateID,
			Name:        t.Name,
			Description: t.Description,
		})
	}
	return results, nil
}

func main() {
	cfg := config.Load()
	ctx := context.Background()

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	var identityStore identity.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := identity.NewRedisStore(cfg.RedisURL, cfg.IdentityKey)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		identityStore = redisStore
		log.Printf("Using Redis for email identity storage")
	} else {
		identityStore = identity.NewMemoryStore()
		log.Printf("REDIS_URL not set; email identity will not survive restarts")
	}
	resolver := identity.NewResolver(identityStore)

	broker := auth.NewBroker(auth.NewClient(cfg.AuthURL, cfg.PluginID, cfg.SecretKey, cfg.UserID, cfg.UserRole))
	catalog := templates.NewClient(cfg.TemplateAPIURL, cfg.TemplateTiers)

	var cache *store.TemplateCache
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()
		cache = store.NewTemplateCache(db)
		if err := cache.EnsureSchema(ctx); err != nil {
			log.Fatalf("template cache schema failed: %v", err)
		}
	}

	var searchService *search.Service
	if cache != nil {
		var meiliClient *search.Meili
		if strings.TrimSpace(cfg.MeiliURL) != "" {
			meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
			defer meiliClient.Close()
		}
		searchService = search.NewService(meiliClient, cacheFallback{cache: cache})
	} else if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		searchService = search.NewService(meiliClient, nil)
	}

	var previews *preview.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		p, err := preview.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("preview storage failed: %v", err)
		}
		previews = p
	}

	service := app.New(cfg, app.Options{
		Broker:    broker,
		Resolver:  resolver,
		Manager:   editor.NewManager(cfg, broker, resolver),
		Catalog:   catalog,
		Cache:     cache,
		Search:    searchService,
		Previews:  previews,
		Snapshots: snapshot.New(cfg.ReposDir),
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Mailsmith API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	service.CloseSessions()
}
