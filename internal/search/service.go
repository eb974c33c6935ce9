package search

import (
	"context"
	"log"
)

// Service tries Meilisearch first and falls back to the cache store.
// meili may be nil when Meilisearch is not configured.
type Service struct {
	meili    *Meili
	fallback Fallback
}

func NewService(meili *Meili, fallback Fallback) *Service {
	return &Service{meili: meili, fallback: fallback}
}

func (s *Service) Search(ctx context.Context, query string, limit int) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(query, limit)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: query}
		}
		log.Printf("search: meilisearch error, falling back to cache: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: query}
	}
	results, err := s.fallback.SearchTemplates(ctx, query, limit)
	if err != nil {
		log.Printf("search: fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: query}
	}
	return Response{Results: nonNil(results), Total: len(results), Query: query}
}

// IndexTemplate indexes fire-and-forget; a missed index never blocks a
// template fetch.
func (s *Service) IndexTemplate(record Record) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTemplate(record); err != nil {
			log.Printf("search: index template %s: %v", record.ID, err)
		}
	}()
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
