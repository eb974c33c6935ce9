// Package search indexes cached templates for full-text lookup, with a
// Meilisearch primary and a cache-backed substring fallback.
package search

import "context"

// Record is one indexed template.
type Record struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Result is what the search endpoint returns.
type Result struct {
	ID          string `json:"templateId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Response is the search endpoint payload.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Fallback is the secondary search path used when Meilisearch is absent or
// unhealthy.
type Fallback interface {
	SearchTemplates(ctx context.Context, query string, limit int) ([]Result, error)
}
