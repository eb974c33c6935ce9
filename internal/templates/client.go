// Package templates proxies the remote template catalog: listing with tier
// fallback, detail fetch, and local creation of opaque identifiers.
package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Template is one catalog entry as the hosting page consumes it.
type Template struct {
	TemplateID  json.Number `json:"templateId"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	PreviewURL  string      `json:"previewUrl,omitempty"`
	Category    string      `json:"category,omitempty"`
}

// Detail is the editable payload of one template.
type Detail struct {
	HTML        string `json:"html"`
	CSS         string `json:"css"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// ListQuery mirrors the listing proxy's query parameters.
type ListQuery struct {
	Type  string
	Limit int
	Sort  string
	Page  int
}

func (q *ListQuery) applyDefaults() {
	if q.Type == "" {
		q.Type = "email"
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Sort == "" {
		q.Sort = "recent"
	}
	if q.Page <= 0 {
		q.Page = 1
	}
}

// ListResult echoes the effective query back with the page of templates.
type ListResult struct {
	Templates []Template `json:"templates"`
	Type      string     `json:"type"`
	Limit     int        `json:"limit"`
	Sort      string     `json:"sort"`
	Page      int        `json:"page"`
}

// ErrNotNumeric rejects template identifiers that are not plain numbers;
// the remote detail endpoint only addresses templates numerically.
var ErrNotNumeric = errors.New("template id must be numeric")

// ErrUpstream is any non-restriction failure from the catalog service.
var ErrUpstream = errors.New("template catalog error")

// Client talks to the remote catalog. Some catalog tiers are
// pricing-restricted per account; List walks the configured tier order until
// one is not rejected for pricing reasons.
type Client struct {
	baseURL string
	tiers   []string
	http    *http.Client
}

func NewClient(baseURL string, tiers []string) *Client {
	if len(tiers) == 0 {
		tiers = []string{"free"}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tiers:   tiers,
		http:    &http.Client{Timeout: 20 * time.Second},
	}
}

// List fetches one page of the catalog, falling back across tiers on
// pricing-restriction errors. Only restriction rejections trigger
// fallback; transport and server errors surface immediately.
func (c *Client) List(ctx context.Context, q ListQuery) (ListResult, error) {
	q.applyDefaults()
	var lastErr error
	for _, tier := range c.tiers {
		items, err := c.listTier(ctx, tier, q)
		if err == nil {
			return ListResult{Templates: items, Type: q.Type, Limit: q.Limit, Sort: q.Sort, Page: q.Page}, nil
		}
		var restricted *restrictionError
		if errors.As(err, &restricted) {
			log.Printf("templates: tier %s restricted, trying next tier", tier)
			lastErr = err
			continue
		}
		return ListResult{}, err
	}
	return ListResult{}, fmt.Errorf("%w: all tiers restricted: %v", ErrUpstream, lastErr)
}

type restrictionError struct {
	tier   string
	status int
}

func (e *restrictionError) Error() string {
	return fmt.Sprintf("tier %s restricted (status %d)", e.tier, e.status)
}

func (c *Client) listTier(ctx context.Context, tier string, q ListQuery) ([]Template, error) {
	query := url.Values{}
	query.Set("type", q.Type)
	query.Set("collection", tier)
	query.Set("limit", strconv.Itoa(q.Limit))
	query.Set("sort", q.Sort)
	query.Set("page", strconv.Itoa(q.Page))

	body, status, err := c.get(ctx, "/templates?"+query.Encode())
	if err != nil {
		return nil, err
	}
	if status == http.StatusForbidden || status == http.StatusPaymentRequired {
		return nil, &restrictionError{tier: tier, status: status}
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: list returned %d", ErrUpstream, status)
	}

	var parsed struct {
		Results []Template `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode listing: %v", ErrUpstream, err)
	}
	return parsed.Results, nil
}

// Get fetches one template's editable payload by numeric identifier.
func (c *Client) Get(ctx context.Context, id string) (Detail, error) {
	if !isNumeric(id) {
		return Detail{}, fmt.Errorf("%w: got %q", ErrNotNumeric, id)
	}

	body, status, err := c.get(ctx, "/templates/"+id)
	if err != nil {
		return Detail{}, err
	}
	if status == http.StatusNotFound {
		return Detail{}, fmt.Errorf("%w: template %s not found", ErrUpstream, id)
	}
	if status < 200 || status > 299 {
		return Detail{}, fmt.Errorf("%w: detail returned %d", ErrUpstream, status)
	}

	var detail Detail
	if err := json.Unmarshal(body, &detail); err != nil {
		return Detail{}, fmt.Errorf("%w: decode detail: %v", ErrUpstream, err)
	}
	return detail, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build catalog request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}
	return body, resp.StatusCode, nil
}

func isNumeric(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
