package templates

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestListFallsBackAcrossRestrictedTiers(t *testing.T) {
	var tiersSeen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tier := r.URL.Query().Get("collection")
		tiersSeen = append(tiersSeen, tier)
		if tier != "free" {
			http.Error(w, "pricing restricted", http.StatusForbidden)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"templateId": 101, "name": "Welcome"},
				{"templateId": 102, "name": "Newsletter"},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, []string{"core", "essentials", "free"})
	result, err := client.List(context.Background(), ListQuery{Type: "email", Limit: 10})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(result.Templates) != 2 {
		t.Fatalf("expected 2 templates, got %d", len(result.Templates))
	}
	if result.Templates[0].Name != "Welcome" {
		t.Errorf("unexpected first template: %+v", result.Templates[0])
	}
	want := []string{"core", "essentials", "free"}
	if len(tiersSeen) != len(want) {
		t.Fatalf("expected tiers %v, saw %v", want, tiersSeen)
	}
	for i := range want {
		if tiersSeen[i] != want[i] {
			t.Errorf("tier order wrong: expected %v, saw %v", want, tiersSeen)
			break
		}
	}
}

func TestListEchoesEffectiveQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
	}))
	defer server.Close()

	client := NewClient(server.URL, []string{"free"})
	result, err := client.List(context.Background(), ListQuery{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if result.Type != "email" || result.Limit != 20 || result.Sort != "recent" || result.Page != 1 {
		t.Errorf("defaults not echoed: %+v", result)
	}
	if result.Templates == nil {
		t.Error("templates should be an empty slice, not nil")
	}
}

func TestListServerErrorDoesNotFallBack(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, []string{"core", "free"})
	_, err := client.List(context.Background(), ListQuery{})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if calls != 1 {
		t.Errorf("server errors must not trigger tier fallback, got %d calls", calls)
	}
}

func TestListAllTiersRestricted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusPaymentRequired)
	}))
	defer server.Close()

	client := NewClient(server.URL, []string{"core", "free"})
	_, err := client.List(context.Background(), ListQuery{})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream when every tier is restricted, got %v", err)
	}
}

func TestGetRejectsNonNumericID(t *testing.T) {
	client := NewClient("http://unused", []string{"free"})
	for _, id := range []string{"", "abc", "12a", "1.5", "-3"} {
		if _, err := client.Get(context.Background(), id); !errors.Is(err, ErrNotNumeric) {
			t.Errorf("id %q: expected ErrNotNumeric, got %v", id, err)
		}
	}
}

func TestGetReturnsDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/templates/42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(Detail{HTML: "<p>hi</p>", CSS: "p{}", Name: "Promo"})
	}))
	defer server.Close()

	client := NewClient(server.URL, []string{"free"})
	detail, err := client.Get(context.Background(), "42")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if detail.HTML != "<p>hi</p>" || detail.CSS != "p{}" || detail.Name != "Promo" {
		t.Errorf("unexpected detail: %+v", detail)
	}
}
