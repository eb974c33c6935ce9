package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mailsmith/internal/auth"
	"mailsmith/internal/config"
	"mailsmith/internal/editor"
	"mailsmith/internal/identity"
	"mailsmith/internal/templates"
)

func newTestServer(t *testing.T, authURL, templatesURL string) *httptest.Server {
	t.Helper()

	cfg := config.Config{
		AuthURL:       authURL,
		PluginID:      "plugin-1",
		SecretKey:     "secret-1",
		UserID:        "user-1",
		UserRole:      "editor",
		TemplateTiers: []string{"core", "free"},
		IdentityKey:   "mailsmith:email-id",
	}
	if authURL == "" {
		cfg.PluginID = ""
		cfg.SecretKey = ""
	}

	broker := auth.NewBroker(auth.NewClient(authURL, cfg.PluginID, cfg.SecretKey, cfg.UserID, cfg.UserRole))
	resolver := identity.NewResolver(identity.NewMemoryStore())
	service := New(cfg, Options{
		Broker:   broker,
		Resolver: resolver,
		Manager:  editor.NewManager(cfg, broker, resolver),
		Catalog:  templates.NewClient(templatesURL, cfg.TemplateTiers),
	})
	server := httptest.NewServer(NewHTTPServer(service, "*").Handler())
	t.Cleanup(server.Close)
	return server
}

func decodeResponse(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, "http://127.0.0.1:1", "http://127.0.0.1:1")

	res, err := http.Get(server.URL + "/api/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	body := decodeResponse(t, res)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", res.StatusCode)
	}
	if body["ok"] != true {
		t.Errorf("health body = %v, want ok=true", body)
	}
}

func TestTokenProxySuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("auth method = %s, want POST", r.Method)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-abc"})
	}))
	defer upstream.Close()

	server := newTestServer(t, upstream.URL, "http://127.0.0.1:1")

	res, err := http.Get(server.URL + "/api/editor/token")
	if err != nil {
		t.Fatalf("token request: %v", err)
	}
	body := decodeResponse(t, res)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("token status = %d, want 200: %v", res.StatusCode, body)
	}
	if body["token"] != "tok-abc" {
		t.Errorf("token = %v, want tok-abc", body["token"])
	}
}

func TestTokenProxyNotConfigured(t *testing.T) {
	server := newTestServer(t, "", "http://127.0.0.1:1")

	res, err := http.Get(server.URL + "/api/editor/token")
	if err != nil {
		t.Fatalf("token request: %v", err)
	}
	body := decodeResponse(t, res)
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("token status = %d, want 503: %v", res.StatusCode, body)
	}
	if body["code"] != "AUTH_NOT_CONFIGURED" {
		t.Errorf("code = %v, want AUTH_NOT_CONFIGURED", body["code"])
	}
}

func TestTemplateListPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("collection"); got != "core" {
			t.Errorf("collection = %q, want core", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"template_id": 7, "name": "Welcome"}},
		})
	}))
	defer upstream.Close()

	server := newTestServer(t, "http://127.0.0.1:1", upstream.URL)

	res, err := http.Get(server.URL + "/api/templates?type=email&limit=5")
	if err != nil {
		t.Fatalf("list request: %v", err)
	}
	body := decodeResponse(t, res)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200: %v", res.StatusCode, body)
	}
	results, ok := body["results"].([]any)
	if !ok || len(results) != 1 {
		t.Fatalf("results = %v, want one entry", body["results"])
	}
}

func TestTemplateDetailRejectsNonNumericID(t *testing.T) {
	server := newTestServer(t, "http://127.0.0.1:1", "http://127.0.0.1:1")

	res, err := http.Get(server.URL + "/api/templates/not-a-number")
	if err != nil {
		t.Fatalf("detail request: %v", err)
	}
	body := decodeResponse(t, res)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("detail status = %d, want 400: %v", res.StatusCode, body)
	}
	if body["code"] != "INVALID_TEMPLATE_ID" {
		t.Errorf("code = %v, want INVALID_TEMPLATE_ID", body["code"])
	}
}

func TestCreateTemplateReturnsDeferredStub(t *testing.T) {
	server := newTestServer(t, "http://127.0.0.1:1", "http://127.0.0.1:1")

	res, err := http.Post(server.URL+"/api/templates", "application/json",
		strings.NewReader(`{"name":"Launch","subject":"Hi"}`))
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	body := decodeResponse(t, res)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201: %v", res.StatusCode, body)
	}
	if body["deferred"] != true {
		t.Errorf("deferred = %v, want true", body["deferred"])
	}
	if id, _ := body["id"].(string); id == "" {
		t.Errorf("id missing from create response: %v", body)
	}
}

func TestStorageClearReportsKey(t *testing.T) {
	server := newTestServer(t, "http://127.0.0.1:1", "http://127.0.0.1:1")

	res, err := http.Post(server.URL+"/api/storage/clear", "application/json",
		strings.NewReader(`{"clearAll":true}`))
	if err != nil {
		t.Fatalf("clear request: %v", err)
	}
	body := decodeResponse(t, res)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d, want 200: %v", res.StatusCode, body)
	}
	if body["cleared"] != true {
		t.Errorf("cleared = %v, want true", body["cleared"])
	}
	if body["storageKey"] != "mailsmith:email-id" {
		t.Errorf("storageKey = %v, want mailsmith:email-id", body["storageKey"])
	}
}

func TestUnknownSessionReturns404(t *testing.T) {
	server := newTestServer(t, "http://127.0.0.1:1", "http://127.0.0.1:1")

	res, err := http.Get(server.URL + "/api/editor/sessions/sess-missing")
	if err != nil {
		t.Fatalf("session request: %v", err)
	}
	body := decodeResponse(t, res)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("session status = %d, want 404: %v", res.StatusCode, body)
	}
	if body["code"] != "SESSION_NOT_FOUND" {
		t.Errorf("code = %v, want SESSION_NOT_FOUND", body["code"])
	}
}

func TestPanelToggleRouteRequiresSession(t *testing.T) {
	server := newTestServer(t, "http://127.0.0.1:1", "http://127.0.0.1:1")

	res, err := http.Post(server.URL+"/api/editor/sessions/sess-missing/panels", "application/json",
		strings.NewReader(`{"tag":"bee-settings-panel","visible":true}`))
	if err != nil {
		t.Fatalf("panel request: %v", err)
	}
	body := decodeResponse(t, res)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("panel status = %d, want 404: %v", res.StatusCode, body)
	}
	if body["code"] != "SESSION_NOT_FOUND" {
		t.Errorf("code = %v, want SESSION_NOT_FOUND", body["code"])
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	server := newTestServer(t, "http://127.0.0.1:1", "http://127.0.0.1:1")

	res, err := http.Get(server.URL + "/api/nothing-here")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body := decodeResponse(t, res)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %v", res.StatusCode, body)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	server := newTestServer(t, "http://127.0.0.1:1", "http://127.0.0.1:1")

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	res.Body.Close()
	if got := res.Header.Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}
}
