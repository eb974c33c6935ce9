package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mailsmith/internal/editor"
	"mailsmith/internal/snapshot"
	"mailsmith/internal/templates"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		ready := true
		checks := map[string]any{}
		for name, err := range s.service.Ping(ctx) {
			if err != nil {
				ready = false
				status = http.StatusServiceUnavailable
				checks[name] = map[string]any{"status": "error", "error": err.Error()}
			} else {
				checks[name] = map[string]any{"status": "ok"}
			}
		}
		writeJSON(w, status, map[string]any{"ok": ready, "checks": checks})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/editor/token" {
		token, err := s.service.Token(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/templates/search" {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		response := s.service.SearchTemplates(r.Context(), r.URL.Query().Get("q"), limit)
		writeJSON(w, http.StatusOK, response)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/templates" {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		result, err := s.service.ListTemplates(r.Context(), templates.ListQuery{
			Type:  r.URL.Query().Get("type"),
			Limit: limit,
			Sort:  r.URL.Query().Get("sort"),
			Page:  page,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/templates" {
		var body struct {
			Name    string `json:"name"`
			Subject string `json:"subject"`
			HTML    string `json:"html"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusCreated, s.service.CreateTemplate(body.Name, body.Subject, body.HTML))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/storage/clear" {
		var body struct {
			StorageKey string `json:"storageKey"`
			ClearAll   bool   `json:"clearAll"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		response, err := s.service.ClearStorage(r.Context(), body.ClearAll)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, response)
		return
	}

	parts := splitPath(r.URL.Path)

	// /api/templates/{id} and /api/templates/{id}/snapshots
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "templates" {
		id := parts[2]
		switch {
		case len(parts) == 3 && r.Method == http.MethodGet:
			detail, err := s.service.TemplateDetail(r.Context(), id)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, detail)
			return
		case len(parts) == 4 && parts[3] == "snapshots" && r.Method == http.MethodPost:
			var body struct {
				Name   string `json:"name"`
				HTML   string `json:"html"`
				CSS    string `json:"css"`
				Author string `json:"author"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			entry, err := s.service.SaveSnapshot(id, snapshot.Design{Name: body.Name, HTML: body.HTML, CSS: body.CSS}, body.Author)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, entry)
			return
		case len(parts) == 4 && parts[3] == "snapshots" && r.Method == http.MethodGet:
			entries, err := s.service.SnapshotHistory(id)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"snapshots": entries})
			return
		}
	}

	// Editor session lifecycle.
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "editor" && parts[2] == "sessions" {
		s.handleSessions(w, r, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 3 && r.Method == http.MethodPost {
		var body struct {
			EmailID      string `json:"emailId"`
			ShouldCreate bool   `json:"shouldCreate"`
			Width        int    `json:"width"`
			InitialHTML  string `json:"initialHtml"`
			InitialCSS   string `json:"initialCss"`
			UserName     string `json:"userName"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		snap, err := s.service.MountSession(r.Context(), editor.MountOptions{
			ExplicitID:   body.EmailID,
			ShouldCreate: body.ShouldCreate,
			WidthPx:      body.Width,
			InitialHTML:  body.InitialHTML,
			InitialCSS:   body.InitialCSS,
			UserName:     body.UserName,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusAccepted, snap)
		return
	}

	if len(parts) < 4 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	id := parts[3]

	switch {
	case len(parts) == 4 && r.Method == http.MethodGet:
		snap, err := s.service.Session(id)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return

	case len(parts) == 4 && r.Method == http.MethodDelete:
		if err := s.service.UnmountSession(id); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return

	case len(parts) == 5 && parts[4] == "resize" && r.Method == http.MethodPost:
		var body struct {
			Width int `json:"width"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		snap, err := s.service.ResizeSession(r.Context(), id, body.Width)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return

	case len(parts) == 5 && parts[4] == "panels" && r.Method == http.MethodPost:
		var body struct {
			Tag     string `json:"tag"`
			Visible bool   `json:"visible"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		snap, err := s.service.SetSessionPanel(r.Context(), id, body.Tag, body.Visible)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return

	case len(parts) == 5 && parts[4] == "retry" && r.Method == http.MethodPost:
		snap, err := s.service.RetrySession(r.Context(), id)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return

	case len(parts) == 5 && parts[4] == "preview" && r.Method == http.MethodPost:
		response, err := s.service.PreviewSession(r.Context(), id)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, response)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func setCORSHeaders(header http.Header, origin string) {
	header.Set("Access-Control-Allow-Origin", origin)
	header.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
