// Package auth brokers the short-lived bearer credential the embedded
// editor uses against its backing service. The server-held pluginId and
// secretKey never leave this process; clients only ever see the exchanged
// token.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrCredentialsMissing means pluginId/secretKey are not configured.
	// Fatal: no retry fixes it without operator intervention.
	ErrCredentialsMissing = errors.New("editor credentials not configured")
	// ErrAuthRejected means the remote auth service refused the exchange.
	ErrAuthRejected = errors.New("remote auth rejected")
)

// RejectionError wraps ErrAuthRejected with the status and human-readable
// guidance for the most common misconfigurations.
type RejectionError struct {
	Status   int
	Guidance string
	Body     string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("remote auth rejected (status %d): %s", e.Status, e.Guidance)
}

func (e *RejectionError) Unwrap() error { return ErrAuthRejected }

func guidanceForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return "auth endpoint or credentials likely wrong (404)"
	case http.StatusUnauthorized:
		return "invalid pluginId/secretKey (401)"
	case http.StatusBadRequest:
		return "malformed exchange request (400)"
	default:
		return fmt.Sprintf("unexpected auth response (%d)", status)
	}
}

// Client exchanges the long-lived secret pair for a bearer token.
type Client struct {
	authURL   string
	pluginID  string
	secretKey string
	userID    string
	role      string
	http      *http.Client
}

func NewClient(authURL, pluginID, secretKey, userID, role string) *Client {
	return &Client{
		authURL:   authURL,
		pluginID:  pluginID,
		secretKey: secretKey,
		userID:    userID,
		role:      role,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

type exchangeRequest struct {
	PluginID  string `json:"pluginId"`
	SecretKey string `json:"secretKey"`
	UserID    string `json:"userId"`
	Role      string `json:"role"`
}

type exchangeResponse struct {
	Token string `json:"token"`
}

// FetchToken performs one exchange. Non-2xx responses surface as a
// RejectionError carrying status-classified guidance, never a raw body dump
// to the caller.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	if c.pluginID == "" || c.secretKey == "" {
		return "", ErrCredentialsMissing
	}

	payload, err := json.Marshal(exchangeRequest{
		PluginID:  c.pluginID,
		SecretKey: c.secretKey,
		UserID:    c.userID,
		Role:      c.role,
	})
	if err != nil {
		return "", fmt.Errorf("marshal exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth exchange: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &RejectionError{
			Status:   resp.StatusCode,
			Guidance: guidanceForStatus(resp.StatusCode),
			Body:     string(body),
		}
	}

	var parsed exchangeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode exchange response: %w", err)
	}
	if parsed.Token == "" {
		return "", fmt.Errorf("auth exchange returned empty token")
	}
	return parsed.Token, nil
}
