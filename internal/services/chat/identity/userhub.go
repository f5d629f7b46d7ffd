package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/studyhall/studyhall/internal/platform/timeouts"
)

// SessionCookie is the cookie userhub sets after login; the chat handshake
// reads it when no token parameter is present.
const SessionCookie = "sh_session"

// UserhubResolver resolves identities by calling the userhub HTTP service.
//
// Sessions are introspected rather than decoded locally so revocation in
// userhub takes effect immediately.
type UserhubResolver struct {
	baseURL        string
	resourceSecret string
	httpClient     *http.Client
}

type introspectResponse struct {
	Active   bool   `json:"active"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// NewUserhubResolver builds a userhub-backed resolver. Returns nil when
// configuration is incomplete so callers can fall back to permissive mode.
func NewUserhubResolver(baseURL string, resourceSecret string) *UserhubResolver {
	baseURL = strings.TrimSpace(baseURL)
	resourceSecret = strings.TrimSpace(resourceSecret)
	if baseURL == "" || resourceSecret == "" {
		return nil
	}
	return &UserhubResolver{
		baseURL:        strings.TrimRight(baseURL, "/"),
		resourceSecret: resourceSecret,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Authenticate introspects a session id against userhub.
func (r *UserhubResolver) Authenticate(ctx context.Context, creds Credentials) (Identity, error) {
	if r == nil || r.httpClient == nil {
		return Identity{}, fmt.Errorf("userhub resolver is not configured")
	}
	sessionID := strings.TrimSpace(creds.SessionID)
	if sessionID == "" {
		return Identity{}, ErrUnresolved
	}

	endpoint := r.baseURL + "/api/session/introspect"
	callCtx, cancel := context.WithTimeout(ctx, timeouts.Introspect)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("build introspection request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sessionID)
	req.Header.Set("X-Resource-Secret", r.resourceSecret)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("call session introspection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("session introspection status %d", resp.StatusCode)
	}

	var payload introspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Identity{}, fmt.Errorf("decode introspection response: %w", err)
	}
	if !payload.Active || payload.UserID <= 0 {
		return Identity{}, ErrUnresolved
	}

	name := strings.TrimSpace(payload.Username)
	if name == "" {
		name = fmt.Sprintf("user-%d", payload.UserID)
	}
	return Identity{
		ID:     payload.UserID,
		Name:   name,
		Avatar: strings.TrimSpace(payload.Avatar),
	}, nil
}

// Lookup fetches current display metadata for a user id from userhub.
func (r *UserhubResolver) Lookup(ctx context.Context, userID int64) (Identity, error) {
	if r == nil || r.httpClient == nil {
		return Identity{}, fmt.Errorf("userhub resolver is not configured")
	}
	if userID <= 0 {
		return Identity{}, ErrUnresolved
	}

	endpoint := fmt.Sprintf("%s/api/users/%d", r.baseURL, userID)
	callCtx, cancel := context.WithTimeout(ctx, timeouts.Introspect)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("build user lookup request: %w", err)
	}
	req.Header.Set("X-Resource-Secret", r.resourceSecret)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("call user lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Identity{}, ErrUnresolved
	}
	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("user lookup status %d", resp.StatusCode)
	}

	var payload userResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Identity{}, fmt.Errorf("decode user lookup response: %w", err)
	}
	if payload.ID <= 0 {
		return Identity{}, ErrUnresolved
	}

	name := strings.TrimSpace(payload.Username)
	if name == "" {
		name = fmt.Sprintf("user-%d", payload.ID)
	}
	return Identity{
		ID:     payload.ID,
		Name:   name,
		Avatar: strings.TrimSpace(payload.Avatar),
	}, nil
}
