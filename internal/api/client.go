// Package api is the typed HTTP client for the chat backend's
// request/response surface: the user directory, identity lookup, and
// message history.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pliu/courier/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrAuthRejected is returned when the server refuses a credential.
	ErrAuthRejected = errors.New("credential rejected")
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// envelope wraps every response body from the backend.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, token string, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	if len(raw) > 0 {
		// Tolerate an empty body; a bad one is still an error below.
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 400 {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrAuthRejected
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		if env.Error != "" {
			return fmt.Errorf("server error %d: %s", resp.StatusCode, env.Error)
		}
		return fmt.Errorf("server error %d", resp.StatusCode)
	}

	if out != nil && env.Data != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// SearchUsers queries the directory for users whose email contains fragment.
// An empty result is not an error.
func (c *Client) SearchUsers(ctx context.Context, fragment string) ([]models.Identity, error) {
	var users []models.Identity
	path := "/users/search?email=" + url.QueryEscape(fragment)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, "", &users); err != nil {
		return nil, err
	}
	return users, nil
}

// WhoAmI exchanges a bearer token for the identity it belongs to.
func (c *Client) WhoAmI(ctx context.Context, token string) (*models.Identity, error) {
	var id models.Identity
	if err := c.doRequest(ctx, http.MethodGet, "/auth/me", nil, token, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// LoginResult is the response from a password login.
type LoginResult struct {
	User  models.Identity `json:"user"`
	Token string          `json:"token"`
}

// Login verifies email+password with the server and returns the identity
// plus a fresh bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	body := map[string]string{"email": email, "password": password}
	var res LoginResult
	if err := c.doRequest(ctx, http.MethodPost, "/auth/login", body, "", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// FetchHistory returns the point-in-time message snapshot for the thread
// between localID and peerID, oldest first.
func (c *Client) FetchHistory(ctx context.Context, localID, peerID string) ([]models.Message, error) {
	var msgs []models.Message
	path := fmt.Sprintf("/chat/history?userId=%s&peerId=%s",
		url.QueryEscape(localID), url.QueryEscape(peerID))
	if err := c.doRequest(ctx, http.MethodGet, path, nil, "", &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ExternalLoginURL builds the redirect URL that hands control to an external
// identity provider. The provider returns control by delivering a one-time
// token on redirectURI.
func (c *Client) ExternalLoginURL(provider, redirectURI string) string {
	return fmt.Sprintf("%s/auth/%s?redirect_uri=%s", c.BaseURL, provider, url.QueryEscape(redirectURI))
}
