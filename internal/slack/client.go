package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"mrmonitor/internal/domain"
	"mrmonitor/internal/retry"
)

// HTTPClient interface for HTTP operations (allows mocking in tests).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the client configuration.
type Config struct {
	BaseURL string
	Token   string
}

// Client talks to the Slack Web API with bearer-token auth.
type Client struct {
	baseURL    string
	token      string
	httpClient HTTPClient
	retry      retry.Policy
	logger     *slog.Logger
}

// NewClient creates a new Slack client.
func NewClient(cfg Config, httpClient HTTPClient, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://slack.com"
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		retry:      retry.NewPolicy(domain.IsTransient),
		logger:     logger,
	}
}

type slackUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RealName string `json:"real_name"`
	Deleted  bool   `json:"deleted"`
	Profile  struct {
		DisplayName string `json:"display_name"`
		RealName    string `json:"real_name"`
	} `json:"profile"`
}

type usersListResponse struct {
	OK      bool        `json:"ok"`
	Error   string      `json:"error"`
	Members []slackUser `json:"members"`
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// ResolveUser translates a person's name from the code host into a Slack
// user ID by scanning the workspace member list. Matching is a
// case-insensitive substring check across the member's known names.
// Returns a NotFound error when nobody matches.
func (c *Client) ResolveUser(ctx context.Context, personName string) (string, error) {
	var resp usersListResponse
	if err := c.call(ctx, "ResolveUser", "/api/users.list", nil, &resp); err != nil {
		return "", err
	}
	if !resp.OK {
		return "", apiError("ResolveUser", resp.Error)
	}

	needle := strings.ToLower(personName)
	for _, user := range resp.Members {
		if user.Deleted {
			continue
		}
		names := []string{user.RealName, user.Name, user.Profile.DisplayName, user.Profile.RealName}
		for _, name := range names {
			if name != "" && strings.Contains(strings.ToLower(name), needle) {
				return user.ID, nil
			}
		}
	}
	return "", domain.NewAPIError(domain.ErrNotFound, "ResolveUser", 0,
		fmt.Errorf("no slack user matches %q", personName))
}

// PostMessage posts text to a channel. A response with ok:false counts as a
// failure even when HTTP says 200.
func (c *Client) PostMessage(ctx context.Context, channel, text string) error {
	payload := map[string]string{"channel": channel, "text": text}

	var resp postMessageResponse
	if err := c.call(ctx, "PostMessage", "/api/chat.postMessage", payload, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return apiError("PostMessage", resp.Error)
	}
	return nil
}

func (c *Client) call(ctx context.Context, op, path string, body, result any) error {
	return c.retry.Do(ctx, func() error {
		return c.callOnce(ctx, op, path, body, result)
	})
}

func (c *Client) callOnce(ctx context.Context, op, path string, body, result any) error {
	method := http.MethodGet
	var reqBody io.Reader
	if body != nil {
		method = http.MethodPost
		encoded, err := json.Marshal(body)
		if err != nil {
			return domain.NewAPIError(domain.ErrMalformed, op, 0, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return domain.NewAPIError(domain.ErrMalformed, op, 0, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return domain.NewAPIError(domain.ErrTransient, op, 0, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.NewAPIError(domain.ErrAuth, op, resp.StatusCode, errors.New("slack rejected token"))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return domain.NewAPIError(domain.ErrTransient, op, resp.StatusCode, errors.New("slack unavailable"))
	case resp.StatusCode != http.StatusOK:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.NewAPIError(domain.ErrMalformed, op, resp.StatusCode,
			fmt.Errorf("unexpected response: %s", string(payload)))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return domain.NewAPIError(domain.ErrMalformed, op, 0,
			fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// apiError maps Slack's in-band error strings onto the taxonomy.
func apiError(op, code string) error {
	kind := domain.ErrMalformed
	switch code {
	case "invalid_auth", "token_revoked", "token_expired", "not_authed", "missing_scope":
		kind = domain.ErrAuth
	case "channel_not_found", "user_not_found":
		kind = domain.ErrNotFound
	case "ratelimited", "service_unavailable", "internal_error":
		kind = domain.ErrTransient
	}
	return domain.NewAPIError(kind, op, 0, fmt.Errorf("slack api error: %s", code))
}
