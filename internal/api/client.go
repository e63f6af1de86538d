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
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/sanctuary/internal/core"
	"github.com/vovakirdan/sanctuary/internal/proto"
)

var (
	// ErrNotFound means the token or sanctuary is unknown to the relay.
	ErrNotFound = errors.New("sanctuary not found")
	// ErrExpired means the token or sanctuary has expired.
	ErrExpired = errors.New("sanctuary expired")
	// ErrRejected covers other 4xx answers (bad request, forbidden).
	ErrRejected = errors.New("request rejected")
)

// Client talks to the relay's HTTP collaborator endpoints.
// Network failures and 5xx answers wrap core.ErrTransport so callers may retry.
type Client struct {
	base string
	http *http.Client
	log  *zerolog.Logger
}

// New builds a client for baseURL (e.g. http://localhost:8080).
func New(baseURL string, timeout time.Duration, logger *zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
		log:  logger,
	}
}

// CreateSanctuary creates a sanctuary and returns its host token.
func (c *Client) CreateSanctuary(ctx context.Context, req proto.CreateSanctuaryRequest) (proto.CreateSanctuaryResponse, error) {
	var resp proto.CreateSanctuaryResponse
	err := c.do(ctx, http.MethodPost, "/api/sanctuaries", "", req, &resp)
	return resp, err
}

// VerifyHost resolves a host token to its sanctuary.
func (c *Client) VerifyHost(ctx context.Context, token string) (proto.SanctuaryData, error) {
	var resp proto.SanctuaryData
	err := c.do(ctx, http.MethodGet, "/api/host/verify", token, nil, &resp)
	return resp, err
}

// ListHost lists the sanctuaries owned by tokens.
func (c *Client) ListHost(ctx context.Context, tokens []string) ([]proto.SanctuaryData, error) {
	var resp proto.HostListResponse
	if err := c.do(ctx, http.MethodPost, "/api/host/sanctuaries", "", proto.HostListRequest{Tokens: tokens}, &resp); err != nil {
		return nil, err
	}
	return resp.Sanctuaries, nil
}

// AudioToken requests a live-audio join token. hostToken may be empty.
func (c *Client) AudioToken(ctx context.Context, sessionID string, req proto.AudioTokenRequest, hostToken string) (proto.AudioTokenResponse, error) {
	var resp proto.AudioTokenResponse
	err := c.do(ctx, http.MethodPost, "/api/sanctuaries/"+url.PathEscape(sessionID)+"/audio-token", hostToken, req, &resp)
	return resp, err
}

// EndSanctuary closes a sanctuary for everyone. Only its host token is accepted.
func (c *Client) EndSanctuary(ctx context.Context, sessionID, hostToken string) error {
	return c.do(ctx, http.MethodDelete, "/api/sanctuaries/"+url.PathEscape(sessionID), hostToken, nil, nil)
}

// Fallback returns a moderation fallback authenticated with hostToken.
func (c *Client) Fallback(hostToken string) *Fallback {
	return &Fallback{client: c, token: hostToken}
}

// Fallback delivers moderation commands over HTTP. It implements core.ModerationFallback.
type Fallback struct {
	client *Client
	token  string
}

var _ core.ModerationFallback = (*Fallback)(nil)

// Moderate posts one moderation action.
func (f *Fallback) Moderate(ctx context.Context, sessionID string, action core.ModerationAction, targetID string) error {
	body := proto.ModerationRequest{Action: string(action), ParticipantID: targetID}
	return f.client.do(ctx, http.MethodPost, "/api/sanctuaries/"+url.PathEscape(sessionID)+"/moderation", f.token, body, nil)
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", core.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr proto.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		c.log.Debug().Str("path", path).Int("status", resp.StatusCode).Str("error", apiErr.Error).Msg("relay api error")
		return statusError(resp.StatusCode, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func statusError(status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case status == http.StatusGone:
		return fmt.Errorf("%w: %s", ErrExpired, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %w: %s", ErrRejected, core.ErrNotAuthorized, msg)
	case status >= 500:
		return fmt.Errorf("%w: status %d: %s", core.ErrTransport, status, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, status, msg)
	}
}
