package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blinds-controller/internal/model"
)

var (
	ErrRejected         = errors.New("backend rejected request")
	ErrNotAuthenticated = errors.New("no access token")
)

// Client talks to the blinds backend REST API.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client

	mu      sync.RWMutex
	access  string
	refresh string
}

func NewClient(baseURL, username, password string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http:     &http.Client{Timeout: timeout},
	}
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Login obtains a fresh access and refresh token pair.
func (c *Client) Login(ctx context.Context) error {
	body := map[string]string{"username": c.username, "password": c.password}
	var tokens tokenPair
	if err := c.do(ctx, http.MethodPost, "/token/", body, &tokens, false); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	c.mu.Lock()
	c.access, c.refresh = tokens.Access, tokens.Refresh
	c.mu.Unlock()
	log.Info().Msg("Backend login succeeded")
	return nil
}

// Refresh exchanges the refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.RLock()
	refresh := c.refresh
	c.mu.RUnlock()
	if refresh == "" {
		return fmt.Errorf("refresh: %w", ErrNotAuthenticated)
	}

	var tokens tokenPair
	if err := c.do(ctx, http.MethodPost, "/token/refresh/", map[string]string{"refresh": refresh}, &tokens, false); err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	c.mu.Lock()
	c.access = tokens.Access
	c.mu.Unlock()
	log.Debug().Msg("Backend access token refreshed")
	return nil
}

func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.access != ""
}

func (c *Client) FetchConfiguration(ctx context.Context) (model.DeviceConfiguration, error) {
	var cfg model.DeviceConfiguration
	if err := c.do(ctx, http.MethodGet, "/configurations/1/", nil, &cfg, true); err != nil {
		return cfg, fmt.Errorf("fetch configuration: %w", err)
	}
	return cfg, nil
}

func (c *Client) FetchBlinds(ctx context.Context) ([]model.BlindRecord, error) {
	var blinds []model.BlindRecord
	if err := c.do(ctx, http.MethodGet, "/blinds/", nil, &blinds, true); err != nil {
		return nil, fmt.Errorf("fetch blinds: %w", err)
	}
	return blinds, nil
}

func (c *Client) PatchPosition(ctx context.Context, id, position int) error {
	body := map[string]int{"position": position}
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/blinds/%d/", id), body, nil, true); err != nil {
		return fmt.Errorf("patch position of blind %d: %w", id, err)
	}
	return nil
}

func (c *Client) PatchCalibration(ctx context.Context, id, position, runtimeUp, runtimeDown int) error {
	body := map[string]int{
		"position":     position,
		"runtime_up":   runtimeUp,
		"runtime_down": runtimeDown,
	}
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/blinds/%d/", id), body, nil, true); err != nil {
		return fmt.Errorf("patch calibration of blind %d: %w", id, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, auth bool) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth {
		c.mu.RLock()
		access := c.access
		c.mu.RUnlock()
		if access == "" {
			return ErrNotAuthenticated
		}
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s %s returned %d: %w", method, path, resp.StatusCode, ErrRejected)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
