package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/flowfarm/internal/ports"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Config holds profile API settings
type Config struct {
	BaseURL    string
	APIKey     string
	LocalDir   string
	Timeout    time.Duration
	MaxRetries uint64
}

// Client implements ports.ProfileProvisioner over the profile service API:
//
//	POST   /profiles             create, returns {"id": ...}
//	POST   /profiles/:id/start   returns {"ws_endpoint": ...}
//	POST   /profiles/:id/stop
//	DELETE /profiles/:id
//
// With LocalDir set, each profile keeps its browser data under
// LocalDir/<name>; DeleteProfile removes that directory once the service
// has deleted the profile.
type Client struct {
	base       *url.URL
	apiKey     string
	localDir   string
	maxRetries uint64
	http       *http.Client
	logger     *zap.Logger

	mu   sync.Mutex
	dirs map[string]string
}

type proxyBody struct {
	Scheme   string `json:"scheme"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type createRequest struct {
	Name     string     `json:"name"`
	StartURL string     `json:"start_url,omitempty"`
	DataDir  string     `json:"data_dir,omitempty"`
	Proxy    *proxyBody `json:"proxy,omitempty"`
}

type createResponse struct {
	ID string `json:"id"`
}

type startResponse struct {
	WSEndpoint string `json:"ws_endpoint"`
}

type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("profile API returned %d: %s", e.Status, e.Body)
}

// NewClient creates a new profile API client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid profile API URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		base:       base,
		apiKey:     cfg.APIKey,
		localDir:   cfg.LocalDir,
		maxRetries: cfg.MaxRetries,
		http:       &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		dirs:       make(map[string]string),
	}, nil
}

// dataDir returns the local data directory for a profile name. Names that
// would escape LocalDir are rejected.
func (c *Client) dataDir(name string) (string, error) {
	dir := filepath.Join(c.localDir, name)
	rel, err := filepath.Rel(c.localDir, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("profile name %q is not a valid directory name", name)
	}
	return dir, nil
}

// CreateProfile creates a profile and returns its id
func (c *Client) CreateProfile(ctx context.Context, spec ports.ProfileSpec) (string, error) {
	req := createRequest{
		Name:     spec.Name,
		StartURL: spec.StartURL,
	}
	if c.localDir != "" {
		dir, err := c.dataDir(spec.Name)
		if err != nil {
			return "", fmt.Errorf("failed to create profile: %w", err)
		}
		req.DataDir = dir
	}
	if p := spec.Proxy; p != nil {
		scheme := p.Scheme
		if scheme == "" {
			scheme = "http"
		}
		req.Proxy = &proxyBody{
			Scheme:   scheme,
			Host:     p.Host,
			Port:     p.Port,
			Username: p.Username,
			Password: p.Password,
		}
	}

	var resp createResponse
	if err := c.do(ctx, http.MethodPost, "profiles", req, &resp); err != nil {
		return "", fmt.Errorf("failed to create profile: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("failed to create profile: empty id in response")
	}

	if req.DataDir != "" {
		c.mu.Lock()
		c.dirs[resp.ID] = req.DataDir
		c.mu.Unlock()
	}

	c.logger.Debug("profile created",
		zap.String("profile_id", resp.ID),
		zap.String("name", spec.Name),
		zap.String("data_dir", req.DataDir))
	return resp.ID, nil
}

// StartProfile launches the profile's browser and returns its DevTools endpoint
func (c *Client) StartProfile(ctx context.Context, profileID string) (string, error) {
	var resp startResponse
	if err := c.do(ctx, http.MethodPost, path.Join("profiles", profileID, "start"), nil, &resp); err != nil {
		return "", fmt.Errorf("failed to start profile %s: %w", profileID, err)
	}
	if resp.WSEndpoint == "" {
		return "", fmt.Errorf("failed to start profile %s: empty endpoint in response", profileID)
	}
	return resp.WSEndpoint, nil
}

// StopProfile stops the profile's browser
func (c *Client) StopProfile(ctx context.Context, profileID string) error {
	if err := c.do(ctx, http.MethodPost, path.Join("profiles", profileID, "stop"), nil, nil); err != nil {
		return fmt.Errorf("failed to stop profile %s: %w", profileID, err)
	}
	return nil
}

// DeleteProfile deletes the profile remotely, then its local data directory.
// The directory is kept when the remote delete fails.
func (c *Client) DeleteProfile(ctx context.Context, profileID string) error {
	if err := c.do(ctx, http.MethodDelete, path.Join("profiles", profileID), nil, nil); err != nil {
		return fmt.Errorf("failed to delete profile %s: %w", profileID, err)
	}

	c.mu.Lock()
	dir, ok := c.dirs[profileID]
	delete(c.dirs, profileID)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove local data of profile %s: %w", profileID, err)
	}
	c.logger.Debug("profile data removed",
		zap.String("profile_id", profileID),
		zap.String("data_dir", dir))
	return nil
}

// do sends one API call, retrying transport errors and 5xx responses with
// exponential backoff
func (c *Client) do(ctx context.Context, method, rel string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	target := c.base.JoinPath(strings.Split(rel, "/")...).String()

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(&apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))})
		}
		if out == nil || len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("profile API call failed, retrying",
			zap.String("method", method),
			zap.String("path", rel),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	return backoff.RetryNotify(op,
		backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx),
		notify)
}
