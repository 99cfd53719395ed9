package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/devilrob/felshare-cloud/internal/infrastructure/config"
	"github.com/devilrob/felshare-cloud/internal/infrastructure/logging"
)

// maxLoginResponseBytes bounds how much of a login response we will read.
const maxLoginResponseBytes = 1 << 20

// Client performs HTTP calls against the vendor cloud API.
type Client struct {
	httpClient *http.Client
	apiBase    string
	email      string
	password   string
	logger     *logging.Logger
}

// NewClient creates a cloud API client from configuration.
func NewClient(cfg config.CloudConfig, logger *logging.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.LoginTimeout()},
		apiBase:    cfg.APIBase,
		email:      cfg.Email,
		password:   cfg.Password,
		logger:     logger.With("component", "cloud-client"),
	}
}

// loginResponse mirrors the vendor's login envelope. Only the token is
// interesting; everything else is account noise.
type loginResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

// Login authenticates against the vendor API.
//
// Parameters:
//   - ctx: Bounds the request alongside the client timeout
//
// Returns:
//   - string: Session token for the broker handshake
//   - error: ErrAuthRejected on 401/403, ErrRateLimited on 429,
//     ErrNoToken on an empty envelope, otherwise a transient error
func (c *Client) Login(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"username": c.email,
		"password": c.password,
	})
	if err != nil {
		return "", fmt.Errorf("cloud: encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("cloud: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cloud: login request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w (HTTP %d)", ErrAuthRejected, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w (HTTP %d)", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("cloud: login returned HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxLoginResponseBytes))
	if err != nil {
		return "", fmt.Errorf("cloud: read login response: %w", err)
	}

	var decoded loginResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("cloud: decode login response: %w", err)
	}
	if decoded.Data.Token == "" {
		return "", ErrNoToken
	}

	c.logger.Info("login succeeded", "duration_ms", time.Since(start).Milliseconds())
	return decoded.Data.Token, nil
}
