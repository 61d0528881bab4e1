// Package remote adapts an HTTP/JSON scan gateway to scan.Scanner. The
// gateway owns the game protocol; this client only opens sessions, issues
// scans and maps failures onto the transient/fatal taxonomy.
package remote

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
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scanfleet/internal/policy/ratelimit"
	"github.com/JakeFAU/scanfleet/internal/scan"
)

const (
	sessionPath    = "v1/session"
	scanPath       = "v1/scan"
	contentType    = "application/json"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4096
)

// Config configures the gateway client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// RPS and Burst bound how fast a single account may scan.
	RPS   float64
	Burst int
}

// Client implements scan.Scanner over the gateway API. It caches one session
// token per account and rate limits per account.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *ratelimit.Limiter
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]string
}

// Option customizes the Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New validates cfg and returns a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, scan.NewConfigurationError("remote base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, &scan.ConfigurationError{Msg: "parse remote base url", Err: err}
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, scan.NewConfigurationError("remote base url %q needs a scheme and host", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		base:     base,
		http:     &http.Client{Timeout: timeout},
		limiter:  ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RPS, DefaultBurst: cfg.Burst}),
		logger:   zap.NewNop(),
		sessions: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type sessionRequest struct {
	Provider string `json:"provider"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token  string `json:"token"`
	Banned bool   `json:"banned"`
}

type scanRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

type scanResponse struct {
	Banned           bool                   `json:"banned"`
	ScannedAt        time.Time              `json:"scanned_at"`
	Creatures        []scan.Creature        `json:"creatures"`
	PointsOfInterest []scan.PointOfInterest `json:"points_of_interest"`
	Structures       []scan.Structure       `json:"structures"`
}

// Scan implements scan.Scanner.
func (c *Client) Scan(ctx context.Context, location scan.Location, account scan.Account) (scan.ScanResult, error) {
	key := account.String()
	if err := c.limiter.Wait(ctx, key); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return scan.ScanResult{}, ctxErr
		}
		return scan.ScanResult{}, scan.NewTransientScanError(scan.ReasonRateLimited, err)
	}

	token, err := c.session(ctx, account)
	if err != nil {
		return scan.ScanResult{}, err
	}

	body := scanRequest{Latitude: location.Latitude, Longitude: location.Longitude, Altitude: location.Altitude}
	resp, err := c.post(ctx, scanPath, token, body)
	if err != nil {
		return scan.ScanResult{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		c.dropSession(key)
		return scan.ScanResult{}, scan.NewTransientScanError(scan.ReasonAuthChallenge, statusError(resp))
	default:
		return scan.ScanResult{}, classifyStatus(resp)
	}

	var decoded scanResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return scan.ScanResult{}, scan.NewTransientScanError(scan.ReasonNetwork, fmt.Errorf("decode scan response: %w", err))
	}
	if decoded.Banned {
		c.dropSession(key)
		return scan.ScanResult{}, scan.NewFatalScanError(scan.ReasonBanned, errors.New("gateway flagged account as banned"))
	}
	return scan.ScanResult{
		Location:         location,
		ScannedAt:        decoded.ScannedAt,
		Creatures:        decoded.Creatures,
		PointsOfInterest: decoded.PointsOfInterest,
		Structures:       decoded.Structures,
	}, nil
}

func (c *Client) session(ctx context.Context, account scan.Account) (string, error) {
	key := account.String()
	c.mu.Lock()
	token, ok := c.sessions[key]
	c.mu.Unlock()
	if ok {
		return token, nil
	}

	provider := account.Provider
	if provider == "" {
		provider = "ptc"
	}
	resp, err := c.post(ctx, sessionPath, "", sessionRequest{
		Provider: provider,
		Username: account.Username,
		Password: account.Password,
	})
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", scan.NewFatalScanError(scan.ReasonInvalidCredentials, statusError(resp))
	default:
		return "", classifyStatus(resp)
	}

	var decoded sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", scan.NewTransientScanError(scan.ReasonNetwork, fmt.Errorf("decode session response: %w", err))
	}
	if decoded.Banned {
		return "", scan.NewFatalScanError(scan.ReasonBanned, errors.New("gateway flagged account as banned"))
	}
	if decoded.Token == "" {
		return "", scan.NewTransientScanError(scan.ReasonAuthChallenge, errors.New("gateway returned an empty session token"))
	}

	c.mu.Lock()
	c.sessions[key] = decoded.Token
	c.mu.Unlock()
	c.logger.Debug("session established", zap.String("account", key))
	return decoded.Token, nil
}

func (c *Client) dropSession(key string) {
	c.mu.Lock()
	delete(c.sessions, key)
	c.mu.Unlock()
}

func (c *Client) post(ctx context.Context, path, token string, payload any) (*http.Response, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", path, err)
	}
	target := c.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, scan.NewTransientScanError(scan.ReasonNetwork, fmt.Errorf("post %s: %w", path, err))
	}
	return resp, nil
}

// classifyStatus maps a non-success gateway status onto the error taxonomy.
func classifyStatus(resp *http.Response) error {
	err := statusError(resp)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return scan.NewTransientScanError(scan.ReasonRateLimited, err)
	case resp.StatusCode == http.StatusLocked || resp.StatusCode == http.StatusUnavailableForLegalReasons:
		return scan.NewFatalScanError(scan.ReasonBanned, err)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return scan.NewFatalScanError(scan.ReasonInvalidCredentials, err)
	default:
		return scan.NewTransientScanError(scan.ReasonNetwork, err)
	}
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("gateway status %d", resp.StatusCode)
	}
	return fmt.Errorf("gateway status %d: %s", resp.StatusCode, msg)
}
