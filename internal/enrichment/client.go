// Package enrichment calls the company-analysis API and the campaign
// directory. Both are best-effort collaborators; callers decide what to do
// when a lookup fails.
package enrichment

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

	"github.com/jonesrussell/leadflow/internal/domain"
	"github.com/jonesrussell/leadflow/internal/logger"
)

const defaultTimeout = 10 * time.Second

// Config holds enrichment API settings
type Config struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  logger.Logger
}

type analyzeRequest struct {
	Domain  string `json:"domain"`
	Company string `json:"company"`
}

type apiError struct {
	Message string `json:"message"`
}

func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("enrichment base URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  log,
	}, nil
}

// Analyze asks the analysis API to classify a company. The profile comes back
// as-is; the caller owns the fallback policy.
func (c *Client) Analyze(ctx context.Context, companyDomain, companyName string) (*domain.CompanyProfile, error) {
	payload, err := json.Marshal(analyzeRequest{Domain: companyDomain, Company: companyName})
	if err != nil {
		return nil, fmt.Errorf("marshal analyze request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/company/analyze", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("create analyze request: %w", err)
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyze request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("analyze", resp)
	}

	var profile domain.CompanyProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode analyze response: %w", err)
	}

	c.logger.Debug("company analyzed",
		logger.String("company", companyName),
		logger.String("industry", profile.Industry),
		logger.Float64("confidence", profile.Confidence),
		logger.Duration("elapsed", time.Since(start)))

	return &profile, nil
}

// Lookup resolves the marketing campaign a lead arrived through.
// A 404 is a normal answer: nil campaign, nil error.
func (c *Client) Lookup(ctx context.Context, email string) (*domain.Campaign, error) {
	endpoint := fmt.Sprintf("%s/v1/campaigns?email=%s", c.baseURL, url.QueryEscape(email))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create campaign request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("campaign request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("campaign lookup", resp)
	}

	var campaign domain.Campaign
	if err := json.NewDecoder(resp.Body).Decode(&campaign); err != nil {
		return nil, fmt.Errorf("decode campaign response: %w", err)
	}
	return &campaign, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) statusError(op string, resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var apiErr apiError
	if err := json.Unmarshal(bodyBytes, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("%s failed: %d %s", op, resp.StatusCode, apiErr.Message)
	}
	return fmt.Errorf("%s failed: %d %s", op, resp.StatusCode, resp.Status)
}
