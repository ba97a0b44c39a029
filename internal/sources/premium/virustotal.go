// Package premium holds clients for paid threat intelligence services.
package premium

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"privacyguard/internal/config"
	"privacyguard/internal/domain/models"
	"privacyguard/internal/domain/services"
	"privacyguard/pkg/logger"
)

const virusTotalAPIURL = "https://www.virustotal.com/api/v3"

// ErrNotConfigured is returned when no API key is set
var ErrNotConfigured = errors.New("VirusTotal API key not configured")

// VerdictCache stores verdicts by content hash
type VerdictCache interface {
	GetCachedVerdict(ctx context.Context, sha256 string) (*models.MalwareVerdict, error)
	CacheVerdict(ctx context.Context, sha256 string, verdict *models.MalwareVerdict, ttl time.Duration) error
}

// VirusTotalClient looks up file verdicts on VirusTotal v3
type VirusTotalClient struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	cache       VerdictCache
	cacheTTL    time.Duration
	notFoundTTL time.Duration
	rateLimiter *RateLimiter
	logger      *logger.Logger
}

var _ services.MalwareIntel = (*VirusTotalClient)(nil)

// NewVirusTotalClient creates a new VirusTotal client. cache may be nil.
func NewVirusTotalClient(cfg config.VirusTotalConfig, cache VerdictCache, log *logger.Logger) *VirusTotalClient {
	baseURL := strings.TrimRight(cfg.APIURL, "/")
	if baseURL == "" {
		baseURL = virusTotalAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 4 // public API quota
	}

	return &VirusTotalClient{
		client:      &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		cache:       cache,
		cacheTTL:    cfg.CacheTTL,
		notFoundTTL: cfg.NotFoundTTL,
		rateLimiter: NewRateLimiter(perMinute, time.Minute),
		logger:      log.WithComponent("virustotal"),
	}
}

type vtAnalysisStats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Undetected int `json:"undetected"`
	Harmless   int `json:"harmless"`
}

type vtFileResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			SHA256            string          `json:"sha256"`
			LastAnalysisStats vtAnalysisStats `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

// LookupHash checks a single SHA-256 against VirusTotal. An unknown hash is
// returned as a verdict with Found=false, not as an error.
func (c *VirusTotalClient) LookupHash(ctx context.Context, hash string) (*models.MalwareVerdict, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	hash = strings.ToLower(strings.TrimSpace(hash))
	if hash == "" {
		return nil, fmt.Errorf("empty hash")
	}

	if c.cache != nil {
		if cached, err := c.cache.GetCachedVerdict(ctx, hash); err == nil && cached != nil {
			c.logger.Debug().Str("sha256", hash).Bool("found", cached.Found).Msg("cache hit")
			return cached, nil
		}
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	verdict, err := c.fetch(ctx, hash)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		ttl := c.cacheTTL
		if !verdict.Found {
			ttl = c.notFoundTTL
		}
		if ttl > 0 {
			if err := c.cache.CacheVerdict(ctx, hash, verdict, ttl); err != nil {
				c.logger.Warn().Err(err).Msg("failed to cache verdict")
			}
		}
	}
	return verdict, nil
}

func (c *VirusTotalClient) fetch(ctx context.Context, hash string) (*models.MalwareVerdict, error) {
	url := fmt.Sprintf("%s/files/%s", c.baseURL, hash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("VirusTotal request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read VirusTotal response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &models.MalwareVerdict{Found: false}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("VirusTotal returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	return parseFileReport(body)
}

func parseFileReport(body []byte) (*models.MalwareVerdict, error) {
	var result vtFileResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse VirusTotal response: %w", err)
	}

	stats := result.Data.Attributes.LastAnalysisStats
	return &models.MalwareVerdict{
		Found:      true,
		Malicious:  stats.Malicious,
		Suspicious: stats.Suspicious,
		Harmless:   stats.Harmless,
		Undetected: stats.Undetected,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
