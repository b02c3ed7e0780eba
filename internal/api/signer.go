package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/sqlbeats/beatscore/internal/errors"
	"github.com/sqlbeats/beatscore/internal/monitoring"
	"github.com/sqlbeats/beatscore/internal/network"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxSignBody caps how much of a signing response is read.
const maxSignBody = 64 << 10

// SignerConfig configures the signing client.
type SignerConfig struct {
	Endpoint          string
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	Timeout           time.Duration
	// InitialBackoff overrides the first retry delay. Zero keeps the default.
	InitialBackoff time.Duration
}

// SignClient turns raw storage keys into time-limited signed URLs.
type SignClient struct {
	endpoint    string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	retry       apperrors.RetryConfig
	logger      *zap.Logger
}

// NewSignClient creates a signing client with its own pooled HTTP client.
func NewSignClient(cfg SignerConfig, logger *zap.Logger) *SignClient {
	clientCfg := network.DefaultClientConfig()
	if cfg.Timeout > 0 {
		clientCfg.Timeout = cfg.Timeout
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	retry := apperrors.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries
	if cfg.InitialBackoff > 0 {
		retry.InitialBackoff = cfg.InitialBackoff
		retry.MaxBackoff = cfg.InitialBackoff * 8
	}

	s := &SignClient{
		endpoint:    cfg.Endpoint,
		httpClient:  network.NewClient(clientCfg),
		rateLimiter: rate.NewLimiter(rate.Limit(rps), burst),
		retry:       retry,
		logger:      monitoring.Named(logger, "signer"),
	}
	s.retry.OnRetry = func(attempt int, backoff time.Duration, err error) {
		s.logger.Warn("retrying sign request",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
	}
	return s
}

// Sign returns a signed URL for key, authorized with the bearer token.
func (s *SignClient) Sign(ctx context.Context, key, token string) (string, error) {
	if key == "" {
		return "", apperrors.NewValidationError("storage key cannot be empty")
	}
	if token == "" {
		return "", apperrors.NewAuthError("bearer token required", nil)
	}

	start := time.Now()
	var signed string
	err := apperrors.RetryWithBackoff(ctx, s.retry, func() error {
		var err error
		signed, err = s.signOnce(ctx, key, token)
		return err
	})
	if err != nil {
		monitoring.RecordSigning("error", time.Since(start))
		return "", err
	}

	monitoring.RecordSigning("ok", time.Since(start))
	return signed, nil
}

func (s *SignClient) signOnce(ctx context.Context, key, token string) (string, error) {
	if err := s.rateLimiter.Wait(ctx); err != nil {
		return "", apperrors.NewCancelledError("rate limiter wait aborted", err)
	}

	reqURL, err := url.Parse(s.endpoint)
	if err != nil {
		return "", apperrors.NewValidationError(fmt.Sprintf("invalid signing endpoint %q", s.endpoint))
	}
	q := reqURL.Query()
	q.Set("key", key)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return "", apperrors.NewNetworkError("failed to build sign request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", apperrors.NewCancelledError("sign request aborted", ctx.Err())
		}
		return "", apperrors.NewNetworkError("sign request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSignBody))
	if err != nil {
		return "", apperrors.NewNetworkError("failed to read sign response", err)
	}

	if err := statusError(resp, body); err != nil {
		return "", err
	}

	var result SignResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", apperrors.NewResolutionError("failed to decode sign response", err)
	}
	if result.SignedURL == "" {
		return "", apperrors.NewResolutionError("sign response has no signedUrl", nil)
	}
	return result.SignedURL, nil
}

func statusError(resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.NewAuthError(fmt.Sprintf("signing rejected with status %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return apperrors.NewRateLimitError("signing endpoint rate limited", retryAfter)
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NewNotFoundError("storage object not found")
	case resp.StatusCode >= 500:
		return apperrors.NewNetworkError(fmt.Sprintf("signing endpoint returned %d", resp.StatusCode), fmt.Errorf("%s", truncate(body, 200)))
	default:
		return apperrors.NewResolutionError(fmt.Sprintf("signing failed with status %d", resp.StatusCode), fmt.Errorf("%s", truncate(body, 200)))
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
