package network

import (
	"context"
	"fmt"
	"net/http"

	apperrors "github.com/sqlbeats/beatscore/internal/errors"
)

// Verify issues a HEAD request for url and requires a 2xx answer.
func Verify(ctx context.Context, client *http.Client, url, accept string) error {
	if client == nil {
		client = GetDefaultClient()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("invalid URL: %v", err))
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return apperrors.NewCancelledError("verification cancelled", ctx.Err())
		}
		return apperrors.NewNetworkError("verification request failed", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.NewResolutionError(fmt.Sprintf("verification failed with status %d", resp.StatusCode), nil)
	}
	return nil
}
