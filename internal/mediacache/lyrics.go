package mediacache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/sqlbeats/beatscore/internal/errors"
	"github.com/sqlbeats/beatscore/internal/network"
	"github.com/sqlbeats/beatscore/internal/security"
)

const (
	NoLyricsText      = "No lyrics available for this song."
	EmptyLyricsText   = "No lyrics content found."
	LyricsErrorText   = "Error loading lyrics. Please try again later."
	maxLyricsBodySize = 1 << 20
)

// FetchLyrics resolves a lyrics storage key and returns its text. On failure
// it returns a placeholder suitable for display along with the error.
func (c *Cache) FetchLyrics(ctx context.Context, lyricsKey string, creds security.TokenSource) (string, error) {
	if strings.TrimSpace(lyricsKey) == "" {
		return NoLyricsText, nil
	}

	res := c.Resolve(ctx, lyricsKey, creds, ClassText, PriorityNormal)
	if !res.OK() {
		return LyricsErrorText, apperrors.NewResolutionError("could not resolve lyrics URL", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.URL, nil)
	if err != nil {
		return LyricsErrorText, apperrors.NewValidationError(fmt.Sprintf("invalid lyrics URL: %v", err))
	}
	req.Header.Set("Accept", ClassText.Accept())

	resp, err := network.GetDefaultClient().Do(req)
	if err != nil {
		return LyricsErrorText, apperrors.NewNetworkError("failed to fetch lyrics", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// The signed URL may have been revoked; force a fresh signature next time.
		c.Invalidate(lyricsKey)
		return LyricsErrorText, apperrors.NewTransferError(fmt.Sprintf("lyrics fetch failed with status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLyricsBodySize))
	if err != nil {
		return LyricsErrorText, apperrors.NewNetworkError("failed to read lyrics", err)
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return string(body), nil
	}
	return EmptyLyricsText, nil
}
