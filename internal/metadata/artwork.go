package metadata

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"

	"github.com/nfnt/resize"
	"github.com/sqlbeats/beatscore/internal/network"
)

const maxArtworkBytes = 10 << 20

// FetchArtwork downloads the image at url and scales it to fit size.
func (t *Tagger) FetchArtwork(ctx context.Context, client *http.Client, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", fmt.Errorf("artwork URL cannot be empty")
	}
	if client == nil {
		client = network.GetDefaultClient()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build artwork request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download artwork: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download artwork: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtworkBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read artwork data: %w", err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	if t.config.ArtworkSize > 0 {
		resized, resizedMIME, err := ResizeArtwork(data, t.config.ArtworkSize)
		if err == nil {
			return resized, resizedMIME, nil
		}
		// Undecodable images are embedded as served.
	}
	return data, mimeType, nil
}

// ResizeArtwork scales the image so its longer edge is at most size pixels.
// Images already within bounds are returned unchanged.
func ResizeArtwork(data []byte, size int) ([]byte, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	mimeType := "image/jpeg"
	if format == "png" {
		mimeType = "image/png"
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= size && height <= size {
		return data, mimeType, nil
	}

	var resized image.Image
	if width >= height {
		resized = resize.Resize(uint(size), 0, img, resize.Lanczos3)
	} else {
		resized = resize.Resize(0, uint(size), img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if format == "png" {
		err = png.Encode(&buf, resized)
	} else {
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 90})
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode resized image: %w", err)
	}
	return buf.Bytes(), mimeType, nil
}
