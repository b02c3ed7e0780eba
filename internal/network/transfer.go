package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/sqlbeats/beatscore/internal/errors"
)

const (
	transferBufferSize = 256 * 1024
	partialSuffix      = ".part"
)

// TransferConfig describes a single file transfer.
type TransferConfig struct {
	URL        string
	OutputPath string
	Headers    map[string]string
	// Client defaults to GetDownloadClient(0).
	Client *http.Client
	// Resume continues from an existing partial file with a Range request
	// and keeps the partial file when the transfer fails.
	Resume bool
	// OnProgress receives cumulative bytes and the total (0 when unknown).
	OnProgress func(loaded, total int64)
}

// TransferResult contains the result of a completed transfer.
type TransferResult struct {
	Path         string
	BytesWritten int64
	TotalBytes   int64
	Resumed      bool
	Duration     time.Duration
}

// PartialPath returns where in-progress bytes for outputPath are written.
func PartialPath(outputPath string) string {
	return outputPath + partialSuffix
}

// Transfer streams URL into OutputPath. Bytes land in a partial file that is
// renamed into place only after the body has been fully written, so a
// cancelled or failed transfer never leaves a truncated file at OutputPath.
func Transfer(ctx context.Context, cfg TransferConfig) (*TransferResult, error) {
	start := time.Now()
	if cfg.URL == "" || cfg.OutputPath == "" {
		return nil, apperrors.NewValidationError("transfer requires a URL and an output path")
	}

	client := cfg.Client
	if client == nil {
		client = GetDownloadClient(0)
	}

	partial := PartialPath(cfg.OutputPath)
	if err := os.MkdirAll(filepath.Dir(partial), 0755); err != nil {
		return nil, apperrors.NewFileSystemError("failed to create output directory", err)
	}

	var startByte int64
	if cfg.Resume {
		if info, err := os.Stat(partial); err == nil && info.Size() > 0 {
			startByte = info.Size()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid transfer URL: %v", err))
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}
	if startByte > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startByte))
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, transferError(ctx, "transfer request failed", err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	switch {
	case startByte > 0 && resp.StatusCode == http.StatusPartialContent:
		flags = os.O_WRONLY | os.O_APPEND
	case resp.StatusCode == http.StatusOK:
		// Range ignored or fresh transfer
		startByte = 0
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.NewNotFoundError("transfer source not found")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.NewAuthError(fmt.Sprintf("transfer rejected with status %d", resp.StatusCode), nil)
	default:
		return nil, apperrors.NewTransferError(fmt.Sprintf("transfer failed with status %d", resp.StatusCode), nil)
	}

	file, err := os.OpenFile(partial, flags, 0644)
	if err != nil {
		return nil, apperrors.NewFileSystemError("failed to open partial file", err)
	}

	result := &TransferResult{
		Path:    cfg.OutputPath,
		Resumed: startByte > 0,
	}
	if resp.ContentLength >= 0 {
		result.TotalBytes = resp.ContentLength + startByte
	}

	written, copyErr := copyWithProgress(ctx, file, resp.Body, startByte, result.TotalBytes, cfg.OnProgress)
	result.BytesWritten = written
	closeErr := file.Close()

	if copyErr == nil && closeErr != nil {
		copyErr = apperrors.NewFileSystemError("failed to close partial file", closeErr)
	}
	if copyErr == nil && result.TotalBytes > 0 && written < result.TotalBytes {
		copyErr = apperrors.NewTransferError(fmt.Sprintf("transfer incomplete: %d of %d bytes", written, result.TotalBytes), nil)
	}
	if copyErr != nil {
		if !cfg.Resume {
			os.Remove(partial)
		}
		return result, copyErr
	}

	if err := os.Rename(partial, cfg.OutputPath); err != nil {
		os.Remove(partial)
		return result, apperrors.NewFileSystemError("failed to move file to final location", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// copyWithProgress copies src into dst through a 256KB buffer, reporting the
// cumulative byte count after every chunk.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, offset, total int64, onProgress func(loaded, total int64)) (int64, error) {
	writer := bufio.NewWriterSize(dst, transferBufferSize)
	buffer := make([]byte, transferBufferSize)
	loaded := offset

	for {
		if err := ctx.Err(); err != nil {
			writer.Flush()
			return loaded, apperrors.NewCancelledError("transfer cancelled", err)
		}

		n, err := src.Read(buffer)
		if n > 0 {
			if _, writeErr := writer.Write(buffer[:n]); writeErr != nil {
				return loaded, apperrors.NewFileSystemError("failed to write to file", writeErr)
			}
			loaded += int64(n)
			if onProgress != nil {
				onProgress(loaded, total)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writer.Flush()
			return loaded, transferError(ctx, "error reading response", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return loaded, apperrors.NewFileSystemError("failed to flush buffer", err)
	}
	return loaded, nil
}

func transferError(ctx context.Context, message string, err error) error {
	if ctx.Err() != nil {
		return apperrors.NewCancelledError("transfer cancelled", ctx.Err())
	}
	return apperrors.NewTransferError(message, err)
}
