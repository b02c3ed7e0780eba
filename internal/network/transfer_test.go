package network

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	apperrors "github.com/sqlbeats/beatscore/internal/errors"
)

func payload(n int) []byte {
	return bytes.Repeat([]byte("beat"), n/4)
}

func TestTransferWritesFile(t *testing.T) {
	body := payload(600 * 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write(body)
	}))
	defer server.Close()

	out := filepath.Join(t.TempDir(), "music", "song-1.mp3")
	var lastLoaded, lastTotal int64
	var calls int
	result, err := Transfer(context.Background(), TransferConfig{
		URL:        server.URL,
		OutputPath: out,
		OnProgress: func(loaded, total int64) {
			if loaded < lastLoaded {
				t.Errorf("progress regressed: %d -> %d", lastLoaded, loaded)
			}
			lastLoaded, lastTotal = loaded, total
			calls++
		},
	})
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if !bytes.Equal(data, body) {
		t.Error("output content mismatch")
	}
	if _, err := os.Stat(PartialPath(out)); !os.IsNotExist(err) {
		t.Error("partial file left behind")
	}
	if result.BytesWritten != int64(len(body)) || result.TotalBytes != int64(len(body)) {
		t.Errorf("result = %+v", result)
	}
	if calls == 0 || lastLoaded != int64(len(body)) || lastTotal != int64(len(body)) {
		t.Errorf("progress calls=%d last=%d/%d", calls, lastLoaded, lastTotal)
	}
}

func TestTransferStatusErrors(t *testing.T) {
	tests := []struct {
		status   int
		wantType apperrors.ErrorType
	}{
		{http.StatusNotFound, apperrors.ErrTypeNotFound},
		{http.StatusForbidden, apperrors.ErrTypeAuth},
		{http.StatusInternalServerError, apperrors.ErrTypeTransfer},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			out := filepath.Join(t.TempDir(), "x.mp3")
			_, err := Transfer(context.Background(), TransferConfig{URL: server.URL, OutputPath: out})
			if got := apperrors.GetErrorType(err); got != tt.wantType {
				t.Errorf("error type = %s, want %s (%v)", got, tt.wantType, err)
			}
			if _, err := os.Stat(out); !os.IsNotExist(err) {
				t.Error("output should not exist")
			}
		})
	}
}

func TestTransferCancelled(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		w.Write([]byte(strings.Repeat("a", 1024)))
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	out := filepath.Join(t.TempDir(), "x.mp3")
	_, err := Transfer(ctx, TransferConfig{URL: server.URL, OutputPath: out})
	if !apperrors.IsCancelled(err) {
		t.Fatalf("error = %v, want cancelled", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("output should not exist after cancel")
	}
	if _, err := os.Stat(PartialPath(out)); !os.IsNotExist(err) {
		t.Error("partial file should be removed when not resuming")
	}
}

func TestTransferResumesPartial(t *testing.T) {
	body := []byte("0123456789abcdefghij")
	var gotRange string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		var start int
		if gotRange != "" {
			fmt.Sscanf(gotRange, "bytes=%d-", &start)
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(body)-1, len(body)))
			w.Header().Set("Content-Length", strconv.Itoa(len(body)-start))
			w.WriteHeader(http.StatusPartialContent)
		}
		w.Write(body[start:])
	}))
	defer server.Close()

	out := filepath.Join(t.TempDir(), "x.mp3")
	if err := os.WriteFile(PartialPath(out), body[:8], 0644); err != nil {
		t.Fatal(err)
	}

	result, err := Transfer(context.Background(), TransferConfig{URL: server.URL, OutputPath: out, Resume: true})
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if gotRange != "bytes=8-" {
		t.Errorf("Range = %q, want bytes=8-", gotRange)
	}
	if !result.Resumed {
		t.Error("expected resumed transfer")
	}
	data, _ := os.ReadFile(out)
	if !bytes.Equal(data, body) {
		t.Errorf("content = %q, want %q", data, body)
	}
}

func TestTransferRequiresURL(t *testing.T) {
	_, err := Transfer(context.Background(), TransferConfig{OutputPath: filepath.Join(t.TempDir(), "x")})
	if apperrors.GetErrorType(err) != apperrors.ErrTypeValidation {
		t.Errorf("error = %v, want validation", err)
	}
}

func TestVerify(t *testing.T) {
	var gotMethod, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAccept = r.Header.Get("Accept")
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := Verify(ctx, nil, server.URL+"/ok", "audio/*"); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if gotMethod != http.MethodHead || gotAccept != "audio/*" {
		t.Errorf("method=%s accept=%s", gotMethod, gotAccept)
	}
	if err := Verify(ctx, nil, server.URL+"/missing", "image/*"); err == nil {
		t.Error("expected error for 404")
	}
}
