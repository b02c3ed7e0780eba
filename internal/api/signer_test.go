package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/sqlbeats/beatscore/internal/errors"
)

func newTestSigner(endpoint string, maxRetries int) *SignClient {
	return NewSignClient(SignerConfig{
		Endpoint:          endpoint,
		RequestsPerSecond: 1000,
		Burst:             100,
		MaxRetries:        maxRetries,
		Timeout:           5 * time.Second,
		InitialBackoff:    time.Millisecond,
	}, nil)
}

func TestSignSuccess(t *testing.T) {
	var gotKey, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SignResponse{
			SignedURL:           "https://cdn.test/music/a%20b.mp3?sig=1",
			ExpirationTimestamp: time.Now().Add(time.Hour).Unix(),
		})
	}))
	defer server.Close()

	signer := newTestSigner(server.URL, 0)
	signed, err := signer.Sign(context.Background(), "music/a b.mp3", "tok")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if signed != "https://cdn.test/music/a%20b.mp3?sig=1" {
		t.Errorf("signed = %q", signed)
	}
	if gotKey != "music/a b.mp3" {
		t.Errorf("endpoint received key %q", gotKey)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestSignRejectsEmptyInput(t *testing.T) {
	signer := newTestSigner("http://127.0.0.1:1", 0)

	if _, err := signer.Sign(context.Background(), "", "tok"); apperrors.GetErrorType(err) != apperrors.ErrTypeValidation {
		t.Errorf("empty key error = %v", err)
	}
	if _, err := signer.Sign(context.Background(), "music/x.mp3", ""); !apperrors.IsAuthError(err) {
		t.Errorf("empty token error = %v", err)
	}
}

func TestSignStatusErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType apperrors.ErrorType
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantType: apperrors.ErrTypeAuth},
		{name: "forbidden", status: http.StatusForbidden, wantType: apperrors.ErrTypeAuth},
		{name: "not found", status: http.StatusNotFound, wantType: apperrors.ErrTypeNotFound},
		{name: "bad request", status: http.StatusBadRequest, body: "missing key", wantType: apperrors.ErrTypeResolution},
		{name: "missing signedUrl", status: http.StatusOK, body: `{"expirationTimestamp":1}`, wantType: apperrors.ErrTypeResolution},
		{name: "invalid json", status: http.StatusOK, body: `not json`, wantType: apperrors.ErrTypeResolution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestSigner(server.URL, 2).Sign(context.Background(), "music/x.mp3", "tok")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := apperrors.GetErrorType(err); got != tt.wantType {
				t.Errorf("error type = %s, want %s (%v)", got, tt.wantType, err)
			}
			if n := atomic.LoadInt32(&calls); n != 1 {
				t.Errorf("non-retryable error made %d calls, want 1", n)
			}
		})
	}
}

func TestSignRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(SignResponse{SignedURL: "https://cdn.test/ok"})
	}))
	defer server.Close()

	signed, err := newTestSigner(server.URL, 2).Sign(context.Background(), "music/x.mp3", "tok")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if signed != "https://cdn.test/ok" {
		t.Errorf("signed = %q", signed)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestSignGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestSigner(server.URL, 1).Sign(context.Background(), "music/x.mp3", "tok")
	if !apperrors.IsNetworkError(err) {
		t.Fatalf("error = %v, want network error", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestSongAudioKey(t *testing.T) {
	tests := []struct {
		song Song
		want string
	}{
		{Song{StoragePath: "a.mp3", FileURL: "b.mp3"}, "a.mp3"},
		{Song{FileURL: " b.mp3 "}, "b.mp3"},
		{Song{}, ""},
	}
	for _, tt := range tests {
		if got := tt.song.AudioKey(); got != tt.want {
			t.Errorf("AudioKey() = %q, want %q", got, tt.want)
		}
	}
}
