package mediacache

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sqlbeats/beatscore/internal/api"
)

func makeSongs(n int) []api.Song {
	songs := make([]api.Song, n)
	for i := range songs {
		songs[i] = api.Song{
			ID:          fmt.Sprintf("s%d", i),
			Title:       fmt.Sprintf("Song %d", i),
			StoragePath: fmt.Sprintf("track%d.mp3", i),
			CoverURL:    fmt.Sprintf("covers/%d.jpg", i),
		}
	}
	return songs
}

type resolveCall struct {
	key      string
	class    ContentClass
	priority Priority
}

func TestPreloadWindowAndPriorities(t *testing.T) {
	var mu sync.Mutex
	var calls []resolveCall
	resolve := func(ctx context.Context, key string, class ContentClass, priority Priority) Resolution {
		mu.Lock()
		calls = append(calls, resolveCall{key, class, priority})
		mu.Unlock()
		return Resolution{URL: "https://x/" + key, Outcome: Resolved}
	}

	result := Preload(context.Background(), makeSongs(20), resolve, nil, 2)
	if result.Attempted != 8 || result.Resolved != 8 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}
	if len(calls) != 16 {
		t.Fatalf("resolve calls = %d, want 16 (audio + cover for 8 songs)", len(calls))
	}

	for _, c := range calls {
		var idx int
		if c.class == ClassAudio {
			fmt.Sscanf(c.key, "track%d.mp3", &idx)
		} else {
			fmt.Sscanf(c.key, "covers/%d.jpg", &idx)
		}
		if idx < 2 || idx > 9 {
			t.Errorf("song %d outside the preload window", idx)
		}
		wantPriority := PriorityNormal
		if idx < 5 {
			wantPriority = PriorityHigh
		}
		if c.priority != wantPriority {
			t.Errorf("song %d priority = %s, want %s", idx, c.priority, wantPriority)
		}
	}
}

func TestPreloadIsolatesFailures(t *testing.T) {
	resolve := func(ctx context.Context, key string, class ContentClass, priority Priority) Resolution {
		switch key {
		case "track1.mp3":
			panic("resolver crashed")
		case "track2.mp3":
			return Resolution{URL: key, Outcome: Degraded}
		}
		return Resolution{URL: "https://x/" + key, Outcome: Resolved}
	}

	var mu sync.Mutex
	var progress []float64
	result := Preload(context.Background(), makeSongs(4), resolve, func(p float64) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	}, 0)

	if result.Attempted != 4 || result.Resolved != 2 || result.Failed != 2 {
		t.Errorf("result = %+v", result)
	}
	if len(progress) != 4 {
		t.Fatalf("progress calls = %v, want 4", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Errorf("progress regressed: %v", progress)
		}
	}
	if progress[len(progress)-1] != 100 {
		t.Errorf("last progress = %v, want 100", progress[len(progress)-1])
	}
}

func TestPreloadOutOfRange(t *testing.T) {
	var reported []float64
	result := Preload(context.Background(), makeSongs(3), func(context.Context, string, ContentClass, Priority) Resolution {
		t.Error("resolve should not be called")
		return Resolution{}
	}, func(p float64) { reported = append(reported, p) }, 10)

	if result.Attempted != 0 {
		t.Errorf("result = %+v", result)
	}
	if len(reported) != 1 || reported[0] != 100 {
		t.Errorf("progress = %v, want [100]", reported)
	}
}

func TestPreloadSkipsSongsWithoutAudioKey(t *testing.T) {
	songs := []api.Song{{ID: "a"}, {ID: "b", FileURL: "legacy.mp3"}}
	result := Preload(context.Background(), songs, func(ctx context.Context, key string, class ContentClass, priority Priority) Resolution {
		return Resolution{URL: key, Outcome: Resolved}
	}, nil, 0)

	if result.Resolved != 1 || result.Failed != 1 {
		t.Errorf("result = %+v", result)
	}
}

func TestCachePreload(t *testing.T) {
	signer := &fakeSigner{}
	cache := newTestCache(signer, newFakeClock(), nil)

	result := cache.Preload(context.Background(), makeSongs(5), creds, nil, 0)
	if result.Resolved != 5 {
		t.Errorf("result = %+v", result)
	}
	if n := cache.Len(); n != 10 {
		t.Errorf("Len() = %d, want 10", n)
	}

	// A second pass is served from the cache.
	cache.Preload(context.Background(), makeSongs(5), creds, nil, 0)
	if n := signer.calls.Load(); n != 10 {
		t.Errorf("signer calls = %d, want 10", n)
	}
}

type urlSigner struct{ base string }

func (s urlSigner) Sign(ctx context.Context, key, token string) (string, error) {
	return s.base + "/" + key, nil
}

func TestFetchLyrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/lyrics/ok.txt":
			w.Write([]byte("la la la"))
		case "/lyrics/empty.txt":
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	cache := newTestCache(urlSigner{base: server.URL}, newFakeClock(), nil)
	ctx := context.Background()

	text, err := cache.FetchLyrics(ctx, "lyrics/ok.txt", creds)
	if err != nil || text != "la la la" {
		t.Errorf("FetchLyrics(ok) = %q, %v", text, err)
	}

	text, err = cache.FetchLyrics(ctx, "lyrics/empty.txt", creds)
	if err != nil || text != EmptyLyricsText {
		t.Errorf("FetchLyrics(empty) = %q, %v", text, err)
	}

	text, err = cache.FetchLyrics(ctx, "lyrics/missing.txt", creds)
	if err == nil || text != LyricsErrorText {
		t.Errorf("FetchLyrics(missing) = %q, %v", text, err)
	}
	if cache.Invalidate("lyrics/missing.txt") != 0 {
		t.Error("failed lyrics URL should have been invalidated")
	}

	text, err = cache.FetchLyrics(ctx, "", creds)
	if err != nil || text != NoLyricsText {
		t.Errorf("FetchLyrics(\"\") = %q, %v", text, err)
	}

	text, err = cache.FetchLyrics(ctx, "lyrics/ok.txt", nil)
	if err != nil || text != "la la la" {
		t.Errorf("cached FetchLyrics without creds = %q, %v", text, err)
	}
}
