package mediacache

import (
	"context"
	"sync"

	"github.com/sqlbeats/beatscore/internal/api"
	"github.com/sqlbeats/beatscore/internal/security"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// PreloadWindow is how many songs from the start index are preloaded.
	PreloadWindow = 8
	// PreloadHighPriority is how many of those are resolved as high priority.
	PreloadHighPriority = 3
	preloadConcurrency  = 3
)

// ResolveFunc resolves one storage key.
type ResolveFunc func(ctx context.Context, storageKey string, class ContentClass, priority Priority) Resolution

// PreloadResult summarizes a preload batch.
type PreloadResult struct {
	Attempted int `json:"attempted"`
	Resolved  int `json:"resolved"`
	Failed    int `json:"failed"`
}

// Preload resolves audio and cover URLs for up to PreloadWindow songs starting
// at startIndex. Each song settles independently: a failed or panicking
// resolution is counted and never stops the rest of the batch. onProgress, if
// set, is called serially with the settled percentage and finally with 100.
func Preload(ctx context.Context, songs []api.Song, resolve ResolveFunc, onProgress func(percent float64), startIndex int) PreloadResult {
	if startIndex < 0 {
		startIndex = 0
	}
	var window []api.Song
	if startIndex < len(songs) {
		end := startIndex + PreloadWindow
		if end > len(songs) {
			end = len(songs)
		}
		window = songs[startIndex:end]
	}

	result := PreloadResult{Attempted: len(window)}
	var (
		mu      sync.Mutex
		settled int
	)
	report := func(ok bool) {
		mu.Lock()
		defer mu.Unlock()
		settled++
		if ok {
			result.Resolved++
		} else {
			result.Failed++
		}
		if onProgress != nil && settled < len(window) {
			onProgress(float64(settled) / float64(len(window)) * 100)
		}
	}

	var g errgroup.Group
	g.SetLimit(preloadConcurrency)
	for i, song := range window {
		priority := PriorityNormal
		if i < PreloadHighPriority {
			priority = PriorityHigh
		}
		song := song
		g.Go(func() error {
			report(preloadSong(ctx, song, resolve, priority))
			return nil
		})
	}
	g.Wait()

	if onProgress != nil {
		onProgress(100)
	}
	return result
}

func preloadSong(ctx context.Context, song api.Song, resolve ResolveFunc, priority Priority) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	audioKey := song.AudioKey()
	if audioKey == "" {
		return false
	}
	audio := resolve(ctx, audioKey, ClassAudio, priority)
	if song.CoverURL != "" {
		resolve(ctx, song.CoverURL, ClassImage, priority)
	}
	return audio.OK()
}

// Preload runs the package level Preload against this cache.
func (c *Cache) Preload(ctx context.Context, songs []api.Song, creds security.TokenSource, onProgress func(percent float64), startIndex int) PreloadResult {
	result := Preload(ctx, songs, func(ctx context.Context, key string, class ContentClass, priority Priority) Resolution {
		return c.Resolve(ctx, key, creds, class, priority)
	}, onProgress, startIndex)

	c.logger.Debug("preload finished",
		zap.Int("start_index", startIndex),
		zap.Int("attempted", result.Attempted),
		zap.Int("resolved", result.Resolved),
		zap.Int("failed", result.Failed))
	return result
}
