package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sqlbeats/beatscore/internal/api"
)

const (
	playerStateKey = "player_state"
	// PlayerStateMaxAge is how long a saved player state stays restorable.
	PlayerStateMaxAge = 24 * time.Hour
	// DefaultVolume is used when a saved state has no volume.
	DefaultVolume = 0.75
)

// PlayerState is the restorable playback position.
type PlayerState struct {
	LastSongID     string     `json:"lastSongId"`
	LastProgress   float64    `json:"lastProgress"`
	LastVolume     float64    `json:"lastVolume"`
	LastQueue      []api.Song `json:"lastQueue"`
	LastQueueIndex int        `json:"lastQueueIndex"`
	// Timestamp is milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`
}

// PlayerStateStore saves and restores PlayerState through a KVStore.
type PlayerStateStore struct {
	kv  *KVStore
	now func() time.Time
}

// NewPlayerStateStore creates a store. A nil clock uses time.Now.
func NewPlayerStateStore(kv *KVStore, clock func() time.Time) *PlayerStateStore {
	if clock == nil {
		clock = time.Now
	}
	return &PlayerStateStore{kv: kv, now: clock}
}

// Save stamps and persists state.
func (s *PlayerStateStore) Save(state PlayerState) error {
	state.Timestamp = s.now().UnixMilli()
	if state.LastQueue == nil {
		state.LastQueue = []api.Song{}
	}
	return s.kv.Set(playerStateKey, state)
}

// Load returns the saved state, or nil when none exists or it is older than
// PlayerStateMaxAge. Stale states are deleted.
func (s *PlayerStateStore) Load() (*PlayerState, error) {
	var raw json.RawMessage
	ok, err := s.kv.Get(playerStateKey, &raw)
	if err != nil || !ok {
		return nil, err
	}

	var state PlayerState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode player state: %w", err)
	}

	saved := time.UnixMilli(state.Timestamp)
	if s.now().Sub(saved) > PlayerStateMaxAge {
		if err := s.kv.Delete(playerStateKey); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if state.LastVolume == 0 {
		state.LastVolume = DefaultVolume
	}
	if state.LastQueue == nil {
		state.LastQueue = []api.Song{}
	}
	return &state, nil
}

// Clear removes any saved state.
func (s *PlayerStateStore) Clear() error {
	return s.kv.Delete(playerStateKey)
}
