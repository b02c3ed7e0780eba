package store

import (
	"database/sql"
	"fmt"
	"time"
)

// HistoryEntry is one finished download attempt.
type HistoryEntry struct {
	SongID     string    `json:"songId"`
	Title      string    `json:"title"`
	Artist     string    `json:"artist"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Bytes      int64     `json:"bytes"`
	DurationMs int64     `json:"durationMs"`
	FinishedAt time.Time `json:"finishedAt"`
}

// History records finished download attempts.
type History struct {
	db *sql.DB
}

// NewHistory creates a History backed by db.
func NewHistory(db *sql.DB) *History {
	return &History{db: db}
}

// Record appends e.
func (h *History) Record(e HistoryEntry) error {
	if e.FinishedAt.IsZero() {
		e.FinishedAt = time.Now()
	}
	_, err := h.db.Exec(`
		INSERT INTO download_history (song_id, title, artist, status, error_message, bytes, duration_ms, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.SongID, e.Title, e.Artist, e.Status, e.Error, e.Bytes, e.DurationMs, e.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (h *History) Recent(limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.Query(`
		SELECT song_id, COALESCE(title, ''), COALESCE(artist, ''), status,
		       COALESCE(error_message, ''), bytes, duration_ms, finished_at
		FROM download_history
		ORDER BY finished_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.SongID, &e.Title, &e.Artist, &e.Status, &e.Error, &e.Bytes, &e.DurationMs, &e.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
