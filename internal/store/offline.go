package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// OfflineSongRecord is one entry of the offline song index.
type OfflineSongRecord struct {
	SongID       string    `json:"songId"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	FileName     string    `json:"fileName"`
	DownloadedAt time.Time `json:"downloadedAt"`
	LocalPath    string    `json:"localPath"`
}

// OfflineIndex persists the list of songs available offline.
type OfflineIndex struct {
	db *sql.DB
}

// NewOfflineIndex creates an index backed by db.
func NewOfflineIndex(db *sql.DB) *OfflineIndex {
	return &OfflineIndex{db: db}
}

// Add appends rec unless a record for the same song exists. It reports
// whether a row was inserted.
func (idx *OfflineIndex) Add(rec OfflineSongRecord) (bool, error) {
	if rec.SongID == "" {
		return false, fmt.Errorf("offline record requires a song id")
	}
	if rec.DownloadedAt.IsZero() {
		rec.DownloadedAt = time.Now()
	}

	res, err := idx.db.Exec(`
		INSERT OR IGNORE INTO offline_songs (song_id, title, artist, file_name, local_path, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.SongID, rec.Title, rec.Artist, rec.FileName, rec.LocalPath, rec.DownloadedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to add offline record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// Remove deletes the record for songID. Missing records are not an error.
func (idx *OfflineIndex) Remove(songID string) (bool, error) {
	res, err := idx.db.Exec("DELETE FROM offline_songs WHERE song_id = ?", songID)
	if err != nil {
		return false, fmt.Errorf("failed to remove offline record: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Get returns the record for songID, or nil if the song is not offline.
func (idx *OfflineIndex) Get(songID string) (*OfflineSongRecord, error) {
	row := idx.db.QueryRow(`
		SELECT song_id, title, artist, file_name, local_path, downloaded_at
		FROM offline_songs WHERE song_id = ?
	`, songID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get offline record: %w", err)
	}
	return rec, nil
}

// List returns all records in insertion order.
func (idx *OfflineIndex) List() ([]OfflineSongRecord, error) {
	rows, err := idx.db.Query(`
		SELECT song_id, title, artist, file_name, local_path, downloaded_at
		FROM offline_songs ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list offline records: %w", err)
	}
	defer rows.Close()

	records := []OfflineSongRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offline record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Count returns the number of offline songs.
func (idx *OfflineIndex) Count() (int, error) {
	var n int
	if err := idx.db.QueryRow("SELECT COUNT(*) FROM offline_songs").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count offline records: %w", err)
	}
	return n, nil
}

// Export writes the index as a JSON array.
func (idx *OfflineIndex) Export(w io.Writer) error {
	records, err := idx.List()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// Import reads a JSON array of records and adds each one, keeping existing
// entries. It returns how many records were inserted.
func (idx *OfflineIndex) Import(r io.Reader) (int, error) {
	var records []OfflineSongRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return 0, fmt.Errorf("failed to decode offline index: %w", err)
	}

	tx, err := idx.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO offline_songs (song_id, title, artist, file_name, local_path, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, rec := range records {
		if rec.SongID == "" {
			continue
		}
		if rec.DownloadedAt.IsZero() {
			rec.DownloadedAt = time.Now()
		}
		res, err := stmt.Exec(rec.SongID, rec.Title, rec.Artist, rec.FileName, rec.LocalPath, rec.DownloadedAt.UTC())
		if err != nil {
			return 0, fmt.Errorf("failed to import %s: %w", rec.SongID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit import: %w", err)
	}
	return inserted, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s rowScanner) (*OfflineSongRecord, error) {
	var rec OfflineSongRecord
	var artist sql.NullString
	if err := s.Scan(&rec.SongID, &rec.Title, &artist, &rec.FileName, &rec.LocalPath, &rec.DownloadedAt); err != nil {
		return nil, err
	}
	rec.Artist = artist.String
	return &rec, nil
}
