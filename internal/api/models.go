package api

import "strings"

// Song is the catalog descriptor for a track as returned by the songs table.
type Song struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album,omitempty"`
	StoragePath string `json:"storage_path,omitempty"`
	FileURL     string `json:"file_url,omitempty"`
	CoverURL    string `json:"cover_url,omitempty"`
	LyricsURL   string `json:"lyrics_url,omitempty"`
}

// AudioKey returns the storage key of the audio object, preferring the
// storage path over the legacy file URL.
func (s *Song) AudioKey() string {
	if key := strings.TrimSpace(s.StoragePath); key != "" {
		return key
	}
	return strings.TrimSpace(s.FileURL)
}

// SignResponse is the body returned by the signing endpoint.
type SignResponse struct {
	SignedURL           string `json:"signedUrl"`
	ExpirationTimestamp int64  `json:"expirationTimestamp"`
}
