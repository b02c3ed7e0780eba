package offline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/sqlbeats/beatscore/internal/security"
)

// MusicDir is the directory under the offline root holding downloaded audio.
const MusicDir = "music"

// KnownExtensions are the audio extensions Exists and Delete look for.
var KnownExtensions = []string{"mp3", "m4a", "flac", "ogg", "wav", "aac"}

// Library manages downloaded audio files laid out as music/<songId>.<ext>.
type Library struct {
	root string
}

// NewLibrary creates a library rooted at dir.
func NewLibrary(dir string) *Library {
	return &Library{root: filepath.Join(dir, MusicDir)}
}

// Root returns the music directory.
func (l *Library) Root() string {
	return l.root
}

// EnsureDir creates the music directory.
func (l *Library) EnsureDir() error {
	if err := os.MkdirAll(l.root, 0755); err != nil {
		return fmt.Errorf("failed to create music directory: %w", err)
	}
	return nil
}

// PathFor returns the local path for songID with extension ext.
func (l *Library) PathFor(songID, ext string) (string, error) {
	if !security.IsValidSongID(songID) {
		return "", fmt.Errorf("invalid song id %q", songID)
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = KnownExtensions[0]
	}
	return filepath.Join(l.root, songID+"."+ext), nil
}

// Exists returns the path of the downloaded file for songID, if any.
func (l *Library) Exists(songID string) (string, bool) {
	for _, ext := range KnownExtensions {
		path, err := l.PathFor(songID, ext)
		if err != nil {
			return "", false
		}
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
}

// Delete removes every downloaded file for songID along with any partial
// transfer. It reports whether a complete file was removed.
func (l *Library) Delete(songID string) (bool, error) {
	removed := false
	for _, ext := range KnownExtensions {
		path, err := l.PathFor(songID, ext)
		if err != nil {
			return false, err
		}
		for _, p := range []string{path, path + ".part"} {
			err := os.Remove(p)
			switch {
			case err == nil:
				if p == path {
					removed = true
				}
			case errors.Is(err, fs.ErrNotExist):
			default:
				return removed, fmt.Errorf("failed to delete %s: %w", filepath.Base(p), err)
			}
		}
	}
	return removed, nil
}

// Tags is the subset of embedded metadata shown in the downloads view.
type Tags struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Album  string `json:"album"`
	Format string `json:"format"`
}

// ReadTags reads embedded metadata from a downloaded file.
func ReadTags(path string) (*Tags, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer file.Close()

	metadata, err := tag.ReadFrom(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read tags: %w", err)
	}

	return &Tags{
		Title:  metadata.Title(),
		Artist: metadata.Artist(),
		Album:  metadata.Album(),
		Format: string(metadata.FileType()),
	}, nil
}
