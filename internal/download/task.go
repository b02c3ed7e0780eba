package download

import (
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sqlbeats/beatscore/internal/api"
	"github.com/sqlbeats/beatscore/internal/offline"
)

// Status is the lifecycle state of a download task.
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// UnknownTitle is used when a song has no title.
const UnknownTitle = "Unknown Song"

// Task is the observable state of one song's download.
type Task struct {
	SongID          string    `json:"songId"`
	Status          Status    `json:"status"`
	Progress        int       `json:"progress"`
	FileName        string    `json:"fileName"`
	Error           string    `json:"error,omitempty"`
	BytesDownloaded int64     `json:"bytesDownloaded"`
	TotalBytes      int64     `json:"totalBytes"`
	Speed           float64   `json:"speed"` // bytes per second
	StartedAt       time.Time `json:"startedAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Active reports whether the task still has a transfer in flight.
func (t Task) Active() bool {
	return t.Status == StatusDownloading
}

// FileNameFor returns the display name "<artist> - <title>.<ext>".
func FileNameFor(song api.Song, ext string) string {
	title := strings.TrimSpace(song.Title)
	if title == "" {
		title = UnknownTitle
	}
	name := title + "." + ext
	if artist := strings.TrimSpace(song.Artist); artist != "" {
		name = artist + " - " + name
	}
	return name
}

// ExtensionFor picks the file extension from the song's storage path or
// file URL, falling back to mp3.
func ExtensionFor(song api.Song) string {
	return extensionOr(song, offline.KnownExtensions[0])
}

func extensionOr(song api.Song, fallback string) string {
	for _, candidate := range []string{song.StoragePath, song.FileURL} {
		if ext := knownExtension(candidate); ext != "" {
			return ext
		}
	}
	return fallback
}

func knownExtension(ref string) string {
	if ref == "" {
		return ""
	}
	p := ref
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		p = u.Path
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	for _, known := range offline.KnownExtensions {
		if ext == known {
			return ext
		}
	}
	return ""
}

func copyTasks(tasks map[string]*taskState) map[string]Task {
	out := make(map[string]Task, len(tasks))
	for id, ts := range tasks {
		out[id] = ts.task
	}
	return out
}
