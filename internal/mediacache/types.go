package mediacache

import (
	"context"
	"strings"
)

// ContentClass selects the content expectation of a resolved object.
type ContentClass string

const (
	ClassAudio ContentClass = "audio"
	ClassImage ContentClass = "image"
	// ClassText is used for lyrics and behaves like a non-audio object.
	ClassText ContentClass = "text"
)

// Accept returns the Accept header used when verifying a URL of this class.
func (c ContentClass) Accept() string {
	switch c {
	case ClassAudio:
		return "audio/*"
	case ClassText:
		return "text/*"
	default:
		return "image/*"
	}
}

// ParseClass maps a request value to a ContentClass, defaulting to image.
func ParseClass(s string) ContentClass {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "audio", "true", "1":
		return ClassAudio
	case "text", "lyrics":
		return ClassText
	default:
		return ClassImage
	}
}

// Priority tags a resolution. High priority resolutions are verified before
// they are cached.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// ParsePriority returns PriorityHigh for "high" and PriorityNormal otherwise.
func ParsePriority(s string) Priority {
	if strings.EqualFold(strings.TrimSpace(s), string(PriorityHigh)) {
		return PriorityHigh
	}
	return PriorityNormal
}

// Outcome describes how a resolution ended.
type Outcome string

const (
	// Unresolved means there is no usable value (empty key or no credentials).
	Unresolved Outcome = "unresolved"
	// Resolved means URL is a signed URL.
	Resolved Outcome = "resolved"
	// Degraded means URL is the raw storage key returned as a fallback.
	Degraded Outcome = "degraded"
)

// Resolution is the result of resolving a storage key.
type Resolution struct {
	URL     string  `json:"url,omitempty"`
	Outcome Outcome `json:"outcome"`
	Cached  bool    `json:"cached"`
}

// OK reports whether the resolution produced a signed URL.
func (r Resolution) OK() bool {
	return r.Outcome == Resolved
}

// Signer turns a raw object key into a time-limited URL.
type Signer interface {
	Sign(ctx context.Context, key, token string) (string, error)
}

// VerifyFunc checks that url is fetchable with the given Accept header.
type VerifyFunc func(ctx context.Context, url, accept string) error

// cacheKey identifies an entry. Classes and priorities never share entries.
type cacheKey struct {
	key      string
	class    ContentClass
	priority Priority
}

func (k cacheKey) String() string {
	return string(k.class) + "|" + string(k.priority) + "|" + k.key
}

// objectKey returns the key sent to the signer. Audio objects live under
// the music/ prefix of the bucket.
func objectKey(storageKey string, class ContentClass) string {
	if class != ClassAudio || strings.HasPrefix(storageKey, musicPrefix) {
		return storageKey
	}
	return musicPrefix + storageKey
}

const musicPrefix = "music/"
