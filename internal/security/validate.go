package security

import (
	"path/filepath"
	"strings"
)

const maxSongIDLength = 128

// SanitizeInput removes null bytes and control characters except newline and tab.
func SanitizeInput(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\n' || r == '\t' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsValidSongID reports whether id is safe to use as a file name component.
func IsValidSongID(id string) bool {
	if id == "" || len(id) > maxSongIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return id != "." && id != ".."
}

// IsValidStorageKey checks a storage key for traversal and absolute paths.
func IsValidStorageKey(key string) bool {
	if key == "" || strings.Contains(key, "\x00") {
		return false
	}
	// Signed or public URLs are passed through as-is.
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		return true
	}

	cleaned := filepath.ToSlash(filepath.Clean(key))
	if strings.HasPrefix(cleaned, "../") || cleaned == ".." || strings.Contains(cleaned, "/../") {
		return false
	}
	// Windows drive letters
	if len(cleaned) >= 2 && cleaned[1] == ':' {
		return false
	}
	return !strings.HasPrefix(cleaned, "/")
}
