package security

import "testing"

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"test\x00data", "testdata"},
		{"test\x01\x02data", "testdata"},
		{"test\n\tdata", "test\n\tdata"},
		{"Daft Punk - One More Time", "Daft Punk - One More Time"},
	}

	for _, tt := range tests {
		if got := SanitizeInput(tt.input); got != tt.expected {
			t.Errorf("SanitizeInput(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestIsValidSongID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"song-123", true},
		{"5f0c_a1.b", true},
		{"", false},
		{"..", false},
		{"../etc", false},
		{"a/b", false},
		{"with space", false},
	}

	for _, tt := range tests {
		if got := IsValidSongID(tt.id); got != tt.want {
			t.Errorf("IsValidSongID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestIsValidStorageKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"music/track.mp3", true},
		{"covers/album/art.jpg", true},
		{"https://cdn.example.com/a.mp3", true},
		{"", false},
		{"../../../etc/passwd", false},
		{"/etc/passwd", false},
		{"C:\\Windows\\System32", false},
		{"test\x00.mp3", false},
	}

	for _, tt := range tests {
		if got := IsValidStorageKey(tt.key); got != tt.want {
			t.Errorf("IsValidStorageKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}
