package utils

import (
	"testing"
)

func TestConnectionID(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		want    string
		wantErr bool
	}{
		{"ipv4", "127.0.0.1:8080", "7F0000011F90", false},
		{"ipv4 high port", "10.1.2.255:65535", "0A0102FFFFFF", false},
		{"ipv4 mapped", "[::ffff:192.168.0.1]:1", "C0A800010001", false},
		{"ipv6", "[::1]:443", "0000000000000000000000000000000101BB", false},
		{"no port", "127.0.0.1", "", true},
		{"bad host", "localhost:80", "", true},
		{"bad port", "127.0.0.1:99999", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConnectionID(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ConnectionID(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ConnectionID(%q) = %q, want %q", tt.addr, got, tt.want)
			}
		})
	}
}

func TestSessionID(t *testing.T) {
	// 0x7F0000011F90 + 1000 = 0x7F0000012378
	if got := SessionID("7F0000011F90", 1000); got != "7f0000012378" {
		t.Errorf("SessionID() = %q", got)
	}
	if SessionID("7F0000011F90", 1) == SessionID("7F0000011F90", 2) {
		t.Error("different timestamps must give different ids")
	}
	a, b := SessionID("not-hex", 5), SessionID("not-hex", 5)
	if a == "" || a != b {
		t.Errorf("non-hex identity must hash deterministically, got %q and %q", a, b)
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"normal string", "hello", "hello"},
		{"with control chars", "hello\x00world", "helloworld"},
		{"with newline", "hello\nworld", "hello\nworld"},
		{"with whitespace", "  hello  ", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := SanitizeString(tt.input); result != tt.expected {
				t.Errorf("SanitizeString(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"short string", "hello", 10, "hello"},
		{"long string", "hello world", 5, "he..."},
		{"very short max", "hello", 2, "he"},
		{"exact length", "hello", 5, "hello"},
		{"runes", "ääääää", 5, "ää..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := TruncateString(tt.input, tt.maxLen); result != tt.expected {
				t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
			}
		})
	}
}
