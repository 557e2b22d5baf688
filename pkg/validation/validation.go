package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// HubRegex validates hub names
	HubRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

	// ConnectionIDRegex validates relay-assigned peer identities
	ConnectionIDRegex = regexp.MustCompile(`^([0-9A-F]{12}|[0-9A-F]{36})$`)
)

// ValidatePeerName validates a display name
func ValidatePeerName(name string) error {
	if err := ValidateNonEmptyString(name, "peer name"); err != nil {
		return err
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("peer name contains invalid characters")
	}
	return ValidateStringLength(name, 1, 64, "peer name")
}

// ValidateHubName validates a hub namespace
func ValidateHubName(hub string) error {
	if hub == "" {
		return fmt.Errorf("hub is required")
	}
	if len(hub) > 100 {
		return fmt.Errorf("hub is too long (max 100 characters)")
	}
	if !HubRegex.MatchString(hub) {
		return fmt.Errorf("invalid hub format")
	}
	return nil
}

// ValidateConnectionID validates a relay-assigned identity
func ValidateConnectionID(id string) error {
	if !ConnectionIDRegex.MatchString(id) {
		return fmt.Errorf("invalid connection id %q", id)
	}
	return nil
}

// ValidateServerURL validates a relay address
func ValidateServerURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("server URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid server URL format: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid server URL scheme (must be ws or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("server URL must have a host")
	}
	return nil
}

// ValidateServers validates a non-empty list of relay addresses
func ValidateServers(servers []string) error {
	if len(servers) == 0 {
		return fmt.Errorf("at least one server is required")
	}
	for i, s := range servers {
		if err := ValidateServerURL(s); err != nil {
			return fmt.Errorf("servers[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateICEServerURL validates a STUN or TURN address
func ValidateICEServerURL(urlStr string) error {
	for _, scheme := range []string{"stun:", "stuns:", "turn:", "turns:"} {
		if strings.HasPrefix(urlStr, scheme) && len(urlStr) > len(scheme) {
			return nil
		}
	}
	return fmt.Errorf("invalid ICE server URL %q (must be stun, stuns, turn or turns)", urlStr)
}

// ValidatePositiveDuration validates a strictly positive interval
func ValidatePositiveDuration(d time.Duration, fieldName string) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive", fieldName)
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
