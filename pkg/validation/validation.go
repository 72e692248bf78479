package validation

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// UserIDRegex validates platform user handles
	UserIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// EventIDRegex validates event identifiers
	EventIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_:-]+$`)
)

// MaxMessageLength bounds chat/tip message text. The platform caps messages
// well below this; anything longer is malformed input.
const MaxMessageLength = 2000

// ValidateUserID validates a platform user handle
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user ID is required")
	}
	if len(userID) > 100 {
		return fmt.Errorf("user ID is too long (max 100 characters)")
	}
	if !UserIDRegex.MatchString(userID) {
		return fmt.Errorf("invalid user ID format")
	}
	return nil
}

// ValidateEventID validates an event identifier
func ValidateEventID(eventID string) error {
	if eventID == "" {
		return nil
	}
	if len(eventID) > 128 {
		return fmt.Errorf("event ID is too long (max 128 characters)")
	}
	if !EventIDRegex.MatchString(eventID) {
		return fmt.Errorf("invalid event ID format")
	}
	return nil
}

// ValidateTokens validates a tip amount
func ValidateTokens(tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("token amount cannot be negative")
	}
	if tokens > 1_000_000 {
		return fmt.Errorf("token amount is too high (max 1000000)")
	}
	return nil
}

// ValidateMessage validates free-text message content
func ValidateMessage(message string) error {
	if !utf8.ValidString(message) {
		return fmt.Errorf("message contains invalid characters")
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return fmt.Errorf("message is too long (max %d characters)", MaxMessageLength)
	}
	return nil
}

// ValidateAudioFile validates a configured audio file name. Bare file names
// only; anything that walks the directory tree is rejected.
func ValidateAudioFile(file string) error {
	if file == "" {
		return fmt.Errorf("audio file is required")
	}
	if strings.ContainsAny(file, `/\`) || path.Clean(file) != file {
		return fmt.Errorf("audio file must be a bare file name")
	}
	ext := strings.ToLower(path.Ext(file))
	if ext != ".mp3" && ext != ".wav" && ext != ".ogg" {
		return fmt.Errorf("unsupported audio file type %q", ext)
	}
	return nil
}

// ValidateSceneName validates a scene name for the production controller
func ValidateSceneName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("scene name is required")
	}
	if utf8.RuneCountInString(name) > 100 {
		return fmt.Errorf("scene name is too long (max 100 characters)")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("scene name contains invalid characters")
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

// ValidateStringLength validates string length in runes
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
