package config

import (
	"fmt"
	"strings"
)

const (
	// DefaultModel is the model used for new installs until the user switches.
	DefaultModel = "google/gemini-2.5-flash-image-preview:free"

	// DefaultThreshold is the number of user+assistant rounds kept in context.
	DefaultThreshold = 10

	MinThreshold = 5
	MaxThreshold = 50
)

// Config holds command-line configuration.
type Config struct {
	DBPath string // Path to the SQLite database file
	APIKey string // OpenRouter API key (falls back to OPENROUTER_API_KEY)
	Model  string // Initial model override
	Debug  bool
}

// Settings holds the persisted, user-tunable behavior of the engine. It is
// owned by the session manager and passed by reference to the components
// that consult it, so tests can inject their own values.
type Settings struct {
	// Threshold is the context retention window in rounds of
	// user+assistant pairs. The context builder keeps the last
	// 2*Threshold raw messages; the summarizer retains the last
	// Threshold raw messages. The two multipliers are intentionally
	// independent.
	Threshold     int
	AutoSummarize bool
	SearchEnabled bool
	RoleID        string
	Model         string
}

// DefaultSettings returns the settings used when nothing has been persisted.
func DefaultSettings() Settings {
	return Settings{
		Threshold:     DefaultThreshold,
		AutoSummarize: true,
		SearchEnabled: false,
		RoleID:        "default",
		Model:         DefaultModel,
	}
}

// ValidateThreshold checks the allowed retention range.
func ValidateThreshold(n int) error {
	if n < MinThreshold || n > MaxThreshold {
		return fmt.Errorf("context threshold must be between %d and %d, got %d", MinThreshold, MaxThreshold, n)
	}
	return nil
}

// ValidAPIKeyFormat reports whether the key looks like an OpenRouter key.
// A mismatch is worth a warning, not a refusal.
func ValidAPIKeyFormat(key string) bool {
	return strings.HasPrefix(key, "sk-or-v1-")
}
