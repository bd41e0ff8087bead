package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/dagaz/internal/pipeline"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Vault     VaultConfig       `yaml:"vault"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	Gemini    GeminiConfig      `yaml:"gemini"`
	Queue     QueueConfig       `yaml:"queue"`
	Retrieval RetrievalConfig   `yaml:"retrieval"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Gemini.Validate(); err != nil {
		return err
	}
	return c.Queue.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the Markdown vault location and privacy posture.
// Encrypted marks the vault as living on encrypted-at-rest storage
// whose policy forbids keeping a plaintext search index next to it;
// when set, the full-text store is removed and queries fall back to
// ledger scoring.
type VaultConfig struct {
	Path      string `yaml:"path"`
	Encrypted bool   `yaml:"encrypted"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds the two database files: queue/batch state and the
// removable full-text search store.
type SQLiteConfig struct {
	StatePath  string `yaml:"state_path"`
	SearchPath string `yaml:"search_path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.StatePath, validation.Required),
		validation.Field(&c.SearchPath, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// GeminiConfig holds the generative endpoint settings.
type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	Quality string `yaml:"quality"`
}

// Validate validates the generative client configuration. The API key
// is checked at request time so that MCP-only runs work without one.
func (c *GeminiConfig) Validate() error {
	if _, err := pipeline.ParseMode(c.Quality); err != nil {
		return err
	}
	return nil
}

// QueueConfig holds processing preconditions and scheduling.
type QueueConfig struct {
	RequireCharging   bool `yaml:"require_charging"`
	RequireNetwork    bool `yaml:"require_network"`
	RescheduleMinutes int  `yaml:"reschedule_minutes"`
}

// RescheduleDelay returns the configured gate-retry delay.
func (c *QueueConfig) RescheduleDelay() time.Duration {
	if c.RescheduleMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.RescheduleMinutes) * time.Minute
}

// Validate validates the queue configuration.
func (c *QueueConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RescheduleMinutes, validation.Min(0)),
	)
}

// RetrievalConfig tunes context bundle assembly.
type RetrievalConfig struct {
	MaxNotes   int  `yaml:"max_notes"`
	CharBudget int  `yaml:"char_budget"`
	LinkExpand bool `yaml:"link_expand"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		SQLite: SQLiteConfig{
			StatePath:  "./dagaz.db",
			SearchPath: "./dagaz-search.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Gemini: GeminiConfig{
			Model:   "gemini-2.5-flash",
			Quality: string(pipeline.ModeBalanced),
		},
		Queue: QueueConfig{
			RescheduleMinutes: 5,
		},
		Retrieval: RetrievalConfig{
			MaxNotes:   8,
			CharBudget: 4000,
			LinkExpand: true,
		},
	}
}
