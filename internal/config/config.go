package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MemorySession is the SESSION_FILE sentinel that selects the in-memory
// session store. Launch context will not survive a restart with it.
const MemorySession = ":memory:"

type Config struct {
	Port               string   `mapstructure:"PORT"`
	Env                string   `mapstructure:"ENV"`
	ClientID           string   `mapstructure:"CLIENT_ID"`
	RedirectURI        string   `mapstructure:"REDIRECT_URI"`
	Scopes             string   `mapstructure:"SCOPES"`
	SessionFile        string   `mapstructure:"SESSION_FILE"`
	HTTPTimeoutSeconds int      `mapstructure:"HTTP_TIMEOUT_SECONDS"`
	CORSOrigins        []string `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8844")
	v.SetDefault("ENV", "development")
	v.SetDefault("SESSION_FILE", "~/.smartvitals/session.json")
	v.SetDefault("HTTP_TIMEOUT_SECONDS", 30)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("CLIENT_ID")
	v.BindEnv("REDIRECT_URI")
	v.BindEnv("SCOPES")
	v.BindEnv("SESSION_FILE")
	v.BindEnv("HTTP_TIMEOUT_SECONDS")
	v.BindEnv("CORS_ORIGINS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: the session file stores bearer tokens as plain JSON; keep it private.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the app is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedRedirectURI returns the redirect URI registered with the EHR. When
// REDIRECT_URI is not set it is derived from the listen port, matching the
// usual local registration.
func (c *Config) ResolvedRedirectURI() string {
	if c.RedirectURI != "" {
		return c.RedirectURI
	}
	return fmt.Sprintf("http://localhost:%s/callback", c.Port)
}

// HTTPTimeout bounds each outbound EHR call.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// SessionFilePath expands the configured session file location. A leading
// "~" refers to the user's home directory. The MemorySession sentinel is
// returned unchanged.
func (c *Config) SessionFilePath() (string, error) {
	if c.SessionFile == MemorySession {
		return c.SessionFile, nil
	}
	path := c.SessionFile
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path, nil
}

// Validate checks that the configuration is safe to run. CLIENT_ID is the
// identity the EHR issued at registration; without it no authorization
// request can be built.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("CLIENT_ID is required")
	}
	if c.RedirectURI != "" {
		u, err := url.Parse(c.RedirectURI)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("REDIRECT_URI must be an absolute URL, got %q", c.RedirectURI)
		}
	}
	if c.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT_SECONDS must be positive, got %d", c.HTTPTimeoutSeconds)
	}
	return nil
}
