package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stemsync/lib/configutil"
	"stemsync/lib/telemetry"
)

const MinCredentialLength = 6

// Credentials in the environment win over the config file.
const (
	EnvUsername = "STEMSYNC_USERNAME"
	EnvPassword = "STEMSYNC_PASSWORD"
)

type DriveKind string

const (
	DriveNone   DriveKind = "none"
	DriveGoogle DriveKind = "google"
	DriveLocal  DriveKind = "local"
)

type Drive struct {
	Kind DriveKind `json:"kind" yaml:"kind"`
	// Root is the folder every synced path lives under.
	Root            string `json:"root" yaml:"root"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
	LocalDir        string `json:"local_dir" yaml:"local_dir"`
}

type Config struct {
	Domain   string `json:"domain" yaml:"domain"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`

	PortalHost string `json:"portal_host" yaml:"portal_host"`
	CachesDir  string `json:"caches_dir" yaml:"caches_dir"`
	FilesDir   string `json:"files_dir" yaml:"files_dir"`
	Timezone   string `json:"timezone" yaml:"timezone"`

	// EventPrefixes are stripped from column labels and document types,
	// ex. "NCSEF" for "2023 NCSEF Research Plan Form".
	EventPrefixes []string `json:"event_prefixes" yaml:"event_prefixes"`
	// Categories overrides the categories scraped from the portal, keyed
	// by category id.
	Categories map[string]string `json:"categories" yaml:"categories"`

	RateLimit  float64 `json:"rate_limit" yaml:"rate_limit"`
	RetryCount int     `json:"retry_count" yaml:"retry_count"`
	// TimeoutSeconds bounds a single portal request.
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`

	Drive     Drive            `json:"drive" yaml:"drive"`
	Telemetry telemetry.Config `json:"telemetry" yaml:"telemetry"`
}

// ValidationError is returned when the configuration cannot possibly work.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

// Read loads `path` (and its .local override) and fills in defaults.
func Read(path string) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvUsername); ok && v != "" {
		c.Username = v
	}
	if v, ok := lookup(EnvPassword); ok && v != "" {
		c.Password = v
	}
}

func (c *Config) applyDefaults() {
	if c.PortalHost == "" {
		c.PortalHost = "stemwizard.com"
	}
	if c.CachesDir == "" {
		c.CachesDir = "caches"
	}
	if c.FilesDir == "" {
		c.FilesDir = "files"
	}
	if len(c.EventPrefixes) == 0 {
		c.EventPrefixes = []string{"NCSEF"}
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 2
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	if c.Drive.Kind == "" {
		c.Drive.Kind = DriveNone
	}
	if c.Drive.Root == "" {
		c.Drive.Root = "/Automation"
	}
}

// Validate checks the credentials look like real credentials.
func (c Config) Validate() error {
	if c.Domain == "" {
		return ValidationError{Field: "domain", Reason: "is required"}
	}
	if len(c.Username) < MinCredentialLength {
		return ValidationError{Field: "username", Reason: fmt.Sprintf("must be at least %d characters", MinCredentialLength)}
	}
	if len(c.Password) < MinCredentialLength {
		return ValidationError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters", MinCredentialLength)}
	}
	switch c.Drive.Kind {
	case DriveNone, DriveGoogle, DriveLocal:
	default:
		return ValidationError{Field: "drive.kind", Reason: fmt.Sprintf("unknown kind %q", c.Drive.Kind)}
	}
	return nil
}

func (c Config) BaseUrl() string {
	return fmt.Sprintf("https://%s.%s", c.Domain, c.PortalHost)
}

func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DomainCacheDir is the cache directory of the configured region.
func (c Config) DomainCacheDir() string {
	return filepath.Join(c.CachesDir, c.Domain)
}
