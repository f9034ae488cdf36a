package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything a single deployment run needs.
type Config struct {
	// PluginID addresses the plugin record on the deployment service.
	PluginID string `yaml:"plugin_id"`
	// PluginSlug names the archive and its top-level folder.
	PluginSlug string `yaml:"plugin_slug"`
	// Username is the account email used to obtain a token.
	Username string `yaml:"username"`
	// Password is the account password used to obtain a token.
	Password string `yaml:"password"`
	// AuthURL is the authentication endpoint.
	AuthURL string `yaml:"auth_url"`
	// DeploymentURL is the base URL for plugin version uploads.
	DeploymentURL string `yaml:"deployment_url"`
	// SourceDir is the plugin working tree to archive.
	SourceDir string `yaml:"source_dir"`
	// OutputDir is where <slug>.zip is written. Defaults to SourceDir.
	OutputDir string `yaml:"output_dir"`
	// IgnoreFile lists glob patterns excluded from the archive, relative to SourceDir.
	IgnoreFile string `yaml:"ignore_file"`
	// VersionFile holds the release version string, relative to SourceDir.
	VersionFile string `yaml:"version_file"`
	// ChangelogFile maps versions to descriptions, relative to SourceDir.
	ChangelogFile string `yaml:"changelog_file"`
	// Timeout bounds each HTTP call to the deployment service.
	Timeout time.Duration `yaml:"timeout"`
	// FailOnUploadError turns a failed upload into a failed run.
	FailOnUploadError bool `yaml:"fail_on_upload_error"`
	// IncludeHidden archives dot-files and dot-directories too.
	IncludeHidden bool `yaml:"include_hidden"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

const (
	// DefaultAuthURL is the Kernl authentication endpoint.
	DefaultAuthURL = "https://kernl.us/api/v1/auth"
	// DefaultDeploymentURL is the Kernl plugins endpoint; uploads go to <base>/<id>/versions.
	DefaultDeploymentURL = "https://kernl.us/api/v1/plugins/"

	// DefaultSourceDir is the directory archived when none is given.
	DefaultSourceDir = "."
	// DefaultIgnoreFilename lists additional exclusion patterns.
	DefaultIgnoreFilename = ".kernlignore"
	// DefaultVersionFilename holds the release version.
	DefaultVersionFilename = "kernl.version"
	// DefaultChangelogFilename holds version descriptions.
	DefaultChangelogFilename = "changelog.json"

	// DefaultTimeout is the per-request timeout for the deployment service.
	DefaultTimeout = 5 * time.Minute

	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// ErrMissingValue is returned when a required setting is empty.
	ErrMissingValue = errors.New("required value is missing")
	// ErrInvalidSlug is returned when the slug cannot be used as a file name.
	ErrInvalidSlug = errors.New("plugin slug must be a single path element")
)

// Load reads configuration from the provided YAML file. It does not validate,
// since flags and action inputs may still fill in required values.
func Load(path string) (*Config, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg := new(Config)
	if err = yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	return cfg, nil
}

// Validate checks required fields and fills defaults in place.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	cfg.trim()

	required := []struct {
		name  string
		value string
	}{
		{"plugin-id", cfg.PluginID},
		{"plugin-slug", cfg.PluginSlug},
		{"kernl-username", cfg.Username},
		{"kernl-password", cfg.Password},
	}
	for _, field := range required {
		if field.value == "" {
			return fmt.Errorf("%s: %w", field.name, ErrMissingValue)
		}
	}

	if err := validateSlug(cfg.PluginSlug); err != nil {
		return err
	}

	cfg.setDefaults()

	for name, raw := range map[string]string{"auth url": cfg.AuthURL, "deployment url": cfg.DeploymentURL} {
		if _, err := url.ParseRequestURI(raw); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	return nil
}

// ArchivePath returns the location of the archive produced for this config.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.OutputDir, c.PluginSlug+".zip")
}

// SourcePath resolves a file name relative to SourceDir unless it is absolute.
func (c *Config) SourcePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}

	return filepath.Join(c.SourceDir, name)
}

func (c *Config) trim() {
	for _, field := range []*string{
		&c.PluginID, &c.PluginSlug, &c.Username,
		&c.AuthURL, &c.DeploymentURL, &c.SourceDir, &c.OutputDir,
		&c.IgnoreFile, &c.VersionFile, &c.ChangelogFile, &c.LogLevel,
	} {
		*field = strings.TrimSpace(*field)
	}
}

func (c *Config) setDefaults() {
	defaults := []struct {
		field *string
		value string
	}{
		{&c.AuthURL, DefaultAuthURL},
		{&c.DeploymentURL, DefaultDeploymentURL},
		{&c.SourceDir, DefaultSourceDir},
		{&c.IgnoreFile, DefaultIgnoreFilename},
		{&c.VersionFile, DefaultVersionFilename},
		{&c.ChangelogFile, DefaultChangelogFilename},
		{&c.LogLevel, DefaultLogLevel},
	}
	for _, d := range defaults {
		if *d.field == "" {
			*d.field = d.value
		}
	}

	if c.OutputDir == "" {
		c.OutputDir = c.SourceDir
	}

	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

func validateSlug(slug string) error {
	if slug == "." || slug == ".." || strings.ContainsAny(slug, `/\`) {
		return fmt.Errorf("%q: %w", slug, ErrInvalidSlug)
	}

	return nil
}
