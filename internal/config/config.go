// Package config loads OAuth client credentials and sync settings.
//
// Values come from, in priority order: command flags, the environment
// (GMAIL_CLIENT_ID, GMAIL_CLIENT_SECRET, OAUTH_REDIRECT_URI), the config.ini
// file in the application directory, and built-in defaults.
//
//	[oauth]
//	client_id     = 1234.apps.googleusercontent.com
//	client_secret = GOCSPX-...
//	redirect_uri  = http://localhost:8080
//	scopes        = https://www.googleapis.com/auth/gmail.readonly, openid
//
//	[sync]
//	interval      = 5m
//	initial_delay = 3s
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/inovacc/inboxd/internal/application"
	"gopkg.in/ini.v1"
)

const (
	PlaceholderClientID     = "YOUR_CLIENT_ID.apps.googleusercontent.com"
	PlaceholderClientSecret = "YOUR_CLIENT_SECRET"
	DefaultRedirectURI      = "http://localhost:8080"

	EnvClientID     = "GMAIL_CLIENT_ID"
	EnvClientSecret = "GMAIL_CLIENT_SECRET"
	EnvRedirectURI  = "OAUTH_REDIRECT_URI"

	sectionOAuth = "oauth"
	sectionSync  = "sync"
)

// DefaultScopes grant read-only mailbox access plus identity.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"openid",
}

// ErrPlaceholderCredentials is returned when no real OAuth client is configured.
var ErrPlaceholderCredentials = errors.New("OAuth client credentials are not configured")

// OAuth holds the OAuth client registration.
type OAuth struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	// Sources records where ClientID, ClientSecret and RedirectURI came from.
	Sources map[string]Resolved
}

// IsPlaceholder reports whether the client id or secret is missing or still
// the shipped placeholder.
func (o OAuth) IsPlaceholder() bool {
	return o.ClientID == "" || o.ClientSecret == "" ||
		strings.Contains(o.ClientID, PlaceholderClientID) ||
		strings.Contains(o.ClientSecret, PlaceholderClientSecret)
}

// Validate fails with ErrPlaceholderCredentials for placeholder credentials.
func (o OAuth) Validate() error {
	if o.IsPlaceholder() {
		return fmt.Errorf("%w: set %s and %s or run '%s config set oauth.client_id <id>'",
			ErrPlaceholderCredentials, EnvClientID, EnvClientSecret, application.AppName)
	}

	return nil
}

// Sync holds the sync engine schedule and network probe policy.
type Sync struct {
	Interval         time.Duration
	InitialDelay     time.Duration
	RefreshThreshold time.Duration
	ProbeURL         string
	ProbeAttempts    int
	ProbeTimeout     time.Duration
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
}

// DefaultSync returns the default schedule: a cycle every five minutes after
// a three second start delay.
func DefaultSync() Sync {
	return Sync{
		Interval:         5 * time.Minute,
		InitialDelay:     3 * time.Second,
		RefreshThreshold: 5 * time.Minute,
		ProbeURL:         "https://www.google.com/generate_204",
		ProbeAttempts:    4,
		ProbeTimeout:     3 * time.Second,
		BackoffInitial:   time.Second,
		BackoffMax:       30 * time.Second,
	}
}

// Config is the complete application configuration.
type Config struct {
	OAuth OAuth
	Sync  Sync

	path string
	file *ini.File
}

// Flags carries command-line overrides.
type Flags struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Load reads the default config file.
func Load(flags Flags) (*Config, error) {
	path, err := application.ConfigFile()
	if err != nil {
		return nil, err
	}

	return LoadFile(path, flags)
}

// LoadFile reads path (a missing file is not an error) and applies the
// environment and flags on top.
func LoadFile(path string, flags Flags) (*Config, error) {
	file := ini.Empty()

	if _, err := os.Stat(path); err == nil {
		if file, err = ini.Load(path); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	cfg := &Config{path: path, file: file}
	cfg.OAuth = loadOAuth(file.Section(sectionOAuth), flags)

	s, err := loadSync(file.Section(sectionSync))
	if err != nil {
		return nil, err
	}

	cfg.Sync = s

	return cfg, nil
}

func loadOAuth(sec *ini.Section, flags Flags) OAuth {
	fileKey := func(key string) (string, string) {
		name := fmt.Sprintf("config.ini [%s] %s", sectionOAuth, key)
		if !sec.HasKey(key) {
			return "", name
		}

		return strings.TrimSpace(sec.Key(key).String()), name
	}

	resolve := func(flag, env, key, def string) Resolved {
		value, name := fileKey(key)

		return newResolver().
			withFlag(flag).
			withEnv(env).
			withFile(value, name).
			withDefault(def).
			resolve()
	}

	id := resolve(flags.ClientID, EnvClientID, "client_id", PlaceholderClientID)
	secret := resolve(flags.ClientSecret, EnvClientSecret, "client_secret", PlaceholderClientSecret)
	redirect := resolve(flags.RedirectURI, EnvRedirectURI, "redirect_uri", DefaultRedirectURI)

	scopes := DefaultScopes
	if sec.HasKey("scopes") {
		if list := splitList(sec.Key("scopes").String()); len(list) > 0 {
			scopes = list
		}
	}

	return OAuth{
		ClientID:     id.Value,
		ClientSecret: secret.Value,
		RedirectURI:  redirect.Value,
		Scopes:       scopes,
		Sources: map[string]Resolved{
			"client_id":     id,
			"client_secret": secret,
			"redirect_uri":  redirect,
		},
	}
}

func loadSync(sec *ini.Section) (Sync, error) {
	s := DefaultSync()

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"interval", &s.Interval},
		{"initial_delay", &s.InitialDelay},
		{"refresh_threshold", &s.RefreshThreshold},
		{"probe_timeout", &s.ProbeTimeout},
		{"backoff_initial", &s.BackoffInitial},
		{"backoff_max", &s.BackoffMax},
	}

	for _, d := range durations {
		if !sec.HasKey(d.key) {
			continue
		}

		v, err := sec.Key(d.key).Duration()
		if err != nil {
			return s, fmt.Errorf("invalid [%s] %s: %w", sectionSync, d.key, err)
		}

		*d.dst = v
	}

	if sec.HasKey("probe_attempts") {
		n, err := sec.Key("probe_attempts").Int()
		if err != nil || n < 1 {
			return s, fmt.Errorf("invalid [%s] probe_attempts: must be a positive integer", sectionSync)
		}

		s.ProbeAttempts = n
	}

	if sec.HasKey("probe_url") {
		s.ProbeURL = sec.Key("probe_url").MustString(s.ProbeURL)
	}

	if s.Interval <= 0 {
		return s, fmt.Errorf("invalid [%s] interval: must be positive", sectionSync)
	}

	return s, nil
}

func splitList(v string) []string {
	var out []string

	for part := range strings.SplitSeq(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

// Path returns the config file location.
func (c *Config) Path() string {
	return c.path
}

// settableKeys maps "section.key" names accepted by Set.
var settableKeys = map[string]bool{
	"oauth.client_id":        true,
	"oauth.client_secret":    true,
	"oauth.redirect_uri":     true,
	"oauth.scopes":           true,
	"sync.interval":          true,
	"sync.initial_delay":     true,
	"sync.refresh_threshold": true,
	"sync.probe_url":         true,
	"sync.probe_attempts":    true,
	"sync.probe_timeout":     true,
	"sync.backoff_initial":   true,
	"sync.backoff_max":       true,
}

// Set stores a value in the file (not yet saved) and reloads the parsed view.
func (c *Config) Set(name, value string) error {
	if !settableKeys[name] {
		return fmt.Errorf("unknown config key %q", name)
	}

	section, key, _ := strings.Cut(name, ".")
	sec := c.file.Section(section)
	had, previous := sec.HasKey(key), sec.Key(key).String()

	sec.Key(key).SetValue(value)

	if section == sectionSync {
		s, err := loadSync(c.file.Section(sectionSync))
		if err != nil {
			if had {
				sec.Key(key).SetValue(previous)
			} else {
				sec.DeleteKey(key)
			}

			return err
		}

		c.Sync = s

		return nil
	}

	c.OAuth = loadOAuth(c.file.Section(sectionOAuth), Flags{})

	return nil
}

// Save writes the file with owner-only permissions.
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open config: %w", err)
	}

	if _, err := c.file.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}

	return f.Close()
}
