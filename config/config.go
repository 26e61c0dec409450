package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oarkflow/ltpa"
	"github.com/oarkflow/ltpa/token"
	"gopkg.in/yaml.v3"
)

// Defaults applied before the file is read.
const (
	DefaultKeysFile   = "ltpa.keys"
	DefaultUIDPrefix  = "uid"
	DefaultExpiration = int64(token.DefaultTTL / time.Second)
	DefaultClockSkew  = "1m"
)

// Config holds the service settings.
type Config struct {
	// KeysFile is the properties bundle. A relative path is resolved
	// against the directory of the YAML file.
	KeysFile string `yaml:"keys_file"`

	// KeyPassword overrides the password stored in the bundle.
	KeyPassword string `yaml:"key_password"`

	// KeyPasswordShares are base64 Shamir shares of the key password, used
	// when KeyPassword is empty.
	KeyPasswordShares []string `yaml:"key_password_shares"`

	// KeyLayout is "sequence" (default) or "websphere".
	KeyLayout string `yaml:"key_layout"`

	// Realm overrides the realm stored in the bundle.
	Realm string `yaml:"realm"`

	UIDPrefix    string `yaml:"uid_prefix"`
	CookieDomain string `yaml:"cookie_domain"`

	// Expiration is the token lifetime in seconds.
	Expiration int64 `yaml:"expiration"`

	// Interoperability issues and accepts version 1 tokens alongside
	// version 2.
	Interoperability bool `yaml:"interoperability"`

	// CreateToken issues cookies after a successful login elsewhere.
	CreateToken bool `yaml:"create_token"`

	// ClockSkew is a Go duration string.
	ClockSkew string `yaml:"clock_skew"`

	// LogThrottle caps decode-failure warnings per remote address, per
	// second. Zero disables throttling.
	LogThrottle float64 `yaml:"log_throttle"`

	dir string
}

// Default returns the configuration used as the base before loading a file.
func Default() *Config {
	return &Config{
		KeysFile:         DefaultKeysFile,
		UIDPrefix:        DefaultUIDPrefix,
		Expiration:       DefaultExpiration,
		Interoperability: true,
		CreateToken:      true,
		ClockSkew:        DefaultClockSkew,
		LogThrottle:      1,
	}
}

// LoadFile reads path over Default and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ltpa.ErrConfiguration, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: parse %s: %w", ltpa.ErrConfiguration, path, err)
	}
	c.dir = filepath.Dir(path)
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.KeysFile) == "" {
		errs = append(errs, errors.New("keys_file is required"))
	}
	if _, err := token.ParseKeyLayout(c.KeyLayout); err != nil {
		errs = append(errs, fmt.Errorf("key_layout must be one of: sequence, websphere"))
	}
	if c.Expiration <= 0 {
		errs = append(errs, fmt.Errorf("expiration must be positive, got %d", c.Expiration))
	}
	if d, err := time.ParseDuration(c.ClockSkew); err != nil || d < 0 {
		errs = append(errs, fmt.Errorf("clock_skew must be a non-negative duration, got %q", c.ClockSkew))
	}
	if c.LogThrottle < 0 {
		errs = append(errs, fmt.Errorf("log_throttle must not be negative"))
	}
	if len(c.KeyPasswordShares) == 1 {
		errs = append(errs, errors.New("key_password_shares needs at least 2 shares"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ltpa.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// TTL returns Expiration as a duration.
func (c *Config) TTL() time.Duration {
	return time.Duration(c.Expiration) * time.Second
}

// ClockSkewDuration returns the parsed ClockSkew, or token.DefaultClockSkew
// when it does not parse.
func (c *Config) ClockSkewDuration() time.Duration {
	d, err := time.ParseDuration(c.ClockSkew)
	if err != nil || d < 0 {
		return token.DefaultClockSkew
	}
	return d
}

// KeysPath returns KeysFile resolved against the directory of the loaded file.
func (c *Config) KeysPath() string {
	if filepath.IsAbs(c.KeysFile) || c.dir == "" {
		return c.KeysFile
	}
	return filepath.Join(c.dir, c.KeysFile)
}

// ResolveKeyPassword picks the key password: the configured one, then the
// one recovered from shares, then fallback (the bundle's own).
func (c *Config) ResolveKeyPassword(fallback string) (string, error) {
	if c.KeyPassword != "" {
		return c.KeyPassword, nil
	}
	if len(c.KeyPasswordShares) > 0 {
		return token.CombineKeyPassword(c.KeyPasswordShares)
	}
	if fallback == "" {
		return "", fmt.Errorf("%w: no key password configured", ltpa.ErrConfiguration)
	}
	return fallback, nil
}

// KeyMaterial loads the keys bundle and decrypts it.
func (c *Config) KeyMaterial() (*token.KeyMaterial, error) {
	layout, err := token.ParseKeyLayout(c.KeyLayout)
	if err != nil {
		return nil, err
	}
	kf, err := LoadKeysFile(c.KeysPath())
	if err != nil {
		return nil, err
	}
	password, err := c.ResolveKeyPassword(kf.Password)
	if err != nil {
		return nil, err
	}
	opts := []token.LoadOption{token.WithKeyLayout(layout)}
	if c.Realm != "" {
		opts = append(opts, token.WithRealm(c.Realm))
	}
	return token.LoadBundle(password, kf.Bundle, opts...)
}
