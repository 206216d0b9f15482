package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort    = 5002
	keyringService = "codeassist"
	keyringUser    = "api-token"
)

type Config struct {
	Port             int           `yaml:"port"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	APIToken         string        `yaml:"api_token"`
	TokenFromKeyring bool          `yaml:"token_from_keyring"`
	ReadOnly         bool          `yaml:"read_only"`
	RateLimitRPS     float64       `yaml:"rate_limit_rps"`
	TrustProxy       bool          `yaml:"trust_proxy_headers"` // key clients on X-Forwarded-For / X-Real-IP
	SQLitePath       string        `yaml:"sqlite_path"`
	ManifestPath     string        `yaml:"manifest_path"`
	OpenAPIPath      string        `yaml:"openapi_path"`
	LogoPath         string        `yaml:"logo_path"`
	PublicScheme     string        `yaml:"public_scheme"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	MaxFetchBytes    int64         `yaml:"max_fetch_bytes"`
	AnalyzeCmd       string        `yaml:"analyze_cmd"`
	FormatCmd        string        `yaml:"format_cmd"`
	ExecTimeout      time.Duration `yaml:"exec_timeout"`
	FuzzyMinScore    int           `yaml:"fuzzy_min_score"`
	LogLevel         string        `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Port:          DefaultPort,
		FetchTimeout:  15 * time.Second,
		MaxFetchBytes: 5 << 20,
		AnalyzeCmd:    "flake8 --statistics",
		ExecTimeout:   30 * time.Second,
		LogLevel:      "info",
	}
}

// Path is the default config file location under the XDG config home.
func Path() string {
	return filepath.Join(xdg.ConfigHome, "codeassist", "config.yaml")
}

// KnownKeys lists the environment variables that override file values.
var KnownKeys = []string{
	"CODEASSIST_PORT",
	"CODEASSIST_ALLOWED_ORIGINS",
	"CODEASSIST_API_TOKEN",
	"CODEASSIST_READ_ONLY",
	"CODEASSIST_RATE_LIMIT_RPS",
	"CODEASSIST_TRUST_PROXY_HEADERS",
	"CODEASSIST_SQLITE_PATH",
	"CODEASSIST_MANIFEST_PATH",
	"CODEASSIST_OPENAPI_PATH",
	"CODEASSIST_LOGO_PATH",
	"CODEASSIST_PUBLIC_SCHEME",
	"CODEASSIST_FETCH_TIMEOUT",
	"CODEASSIST_MAX_FETCH_BYTES",
	"CODEASSIST_ANALYZE_CMD",
	"CODEASSIST_FORMAT_CMD",
	"CODEASSIST_EXEC_TIMEOUT",
	"CODEASSIST_FUZZY_MIN_SCORE",
	"CODEASSIST_LOG_LEVEL",
}

// Load reads the YAML file at path (or the default location when path is
// empty), applies environment overrides and validates the result. A missing
// default file is not an error; a missing explicit file is.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = Path()
	}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if cfg.APIToken == "" && cfg.TokenFromKeyring {
		tok, err := keyring.Get(keyringService, keyringUser)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return cfg, fmt.Errorf("keyring: %w", err)
		}
		cfg.APIToken = tok
	}
	return cfg, cfg.Validate()
}

// StoreToken saves the API token in the OS keyring.
func StoreToken(token string) error {
	return keyring.Set(keyringService, keyringUser, token)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, key := range KnownKeys {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		if err := c.set(key, v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func (c *Config) set(key, v string) error {
	var err error
	switch strings.TrimPrefix(key, "CODEASSIST_") {
	case "PORT":
		c.Port, err = strconv.Atoi(v)
	case "ALLOWED_ORIGINS":
		c.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, o)
			}
		}
	case "API_TOKEN":
		c.APIToken = v
	case "READ_ONLY":
		c.ReadOnly, err = strconv.ParseBool(v)
	case "RATE_LIMIT_RPS":
		c.RateLimitRPS, err = strconv.ParseFloat(v, 64)
	case "TRUST_PROXY_HEADERS":
		c.TrustProxy, err = strconv.ParseBool(v)
	case "SQLITE_PATH":
		c.SQLitePath = v
	case "MANIFEST_PATH":
		c.ManifestPath = v
	case "OPENAPI_PATH":
		c.OpenAPIPath = v
	case "LOGO_PATH":
		c.LogoPath = v
	case "PUBLIC_SCHEME":
		c.PublicScheme = v
	case "FETCH_TIMEOUT":
		c.FetchTimeout, err = time.ParseDuration(v)
	case "MAX_FETCH_BYTES":
		c.MaxFetchBytes, err = strconv.ParseInt(v, 10, 64)
	case "ANALYZE_CMD":
		c.AnalyzeCmd = v
	case "FORMAT_CMD":
		c.FormatCmd = v
	case "EXEC_TIMEOUT":
		c.ExecTimeout, err = time.ParseDuration(v)
	case "FUZZY_MIN_SCORE":
		c.FuzzyMinScore, err = strconv.Atoi(v)
	case "LOG_LEVEL":
		c.LogLevel = v
	}
	return err
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.FuzzyMinScore < 0 || c.FuzzyMinScore > 100 {
		return fmt.Errorf("fuzzy_min_score must be within 0..100, got %d", c.FuzzyMinScore)
	}
	if c.RateLimitRPS < 0 {
		return errors.New("rate_limit_rps must not be negative")
	}
	switch c.PublicScheme {
	case "", "http", "https":
	default:
		return fmt.Errorf("public_scheme must be http or https, got %q", c.PublicScheme)
	}
	return nil
}

// Addr is the listen address for the configured port.
func (c Config) Addr() string {
	return net.JoinHostPort("", strconv.Itoa(c.Port))
}

// Origins returns the CORS allow-list, falling back to the defaults for the
// configured port.
func (c Config) Origins() []string {
	if len(c.AllowedOrigins) > 0 {
		return c.AllowedOrigins
	}
	return []string{
		"http://localhost",
		fmt.Sprintf("http://localhost:%d", c.Port),
		"https://chat.openai.com",
		"https://openai.com",
	}
}
