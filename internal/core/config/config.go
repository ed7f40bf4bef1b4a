package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// DefaultResponderPrompt is the mustache template the local responder renders
// before asking a provider for a reply.
const DefaultResponderPrompt = `You are a friendly assistant in a chat titled "{{{title}}}".
Answer the user's latest message briefly and helpfully.
{{#has_history}}

Conversation so far:
{{#history}}
{{speaker}}: {{{content}}}
{{/history}}
{{/has_history}}

Latest message from the user:
{{{latest}}}`

const (
	BackendLocal  = "local"
	BackendHosted = "hosted"

	ProviderEcho    = "echo"
	ProviderBedrock = "bedrock"

	envPrefix = "CHATSYNC_"
)

type Config struct {
	Backend     string
	DBPath      string
	SessionPath string

	// Hosted backend endpoints. Derived from Subdomain and Region when unset.
	AuthURL           string
	GraphQLURL        string
	GraphQLWSURL      string
	Subdomain         string
	Region            string
	RequestsPerSecond float64

	// Local responder
	Provider        string
	BedrockRegion   string
	BedrockModel    string
	ResponderPrompt string

	ReconcileDelay    time.Duration
	ReconcileAttempts int
	MergePolicy       string

	LogLevel string
}

type tomlConfig struct {
	Backend           string   `toml:"backend"`
	DBPath            string   `toml:"db_path"`
	SessionPath       string   `toml:"session_path"`
	AuthURL           string   `toml:"auth_url"`
	GraphQLURL        string   `toml:"graphql_url"`
	GraphQLWSURL      string   `toml:"graphql_ws_url"`
	Subdomain         string   `toml:"subdomain"`
	Region            string   `toml:"region"`
	RequestsPerSecond *float64 `toml:"requests_per_second"`
	Provider          string   `toml:"provider"`
	BedrockRegion     string   `toml:"bedrock_region"`
	BedrockModel      string   `toml:"bedrock_model"`
	ReconcileDelay    string   `toml:"reconcile_delay"`
	ReconcileAttempts *int     `toml:"reconcile_attempts"`
	MergePolicy       string   `toml:"merge_policy"`
	LogLevel          string   `toml:"log_level"`
}

// Dir returns ~/.config/chatsync, or "" if there is no home directory
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "chatsync")
}

// Defaults returns the configuration used when nothing is set
func Defaults(configDir string) *Config {
	return &Config{
		Backend:           BackendLocal,
		DBPath:            filepath.Join(configDir, "chatsync.db"),
		SessionPath:       filepath.Join(configDir, "session.json"),
		Region:            "eu-central-1",
		RequestsPerSecond: 5,
		Provider:          ProviderEcho,
		BedrockRegion:     "us-east-1",
		BedrockModel:      "anthropic.claude-3-haiku-20240307-v1:0",
		ResponderPrompt:   DefaultResponderPrompt,
		ReconcileDelay:    1200 * time.Millisecond,
		ReconcileAttempts: 1,
		MergePolicy:       "select",
		LogLevel:          "warn",
	}
}

// Load reads config from ~/.config/chatsync/ plus .env and CHATSYNC_* env vars
func Load() (*Config, error) {
	dir := Dir()
	return LoadFrom(dir, filepath.Join(dir, "config.toml"))
}

// LoadFrom reads config.toml at tomlPath and override files from configDir.
// Precedence, lowest first: defaults, TOML, .env, process environment.
func LoadFrom(configDir, tomlPath string) (*Config, error) {
	cfg := Defaults(configDir)

	if _, err := os.Stat(tomlPath); err == nil {
		var tc tomlConfig
		if _, err := toml.DecodeFile(tomlPath, &tc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", tomlPath, err)
		}
		if err := cfg.apply(tc); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", tomlPath, err)
		}
	}

	// If custom prompt exists, use it
	if data, err := os.ReadFile(filepath.Join(configDir, "responder_prompt.txt")); err == nil {
		cfg.ResponderPrompt = string(data)
	}

	// .env never overrides variables already set in the environment
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	cfg.deriveHostedURLs()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) apply(tc tomlConfig) error {
	setString(&c.Backend, tc.Backend)
	setString(&c.DBPath, expandHome(tc.DBPath))
	setString(&c.SessionPath, expandHome(tc.SessionPath))
	setString(&c.AuthURL, tc.AuthURL)
	setString(&c.GraphQLURL, tc.GraphQLURL)
	setString(&c.GraphQLWSURL, tc.GraphQLWSURL)
	setString(&c.Subdomain, tc.Subdomain)
	setString(&c.Region, tc.Region)
	setString(&c.Provider, tc.Provider)
	setString(&c.BedrockRegion, tc.BedrockRegion)
	setString(&c.BedrockModel, tc.BedrockModel)
	setString(&c.MergePolicy, tc.MergePolicy)
	setString(&c.LogLevel, tc.LogLevel)
	if tc.RequestsPerSecond != nil {
		c.RequestsPerSecond = *tc.RequestsPerSecond
	}
	if tc.ReconcileAttempts != nil {
		c.ReconcileAttempts = *tc.ReconcileAttempts
	}
	if tc.ReconcileDelay != "" {
		d, err := time.ParseDuration(tc.ReconcileDelay)
		if err != nil {
			return fmt.Errorf("reconcile_delay: %w", err)
		}
		c.ReconcileDelay = d
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	env := func(key string) string { return strings.TrimSpace(getenv(envPrefix + key)) }

	setString(&c.Backend, env("BACKEND"))
	setString(&c.DBPath, expandHome(env("DB_PATH")))
	setString(&c.SessionPath, expandHome(env("SESSION_PATH")))
	setString(&c.AuthURL, env("AUTH_URL"))
	setString(&c.GraphQLURL, env("GRAPHQL_URL"))
	setString(&c.GraphQLWSURL, env("GRAPHQL_WS_URL"))
	setString(&c.Subdomain, env("SUBDOMAIN"))
	setString(&c.Region, env("REGION"))
	setString(&c.Provider, env("PROVIDER"))
	setString(&c.BedrockRegion, env("BEDROCK_REGION"))
	setString(&c.BedrockModel, env("BEDROCK_MODEL"))
	setString(&c.MergePolicy, env("MERGE_POLICY"))
	setString(&c.LogLevel, env("LOG_LEVEL"))

	if v := env("REQUESTS_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sREQUESTS_PER_SECOND: %w", envPrefix, err)
		}
		c.RequestsPerSecond = f
	}
	if v := env("RECONCILE_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sRECONCILE_ATTEMPTS: %w", envPrefix, err)
		}
		c.ReconcileAttempts = n
	}
	if v := env("RECONCILE_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sRECONCILE_DELAY: %w", envPrefix, err)
		}
		c.ReconcileDelay = d
	}
	return nil
}

// deriveHostedURLs fills in Nhost-style endpoints from subdomain and region
func (c *Config) deriveHostedURLs() {
	if c.Subdomain == "" {
		return
	}
	if c.AuthURL == "" {
		c.AuthURL = fmt.Sprintf("https://%s.auth.%s.nhost.run/v1", c.Subdomain, c.Region)
	}
	if c.GraphQLURL == "" {
		c.GraphQLURL = fmt.Sprintf("https://%s.graphql.%s.nhost.run/v1", c.Subdomain, c.Region)
	}
	if c.GraphQLWSURL == "" {
		c.GraphQLWSURL = fmt.Sprintf("wss://%s.graphql.%s.nhost.run/v1", c.Subdomain, c.Region)
	}
}

// Validate checks enumerations and that the chosen backend is usable
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLocal:
	case BackendHosted:
		if c.AuthURL == "" || c.GraphQLURL == "" {
			return fmt.Errorf("hosted backend needs subdomain or auth_url and graphql_url")
		}
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendLocal, BackendHosted)
	}
	switch c.Provider {
	case ProviderEcho, ProviderBedrock:
	default:
		return fmt.Errorf("unknown responder provider %q", c.Provider)
	}
	switch c.MergePolicy {
	case "select", "union":
	default:
		return fmt.Errorf("unknown merge_policy %q", c.MergePolicy)
	}
	if c.ReconcileDelay < 0 {
		return fmt.Errorf("reconcile_delay must not be negative")
	}
	if c.ReconcileAttempts < 0 {
		return fmt.Errorf("reconcile_attempts must not be negative")
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
