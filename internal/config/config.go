package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the YAML configuration for the relayer.
type Config struct {
	Version       int        `yaml:"version"`
	ListenAddress string     `yaml:"listen_address"`
	ListenPort    int        `yaml:"listen_port"`
	Source        Source     `yaml:"source"`
	Ledger        Ledger     `yaml:"ledger"`
	Store         Store      `yaml:"store"`
	Retry         Retry      `yaml:"retry"`
	Workers       int        `yaml:"workers"`
	Notifiers     []Notifier `yaml:"notifiers"`
}

// Source describes the watched EVM chain.
type Source struct {
	RPCURL          string `yaml:"rpc_url"`
	ContractAddress string `yaml:"contract_address"`
	StartBlock      string `yaml:"start_block"`
	Confirmations   uint64 `yaml:"confirmations"`
	MaxBlockRange   uint64 `yaml:"max_block_range"`
	PollInterval    string `yaml:"poll_interval"`
}

// Ledger describes the destination ledger's submission/query service and
// the relayer's signing key.
type Ledger struct {
	AlgodURL   string `yaml:"algod_url"`
	AlgodToken string `yaml:"algod_token"`
	QueryURL   string `yaml:"query_url"`
	Mnemonic   string `yaml:"mnemonic"`
}

// Store describes the durable state directory.
type Store struct {
	DirPath string `yaml:"dir_path"`
}

// Retry bounds the per-event retry policy.
type Retry struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseBackoff string `yaml:"base_backoff"`
	MaxBackoff  string `yaml:"max_backoff"`
}

// Notifier configures an outbound notification for terminal outcomes.
type Notifier struct {
	ID         string `yaml:"id"`
	Type       string `yaml:"type"`
	WebhookURL string `yaml:"webhook_url"`
	Template   string `yaml:"template"`
	URL        string `yaml:"url"`
	Method     string `yaml:"method"`
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

// Validate performs small, direct schema checks and applies defaults.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if c.ListenAddress == "" {
		c.ListenAddress = "0.0.0.0"
	}
	if c.ListenPort == 0 {
		c.ListenPort = 8080
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}

	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := c.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if c.Store.DirPath == "" {
		return errors.New("store: dir_path is required")
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}

	ids := map[string]struct{}{}
	for i := range c.Notifiers {
		n := &c.Notifiers[i]
		if _, exists := ids[n.ID]; exists {
			return fmt.Errorf("duplicate notifier id: %s", n.ID)
		}
		ids[n.ID] = struct{}{}
		if err := n.Validate(); err != nil {
			return fmt.Errorf("notifier %s: %w", n.ID, err)
		}
	}

	return nil
}

func (s *Source) Validate() error {
	if s.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if !isHexAddress(s.ContractAddress) {
		return fmt.Errorf("contract_address %q is not a hex address", s.ContractAddress)
	}
	if s.MaxBlockRange == 0 {
		s.MaxBlockRange = 500
	}
	if s.PollInterval != "" {
		if _, err := time.ParseDuration(s.PollInterval); err != nil {
			return fmt.Errorf("parse poll_interval %q: %w", s.PollInterval, err)
		}
	}
	return nil
}

func (l *Ledger) Validate() error {
	if l.AlgodURL == "" {
		return errors.New("algod_url is required")
	}
	if l.Mnemonic == "" {
		return errors.New("mnemonic is required")
	}
	if l.QueryURL == "" {
		l.QueryURL = l.AlgodURL
	}
	return nil
}

func (r *Retry) Validate() error {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 8
	}
	for name, v := range map[string]string{"base_backoff": r.BaseBackoff, "max_backoff": r.MaxBackoff} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("parse %s %q: %w", name, v, err)
		}
	}
	return nil
}

func (n *Notifier) Validate() error {
	if n.ID == "" {
		return errors.New("id is required")
	}
	if n.Type == "" {
		return errors.New("type is required")
	}

	switch strings.ToLower(n.Type) {
	case "slack", "teams":
		if n.WebhookURL == "" {
			return errors.New("webhook_url is required for slack/teams notifiers")
		}
	case "webhook":
		if n.URL == "" {
			return errors.New("url is required for webhook notifier")
		}
		if n.Method == "" {
			n.Method = "POST"
		}
	default:
		return fmt.Errorf("unsupported notifier type: %s", n.Type)
	}
	return nil
}

// Interval returns the parsed source poll interval, defaulting to 5s.
func (s Source) Interval() time.Duration {
	if d, err := time.ParseDuration(s.PollInterval); err == nil && d > 0 {
		return d
	}
	return 5 * time.Second
}

// Base returns the parsed base backoff, defaulting to 2s.
func (r Retry) Base() time.Duration {
	if d, err := time.ParseDuration(r.BaseBackoff); err == nil && d > 0 {
		return d
	}
	return 2 * time.Second
}

// Max returns the parsed backoff cap, defaulting to 5m.
func (r Retry) Max() time.Duration {
	if d, err := time.ParseDuration(r.MaxBackoff); err == nil && d > 0 {
		return d
	}
	return 5 * time.Minute
}

// ListenAddr joins the configured address and port.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenAddress, c.ListenPort)
}

func isHexAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 42 {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
