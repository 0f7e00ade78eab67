package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct. Flags win over env, env wins
// over the file.
type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
	Security struct {
		CORS struct {
			AllowedOrigins []string `yaml:"allowed_origins"`
		} `yaml:"cors"`
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
		IPWhitelist []string `yaml:"ip_whitelist"`
		APIKeys     struct {
			Backend  []string `yaml:"backend"`
			Frontend []string `yaml:"frontend"`
			Admin    []string `yaml:"admin"`
		} `yaml:"api_keys"`
	} `yaml:"security"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text|json
	} `yaml:"logging"`
	Messaging MessagingConfig `yaml:"messaging"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

// MessagingConfig tunes the conversation core.
type MessagingConfig struct {
	TypingTTL       Duration  `yaml:"typing_ttl"`
	ConfirmTimeout  Duration  `yaml:"confirm_timeout"`
	MaxContentBytes SizeBytes `yaml:"max_content_bytes"`
	TailLimit       int       `yaml:"tail_limit"`
	Outbox          struct {
		Capacity int `yaml:"capacity"`
		Workers  int `yaml:"workers"`
	} `yaml:"outbox"`
	Delivery struct {
		MinDelay    Duration `yaml:"min_delay"`
		MaxDelay    Duration `yaml:"max_delay"`
		FailureRate float64  `yaml:"failure_rate"`
	} `yaml:"delivery"`
}

// ArchiveConfig holds configuration for the archived-conversation purge
// runner.
type ArchiveConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Cron         string `yaml:"cron"`
	Period       string `yaml:"period"`
	BatchSize    int    `yaml:"batch_size"`
	BatchSleepMs int    `yaml:"batch_sleep_ms"`
	DryRun       bool   `yaml:"dry_run"`
}

// Defaults used when the file/env leave messaging values unset.
const (
	DefaultTypingTTL      = 3 * time.Second
	DefaultConfirmTimeout = 5 * time.Second
	DefaultMaxContent     = 4 * 1024
	DefaultTailLimit      = 50
	DefaultOutboxCapacity = 4096
	DefaultOutboxWorkers  = 4
)

// Normalize fills zero messaging values with defaults.
func (m *MessagingConfig) Normalize() {
	if m.TypingTTL.Duration() <= 0 {
		m.TypingTTL = Duration(DefaultTypingTTL)
	}
	if m.ConfirmTimeout.Duration() <= 0 {
		m.ConfirmTimeout = Duration(DefaultConfirmTimeout)
	}
	if m.MaxContentBytes.Int64() <= 0 {
		m.MaxContentBytes = SizeBytes(DefaultMaxContent)
	}
	if m.TailLimit <= 0 {
		m.TailLimit = DefaultTailLimit
	}
	if m.Outbox.Capacity <= 0 {
		m.Outbox.Capacity = DefaultOutboxCapacity
	}
	if m.Outbox.Workers <= 0 {
		m.Outbox.Workers = DefaultOutboxWorkers
	}
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// Load reads a config file. A missing file is an error; callers decide
// whether that is fatal.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s: %w", path, os.ErrNotExist)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns their
// values along with a map indicating which flags were explicitly set.
func ParseCommandFlags() (addr string, dbPath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dbPtr, *cfgPtr, setFlags
}

// LoadEnvOverrides applies CONVO_* environment overrides onto cfg and
// returns derived signing key maps plus whether env vars were used.
func LoadEnvOverrides(cfg *Config) (map[string]struct{}, bool) {
	envUsed := false
	parseList := func(v string) []string {
		if v == "" {
			return nil
		}
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}

	if v := os.Getenv("CONVO_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("CONVO_DB_PATH"); v != "" {
		envUsed = true
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("CONVO_CORS_ORIGINS"); v != "" {
		envUsed = true
		cfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv("CONVO_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("CONVO_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Security.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("CONVO_IP_WHITELIST"); v != "" {
		envUsed = true
		cfg.Security.IPWhitelist = parseList(v)
	}
	if v := os.Getenv("CONVO_API_BACKEND_KEYS"); v != "" {
		envUsed = true
		cfg.Security.APIKeys.Backend = parseList(v)
	}
	if v := os.Getenv("CONVO_API_FRONTEND_KEYS"); v != "" {
		envUsed = true
		cfg.Security.APIKeys.Frontend = parseList(v)
	}
	if v := os.Getenv("CONVO_API_ADMIN_KEYS"); v != "" {
		envUsed = true
		cfg.Security.APIKeys.Admin = parseList(v)
	}
	if v := os.Getenv("CONVO_TYPING_TTL"); v != "" {
		if td, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Messaging.TypingTTL = Duration(td)
		}
	}
	if v := os.Getenv("CONVO_CONFIRM_TIMEOUT"); v != "" {
		if td, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Messaging.ConfirmTimeout = Duration(td)
		}
	}

	signingKeys := map[string]struct{}{}
	for _, k := range cfg.Security.APIKeys.Backend {
		signingKeys[k] = struct{}{}
	}
	return signingKeys, envUsed
}

// LoadEffective loads config from the given path and applies environment
// overrides. A missing file yields a zero config plus env; any other load
// failure, including malformed YAML, is returned to the caller.
func LoadEffective(path string) (*Config, map[string]struct{}, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, nil, false, err
		}
		cfg = &Config{}
	}
	signingKeys, envUsed := LoadEnvOverrides(cfg)
	cfg.Messaging.Normalize()
	return cfg, signingKeys, envUsed, nil
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and CONVO_CONFIG when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CONVO_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

var (
	runtimeMu   sync.RWMutex
	signingKeys map[string]struct{}
)

// SetSigningKeys stores the canonical signing key set used to verify
// signed user identities.
func SetSigningKeys(keys map[string]struct{}) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	signingKeys = keys
}

// GetSigningKeys returns a copy of the configured signing keys.
func GetSigningKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	for k := range signingKeys {
		out[k] = struct{}{}
	}
	return out
}
