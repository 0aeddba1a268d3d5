// Package config reads process configuration: environment first, then
// command-line flags override.
package config

import (
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"tacbridge.ai/internal/bridge"
	"tacbridge.ai/internal/persistence/mirror"
	"tacbridge.ai/internal/transport"
)

// Bridge configures cmd/bridge.
type Bridge struct {
	ServiceURL       string        `env:"TB_SERVICE_URL" envDefault:"http://127.0.0.1:8765"`
	TickInterval     time.Duration `env:"TB_TICK_INTERVAL" envDefault:"2s"`
	WarmupDelay      time.Duration `env:"TB_WARMUP_DELAY" envDefault:"3s"`
	RequestTimeout   time.Duration `env:"TB_REQUEST_TIMEOUT" envDefault:"30s"`
	Debug            bool          `env:"TB_DEBUG"`
	DataDir          string        `env:"TB_DATA_DIR" envDefault:"./data"`
	Catalog          string        `env:"TB_CATALOG" envDefault:"./configs/catalog.yaml"`
	DisableDB        bool          `env:"TB_DISABLE_DB"`
	CompressRequests bool          `env:"TB_COMPRESS_REQUESTS"`
	DiscardStale     bool          `env:"TB_DISCARD_STALE" envDefault:"true"`
	Addr             string        `env:"TB_ADDR" envDefault:"127.0.0.1:8081"`
	EnableAdminHTTP  bool          `env:"TB_ENABLE_ADMIN_HTTP" envDefault:"true"`
	Demo             bool          `env:"TB_DEMO"`
	SessionID        string        `env:"TB_SESSION_ID"`

	// Mirror uploads finished journal files when endpoint and bucket are set.
	Mirror Mirror `envPrefix:"TB_MIRROR_"`
}

// Mirror holds S3-compatible storage settings. Credentials are read from
// the environment only.
type Mirror struct {
	Endpoint        string `env:"ENDPOINT"`
	Bucket          string `env:"BUCKET"`
	Region          string `env:"REGION" envDefault:"auto"`
	Prefix          string `env:"PREFIX"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
}

func (m Mirror) S3() mirror.S3Config {
	return mirror.S3Config{
		Endpoint:        m.Endpoint,
		Bucket:          m.Bucket,
		Region:          m.Region,
		AccessKeyID:     m.AccessKeyID,
		SecretAccessKey: m.SecretAccessKey,
	}
}

// ParseBridge loads environment defaults into a Bridge config and then
// parses flags from args.
func ParseBridge(fs *flag.FlagSet, args []string) (Bridge, error) {
	var cfg Bridge
	if err := parseEnv(&cfg); err != nil {
		return Bridge{}, err
	}
	fs.StringVar(&cfg.ServiceURL, "service", cfg.ServiceURL, "director url (http(s):// or ws(s)://)")
	fs.DurationVar(&cfg.TickInterval, "tick", cfg.TickInterval, "interval between STATE sends")
	fs.DurationVar(&cfg.WarmupDelay, "warmup", cfg.WarmupDelay, "delay before the first STATE")
	fs.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "per-request timeout")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "log every exchange")
	fs.StringVar(&cfg.DataDir, "data", cfg.DataDir, "journal and index directory")
	fs.StringVar(&cfg.Catalog, "catalog", cfg.Catalog, "catalog yaml (empty for built-in defaults)")
	fs.BoolVar(&cfg.DisableDB, "disable_db", cfg.DisableDB, "disable the sqlite audit index")
	fs.BoolVar(&cfg.CompressRequests, "gzip", cfg.CompressRequests, "gzip STATE bodies (http only)")
	fs.BoolVar(&cfg.DiscardStale, "discard_stale", cfg.DiscardStale, "drop replies older than the newest applied one")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "ops http listen address (empty to disable)")
	fs.BoolVar(&cfg.EnableAdminHTTP, "admin_http", cfg.EnableAdminHTTP, "serve loopback-only /admin/v1 endpoints")
	fs.BoolVar(&cfg.Demo, "demo", cfg.Demo, "drive the built-in demo world")
	fs.StringVar(&cfg.SessionID, "session", cfg.SessionID, "fixed session id (default: generated)")
	fs.StringVar(&cfg.Mirror.Endpoint, "mirror_endpoint", cfg.Mirror.Endpoint, "S3-compatible endpoint for journal uploads")
	fs.StringVar(&cfg.Mirror.Bucket, "mirror_bucket", cfg.Mirror.Bucket, "bucket for journal uploads")
	fs.StringVar(&cfg.Mirror.Prefix, "mirror_prefix", cfg.Mirror.Prefix, "object key prefix for journal uploads")
	if err := parseArgs(fs, args); err != nil {
		return Bridge{}, err
	}
	cfg.ServiceURL = strings.TrimSpace(cfg.ServiceURL)
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.Catalog = strings.TrimSpace(cfg.Catalog)
	return cfg, cfg.Validate()
}

func (c Bridge) Validate() error {
	if _, err := transport.Scheme(c.ServiceURL); err != nil {
		return err
	}
	if c.TickInterval < 100*time.Millisecond {
		return fmt.Errorf("tick interval %s too short", c.TickInterval)
	}
	if c.WarmupDelay < 0 || c.RequestTimeout <= 0 {
		return errors.New("warmup must be >= 0 and timeout > 0")
	}
	if c.DataDir == "" {
		return errors.New("data dir is required")
	}
	return nil
}

// Loop maps process settings onto the bridge loop config. Catalog-owned
// fields are filled in by the caller.
func (c Bridge) Loop() bridge.Config {
	return bridge.Config{
		TickInterval:   c.TickInterval,
		WarmupDelay:    c.WarmupDelay,
		RequestTimeout: c.RequestTimeout,
		Debug:          c.Debug,
		DiscardStale:   c.DiscardStale,
		SessionID:      c.SessionID,
	}
}

func (c Bridge) IndexPath() string { return filepath.Join(c.DataDir, "index", "bridge.sqlite") }

// Director configures cmd/director.
type Director struct {
	Addr     string `env:"TB_DIRECTOR_ADDR" envDefault:"127.0.0.1:8765"`
	Playbook string `env:"TB_PLAYBOOK"`
	Validate bool   `env:"TB_VALIDATE_STATE" envDefault:"true"`
	Debug    bool   `env:"TB_DEBUG"`

	LLM LLM `envPrefix:"TB_LLM_"`
}

// LLM points the director at a local chat server. An empty URL leaves the
// playbook as the only planner.
type LLM struct {
	URL         string        `env:"URL"`
	Model       string        `env:"MODEL" envDefault:"llama3"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"60s"`
	Temperature float64       `env:"TEMPERATURE" envDefault:"0.4"`
	ContextSize int           `env:"CONTEXT_SIZE" envDefault:"4096"`
}

func (l LLM) Enabled() bool { return strings.TrimSpace(l.URL) != "" }

func ParseDirector(fs *flag.FlagSet, args []string) (Director, error) {
	var cfg Director
	if err := parseEnv(&cfg); err != nil {
		return Director{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.Playbook, "playbook", cfg.Playbook, "playbook yaml (empty: reply with no commands)")
	fs.BoolVar(&cfg.Validate, "validate", cfg.Validate, "validate incoming STATE against the schema")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "log every request")
	fs.StringVar(&cfg.LLM.URL, "llm-url", cfg.LLM.URL, "chat server root (empty: playbook only)")
	fs.StringVar(&cfg.LLM.Model, "llm-model", cfg.LLM.Model, "model name")
	fs.DurationVar(&cfg.LLM.Timeout, "llm-timeout", cfg.LLM.Timeout, "per-request model deadline")
	if err := parseArgs(fs, args); err != nil {
		return Director{}, err
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return Director{}, errors.New("listen address is required")
	}
	if cfg.LLM.Enabled() {
		if strings.TrimSpace(cfg.LLM.Model) == "" {
			return Director{}, errors.New("llm model is required")
		}
		if cfg.LLM.Timeout <= 0 {
			return Director{}, errors.New("llm timeout must be positive")
		}
	}
	return cfg, nil
}

func parseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func parseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}
