// Package config loads poflow settings from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Dir is the per-project state directory.
	Dir = ".poflow"

	configPathEnv       = "PO_CONFIG"
	dbPathEnv           = "PO_DB"
	rulesPathEnv        = "PO_RULES"
	financeEmailEnv     = "PO_FINANCE_EMAIL"
	engineeringEmailEnv = "PO_ENGINEERING_EMAIL"
	llmAPIKeyEnv        = "PO_LLM_API_KEY"
	llmEndpointEnv      = "PO_LLM_ENDPOINT"
	llmModelEnv         = "PO_LLM_MODEL"
	webhookAddrEnv      = "PO_WEBHOOK_ADDR"
	logLevelEnv         = "PO_LOG_LEVEL"
)

// Config holds every setting the po binary needs.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Rules     RulesConfig     `yaml:"rules"`
	Mailbox   MailboxConfig   `yaml:"mailbox"`
	Routing   RoutingConfig   `yaml:"routing"`
	Engine    EngineConfig    `yaml:"engine"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Cache     CacheConfig     `yaml:"cache"`
	Retry     RetryConfig     `yaml:"retry"`
	LLM       LLMConfig       `yaml:"llm"`
	Webhook   WebhookConfig   `yaml:"webhook"`

	// source is the file the config was read from, if any.
	source string
}

// DatabaseConfig points at the sqlite file holding PO state.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig sets the slog level: debug, info, warn or error.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RulesConfig points at the rule catalog. An empty path selects the
// built-in catalog.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// MailboxConfig describes the Gmail account polled for inbound mail.
type MailboxConfig struct {
	Account     string `yaml:"account"`
	Credentials string `yaml:"credentials"`
	TokenDir    string `yaml:"tokenDir"`
	Query       string `yaml:"query"`
	BatchSize   int64  `yaml:"batchSize"`
	MarkRead    bool   `yaml:"markRead"`
}

// RoutingConfig resolves the finance and engineering aliases and decides
// which sender domains count as internal.
type RoutingConfig struct {
	FinanceEmail     string   `yaml:"financeEmail"`
	EngineeringEmail string   `yaml:"engineeringEmail"`
	InternalDomains  []string `yaml:"internalDomains"`
}

// EngineConfig tunes the decision engine.
type EngineConfig struct {
	ReplyETA time.Duration `yaml:"replyEta"`
}

// SchedulerConfig sets the polling cadence.
type SchedulerConfig struct {
	Tick             time.Duration `yaml:"tick"`
	SystemCheckEvery time.Duration `yaml:"systemCheckEvery"`
	RateLimitBackoff time.Duration `yaml:"rateLimitBackoff"`
}

// CacheConfig sets the read-cache lifetimes of the state store.
type CacheConfig struct {
	PO     time.Duration `yaml:"po"`
	Thread time.Duration `yaml:"thread"`
	List   time.Duration `yaml:"list"`
}

// RetryConfig bounds the backoff applied to transient store failures.
type RetryConfig struct {
	Attempts     int           `yaml:"attempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

// LLMConfig defines how to contact an OpenAI-compatible chat API. The API
// key is normally supplied through PO_LLM_API_KEY.
type LLMConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Enabled reports whether enough is set to call the model.
func (c LLMConfig) Enabled() bool {
	return c.Endpoint != "" && c.Model != "" && c.APIKey != ""
}

// WebhookConfig sets the listen address of the inbound webhook.
type WebhookConfig struct {
	Addr string `yaml:"addr"`
}

// Source returns the path the configuration was read from, or "".
func (c Config) Source() string {
	return c.source
}

// Default returns the built-in configuration rooted at dir.
func Default(dir string) Config {
	return Config{
		Database: DatabaseConfig{Path: filepath.Join(dir, Dir, "po.db")},
		Logging:  LoggingConfig{Level: "info"},
		Mailbox: MailboxConfig{
			Credentials: filepath.Join(dir, Dir, "credentials.json"),
			TokenDir:    filepath.Join(dir, Dir, "tokens"),
			Query:       "is:unread in:inbox",
			BatchSize:   25,
			MarkRead:    true,
		},
		Routing: RoutingConfig{
			InternalDomains: []string{"denicx.com"},
		},
		Engine: EngineConfig{ReplyETA: 24 * time.Hour},
		Scheduler: SchedulerConfig{
			Tick:             15 * time.Second,
			SystemCheckEvery: 60 * time.Second,
			RateLimitBackoff: 180 * time.Second,
		},
		Cache: CacheConfig{
			PO:     30 * time.Second,
			Thread: 120 * time.Second,
			List:   30 * time.Second,
		},
		Retry: RetryConfig{
			Attempts:     7,
			InitialDelay: time.Second,
			MaxDelay:     time.Minute,
		},
		LLM: LLMConfig{
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4o-mini",
			Timeout:  30 * time.Second,
		},
		Webhook: WebhookConfig{Addr: "127.0.0.1:8080"},
	}
}

// Load reads the configuration. The file is path if given, else
// $PO_CONFIG, else <root>/.poflow/config.yaml when it exists. Values in the
// file override the defaults and environment variables override both.
func Load(path, root string) (Config, error) {
	cfg := Default(root)

	explicit := path != ""
	if !explicit {
		path = os.Getenv(configPathEnv)
		explicit = path != ""
	}
	if !explicit {
		path = filepath.Join(root, Dir, "config.yaml")
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.source = path

	case errors.Is(err, os.ErrNotExist) && !explicit:
		// No config file; defaults apply.

	default:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	cfg.resolvePaths(root)
	return cfg, cfg.Validate()
}

// resolvePaths anchors relative file locations at the project root.
func (c *Config) resolvePaths(root string) {
	for _, p := range []*string{&c.Database.Path, &c.Rules.Path, &c.Mailbox.Credentials, &c.Mailbox.TokenDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(root, *p)
		}
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(dbPathEnv); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(rulesPathEnv); v != "" {
		c.Rules.Path = v
	}
	if v := os.Getenv(financeEmailEnv); v != "" {
		c.Routing.FinanceEmail = v
	}
	if v := os.Getenv(engineeringEmailEnv); v != "" {
		c.Routing.EngineeringEmail = v
	}
	if v := os.Getenv(llmAPIKeyEnv); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv(llmEndpointEnv); v != "" {
		c.LLM.Endpoint = v
	}
	if v := os.Getenv(llmModelEnv); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv(webhookAddrEnv); v != "" {
		c.Webhook.Addr = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

// Validate rejects settings the scheduler or store cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is empty"))
	}
	if c.Scheduler.Tick <= 0 {
		errs = append(errs, errors.New("scheduler.tick must be positive"))
	}
	if c.Scheduler.SystemCheckEvery < 0 || c.Scheduler.RateLimitBackoff < 0 {
		errs = append(errs, errors.New("scheduler intervals must not be negative"))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, errors.New("retry.attempts must be at least 1"))
	}
	if c.Engine.ReplyETA <= 0 {
		errs = append(errs, errors.New("engine.replyEta must be positive"))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	return errors.Join(errs...)
}

// Starter is the commented config file written by `po init`.
const Starter = `# poflow configuration. Environment variables (PO_*) override these values.
database:
  path: .poflow/po.db

logging:
  level: info

rules:
  # Empty selects the built-in catalog.
  path: .poflow/rules.yaml

mailbox:
  account: ""
  credentials: .poflow/credentials.json
  tokenDir: .poflow/tokens
  query: "is:unread in:inbox"
  batchSize: 25
  markRead: true

routing:
  financeEmail: ""
  engineeringEmail: ""
  internalDomains: [denicx.com]

engine:
  replyEta: 24h

scheduler:
  tick: 15s
  systemCheckEvery: 60s
  rateLimitBackoff: 180s

cache:
  po: 30s
  thread: 120s
  list: 30s

retry:
  attempts: 7
  initialDelay: 1s
  maxDelay: 60s

llm:
  endpoint: https://api.openai.com/v1/chat/completions
  model: gpt-4o-mini
  timeout: 30s
  # apiKey is read from PO_LLM_API_KEY.

webhook:
  addr: 127.0.0.1:8080
`
