// Package config provides YAML-based configuration loading for Switchyard.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchyard configuration, loaded from switchyard.yaml.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Services   []ServiceConfig  `yaml:"services"`
	AutoCommit AutoCommitConfig `yaml:"auto_commit"`
	PRWatch    PRWatchConfig    `yaml:"pr_watch"`
	Cleanup    CleanupConfig    `yaml:"cleanup"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// Tokens maps client IDs to bearer tokens. Empty disables auth.
	Tokens map[string]string `yaml:"tokens"`
}

// StoreConfig selects and locates the transactional store.
type StoreConfig struct {
	Driver   string `yaml:"driver"` // sqlite or mysql
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

// RateLimitConfig is the admission policy for one service.
type RateLimitConfig struct {
	Type  string `yaml:"type"` // rpm, concurrency, none
	Limit int    `yaml:"limit"`
}

// ApprovalConfig lists commands by how much confirmation they need. Auto
// wins when a command is in both lists; unlisted commands run freely.
type ApprovalConfig struct {
	Auto     []string `yaml:"auto" json:"auto"`
	Requires []string `yaml:"requires" json:"requires"`
}

// ServiceConfig describes a tool the gateway may execute on behalf of clients.
type ServiceConfig struct {
	Name      string          `yaml:"name"`
	Command   string          `yaml:"command"`
	Args      []string        `yaml:"args"`
	Enabled   *bool           `yaml:"enabled"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Approval  ApprovalConfig  `yaml:"approval"`
}

// IsEnabled reports whether the service accepts requests. Services are
// enabled unless explicitly turned off.
func (s ServiceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// AutoCommitConfig tunes the auto-commit pipeline and its scheduler tick.
type AutoCommitConfig struct {
	Tick             time.Duration `yaml:"tick"`
	Cooldown         time.Duration `yaml:"cooldown"`
	DefaultDebounce  time.Duration `yaml:"default_debounce"`
	StepTimeout      time.Duration `yaml:"step_timeout"`
	Trailer          string        `yaml:"trailer"`
	TypecheckCommand []string      `yaml:"typecheck_command"`
	BuildCommand     []string      `yaml:"build_command"`
	TrunkBranches    []string      `yaml:"trunk_branches"`
	PushDisabled     bool          `yaml:"push_disabled"`
}

// PRWatchConfig configures the pull-request overlap watcher.
type PRWatchConfig struct {
	Owner    string        `yaml:"owner"`
	Repo     string        `yaml:"repo"`
	Token    string        `yaml:"token"`
	TokenEnv string        `yaml:"token_env"`
	Base     string        `yaml:"base"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	MaxPRs   int           `yaml:"max_prs"`
	APIURL   string        `yaml:"api_url"`
}

// ResolvedToken returns the configured GitHub token, falling back to the
// token environment variable.
func (p PRWatchConfig) ResolvedToken() string {
	if p.Token != "" {
		return p.Token
	}
	return os.Getenv(p.TokenEnv)
}

// CleanupConfig schedules registry and activity hygiene.
type CleanupConfig struct {
	Schedule          string        `yaml:"schedule"`
	ActivityRetention time.Duration `yaml:"activity_retention"`
	StaleSessionAge   time.Duration `yaml:"stale_session_age"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
}

// NotifyConfig holds chat destinations for pipeline and kill-switch events.
type NotifyConfig struct {
	Slack   ChatConfig `yaml:"slack"`
	Discord ChatConfig `yaml:"discord"`
}

// ChatConfig is a bot token and target channel on one chat platform.
type ChatConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// Configured reports whether both token and channel are present.
func (c ChatConfig) Configured() bool {
	return c.Token != "" && c.Channel != ""
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Service returns the named service config.
func (c *Config) Service(name string) (ServiceConfig, bool) {
	for _, s := range c.Services {
		if s.Name == name {
			return s, true
		}
	}
	return ServiceConfig{}, false
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 4100
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = "switchyard.db"
	}
	if c.Store.Driver == "mysql" {
		if c.Store.Host == "" {
			c.Store.Host = "127.0.0.1"
		}
		if c.Store.Port == 0 {
			c.Store.Port = 3306
		}
		if c.Store.User == "" {
			c.Store.User = "root"
		}
		if c.Store.Database == "" {
			c.Store.Database = "switchyard"
		}
	}

	for i := range c.Services {
		rl := &c.Services[i].RateLimit
		if rl.Type == "" {
			rl.Type = "rpm"
		}
		if rl.Limit == 0 {
			switch rl.Type {
			case "rpm":
				rl.Limit = 60
			case "concurrency":
				rl.Limit = 1
			}
		}
	}

	ac := &c.AutoCommit
	if ac.Tick == 0 {
		ac.Tick = 10 * time.Second
	}
	if ac.Cooldown == 0 {
		ac.Cooldown = 2 * time.Minute
	}
	if ac.DefaultDebounce == 0 {
		ac.DefaultDebounce = 30 * time.Second
	}
	if ac.StepTimeout == 0 {
		ac.StepTimeout = 5 * time.Minute
	}
	if ac.Trailer == "" {
		ac.Trailer = "Committed-By: switchyard auto-commit"
	}
	if len(ac.TrunkBranches) == 0 {
		ac.TrunkBranches = []string{"main", "master"}
	}

	pw := &c.PRWatch
	if pw.TokenEnv == "" {
		pw.TokenEnv = "GITHUB_TOKEN"
	}
	if pw.Base == "" {
		pw.Base = "main"
	}
	if pw.CacheTTL == 0 {
		pw.CacheTTL = 60 * time.Second
	}
	if pw.MaxPRs == 0 {
		pw.MaxPRs = 10
	}

	cl := &c.Cleanup
	if cl.Schedule == "" {
		cl.Schedule = "*/15 * * * *"
	}
	if cl.ActivityRetention == 0 {
		cl.ActivityRetention = 24 * time.Hour
	}
	if cl.StaleSessionAge == 0 {
		cl.StaleSessionAge = 24 * time.Hour
	}
	if cl.IdleTimeout == 0 {
		cl.IdleTimeout = 15 * time.Minute
	}

	if c.Notify.Slack.Token == "" {
		c.Notify.Slack.Token = os.Getenv("SLACK_BOT_TOKEN")
	}
	if c.Notify.Discord.Token == "" {
		c.Notify.Discord.Token = os.Getenv("DISCORD_BOT_TOKEN")
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Store.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or mysql", c.Store.Driver))
	}

	seen := make(map[string]bool)
	for i, s := range c.Services {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("services[%d].name is required", i))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("services[%d].name %q is duplicated", i, s.Name))
		}
		seen[s.Name] = true
		if s.Command == "" {
			errs = append(errs, fmt.Sprintf("services[%d].command is required", i))
		}
		switch s.RateLimit.Type {
		case "rpm", "concurrency", "none":
		default:
			errs = append(errs, fmt.Sprintf("services[%d].rate_limit.type %q must be rpm, concurrency or none", i, s.RateLimit.Type))
		}
		if s.RateLimit.Limit < 0 {
			errs = append(errs, fmt.Sprintf("services[%d].rate_limit.limit must not be negative", i))
		}
	}

	if c.AutoCommit.Tick < time.Second {
		errs = append(errs, "auto_commit.tick must be at least 1s")
	}
	if c.PRWatch.MaxPRs < 0 {
		errs = append(errs, "pr_watch.max_prs must not be negative")
	}
	if _, err := cron.ParseStandard(c.Cleanup.Schedule); err != nil {
		errs = append(errs, fmt.Sprintf("cleanup.schedule %q: %v", c.Cleanup.Schedule, err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
