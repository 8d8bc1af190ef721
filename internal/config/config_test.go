package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `
server:
  port: 4200
  tokens:
    laptop-1: s3cret

store:
  driver: mysql
  host: 10.0.0.5
  port: 3307
  database: switchyard_team

services:
  - name: github
    command: gh
    args: ["--repo", "org/app"]
    rate_limit:
      type: rpm
      limit: 30
    approval:
      auto: [status, list]
      requires: [merge]
  - name: linear
    command: linear-cc
    enabled: false
    rate_limit:
      type: concurrency
      limit: 2
  - name: local
    command: echo
    rate_limit:
      type: none

auto_commit:
  tick: 5s
  cooldown: 3m
  default_debounce: 10s
  step_timeout: 2m
  trailer: "Committed-By: bot"
  typecheck_command: ["go", "vet", "./..."]
  trunk_branches: [main, trunk]

pr_watch:
  owner: org
  repo: app
  token: ghp_abc
  base: develop
  cache_ttl: 90s
  max_prs: 5

cleanup:
  schedule: "0 * * * *"
  activity_retention: 48h
  idle_timeout: 20m

notify:
  slack:
    token: xoxb-1
    channel: C123
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 4200)
	}
	if cfg.Server.Tokens["laptop-1"] != "s3cret" {
		t.Errorf("Server.Tokens[laptop-1] = %q, want %q", cfg.Server.Tokens["laptop-1"], "s3cret")
	}
	if cfg.Store.Driver != "mysql" {
		t.Errorf("Store.Driver = %q, want %q", cfg.Store.Driver, "mysql")
	}
	if cfg.Store.Port != 3307 {
		t.Errorf("Store.Port = %d, want %d", cfg.Store.Port, 3307)
	}
	if cfg.Store.User != "root" {
		t.Errorf("Store.User = %q, want default %q", cfg.Store.User, "root")
	}
	if len(cfg.Services) != 3 {
		t.Fatalf("len(Services) = %d, want 3", len(cfg.Services))
	}

	gh := cfg.Services[0]
	if gh.RateLimit.Type != "rpm" || gh.RateLimit.Limit != 30 {
		t.Errorf("github rate limit = %+v, want rpm/30", gh.RateLimit)
	}
	if !gh.IsEnabled() {
		t.Error("github should be enabled by default")
	}
	if len(gh.Args) != 2 {
		t.Errorf("len(github.Args) = %d, want 2", len(gh.Args))
	}
	if got := strings.Join(gh.Approval.Auto, ","); got != "status,list" {
		t.Errorf("github approval auto = %q, want %q", got, "status,list")
	}
	if got := strings.Join(gh.Approval.Requires, ","); got != "merge" {
		t.Errorf("github approval requires = %q, want %q", got, "merge")
	}

	lin := cfg.Services[1]
	if lin.IsEnabled() {
		t.Error("linear should be disabled")
	}
	if lin.RateLimit.Type != "concurrency" || lin.RateLimit.Limit != 2 {
		t.Errorf("linear rate limit = %+v, want concurrency/2", lin.RateLimit)
	}

	if cfg.AutoCommit.Tick != 5*time.Second {
		t.Errorf("AutoCommit.Tick = %v, want 5s", cfg.AutoCommit.Tick)
	}
	if cfg.AutoCommit.Cooldown != 3*time.Minute {
		t.Errorf("AutoCommit.Cooldown = %v, want 3m", cfg.AutoCommit.Cooldown)
	}
	if cfg.AutoCommit.StepTimeout != 2*time.Minute {
		t.Errorf("AutoCommit.StepTimeout = %v, want 2m", cfg.AutoCommit.StepTimeout)
	}
	if got := strings.Join(cfg.AutoCommit.TypecheckCommand, " "); got != "go vet ./..." {
		t.Errorf("TypecheckCommand = %q, want %q", got, "go vet ./...")
	}
	if got := strings.Join(cfg.AutoCommit.TrunkBranches, ","); got != "main,trunk" {
		t.Errorf("TrunkBranches = %q, want %q", got, "main,trunk")
	}

	if cfg.PRWatch.Base != "develop" {
		t.Errorf("PRWatch.Base = %q, want %q", cfg.PRWatch.Base, "develop")
	}
	if cfg.PRWatch.CacheTTL != 90*time.Second {
		t.Errorf("PRWatch.CacheTTL = %v, want 90s", cfg.PRWatch.CacheTTL)
	}
	if cfg.PRWatch.ResolvedToken() != "ghp_abc" {
		t.Errorf("ResolvedToken() = %q, want %q", cfg.PRWatch.ResolvedToken(), "ghp_abc")
	}

	if cfg.Cleanup.ActivityRetention != 48*time.Hour {
		t.Errorf("Cleanup.ActivityRetention = %v, want 48h", cfg.Cleanup.ActivityRetention)
	}
	if !cfg.Notify.Slack.Configured() {
		t.Error("slack should be configured")
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 4100)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("Store.Driver = %q, want %q", cfg.Store.Driver, "sqlite")
	}
	if cfg.Store.Path != "switchyard.db" {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, "switchyard.db")
	}
	if cfg.AutoCommit.Tick != 10*time.Second {
		t.Errorf("AutoCommit.Tick = %v, want 10s", cfg.AutoCommit.Tick)
	}
	if cfg.AutoCommit.Cooldown != 2*time.Minute {
		t.Errorf("AutoCommit.Cooldown = %v, want 2m", cfg.AutoCommit.Cooldown)
	}
	if cfg.AutoCommit.DefaultDebounce != 30*time.Second {
		t.Errorf("AutoCommit.DefaultDebounce = %v, want 30s", cfg.AutoCommit.DefaultDebounce)
	}
	if cfg.AutoCommit.StepTimeout != 5*time.Minute {
		t.Errorf("AutoCommit.StepTimeout = %v, want 5m", cfg.AutoCommit.StepTimeout)
	}
	if got := strings.Join(cfg.AutoCommit.TrunkBranches, ","); got != "main,master" {
		t.Errorf("TrunkBranches = %q, want %q", got, "main,master")
	}
	if cfg.PRWatch.Base != "main" {
		t.Errorf("PRWatch.Base = %q, want %q", cfg.PRWatch.Base, "main")
	}
	if cfg.PRWatch.CacheTTL != 60*time.Second {
		t.Errorf("PRWatch.CacheTTL = %v, want 60s", cfg.PRWatch.CacheTTL)
	}
	if cfg.PRWatch.MaxPRs != 10 {
		t.Errorf("PRWatch.MaxPRs = %d, want 10", cfg.PRWatch.MaxPRs)
	}
	if cfg.PRWatch.TokenEnv != "GITHUB_TOKEN" {
		t.Errorf("PRWatch.TokenEnv = %q, want %q", cfg.PRWatch.TokenEnv, "GITHUB_TOKEN")
	}
	if cfg.Cleanup.Schedule != "*/15 * * * *" {
		t.Errorf("Cleanup.Schedule = %q, want %q", cfg.Cleanup.Schedule, "*/15 * * * *")
	}
}

func TestParse_RateLimitDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
services:
  - name: a
    command: a-cc
  - name: b
    command: b-cc
    rate_limit:
      type: concurrency
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rl := cfg.Services[0].RateLimit; rl.Type != "rpm" || rl.Limit != 60 {
		t.Errorf("a rate limit = %+v, want rpm/60", rl)
	}
	if rl := cfg.Services[1].RateLimit; rl.Limit != 1 {
		t.Errorf("b rate limit = %+v, want limit 1", rl)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad driver",
			yaml: "store:\n  driver: postgres\n",
			want: `store.driver "postgres"`,
		},
		{
			name: "missing service name",
			yaml: "services:\n  - command: x\n",
			want: "services[0].name is required",
		},
		{
			name: "missing command",
			yaml: "services:\n  - name: x\n",
			want: "services[0].command is required",
		},
		{
			name: "duplicate service",
			yaml: "services:\n  - name: x\n    command: x\n  - name: x\n    command: y\n",
			want: `services[1].name "x" is duplicated`,
		},
		{
			name: "bad rate limit type",
			yaml: "services:\n  - name: x\n    command: x\n    rate_limit:\n      type: burst\n",
			want: `rate_limit.type "burst"`,
		},
		{
			name: "bad cron",
			yaml: "cleanup:\n  schedule: every now and then\n",
			want: "cleanup.schedule",
		},
		{
			name: "tick too small",
			yaml: "auto_commit:\n  tick: 10ms\n",
			want: "auto_commit.tick",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestParse_MultipleErrorsJoined(t *testing.T) {
	_, err := Parse([]byte("store:\n  driver: x\nservices:\n  - name: a\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("errors should be joined with '; ': %q", err.Error())
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [unclosed"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: parse")
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switchyard.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := cfg.Service("github"); !ok {
		t.Error("expected github service")
	}
	if _, ok := cfg.Service("missing"); ok {
		t.Error("unexpected service")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q", err)
	}
}

func TestResolvedToken_EnvFallback(t *testing.T) {
	t.Setenv("SY_TEST_TOKEN", "from-env")
	p := PRWatchConfig{TokenEnv: "SY_TEST_TOKEN"}
	if got := p.ResolvedToken(); got != "from-env" {
		t.Errorf("ResolvedToken() = %q, want %q", got, "from-env")
	}
}
