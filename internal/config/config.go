// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Interaction transport settings.
	DiscordPublicKey string // hex-encoded Ed25519 key used to verify webhook signatures.
	DiscordBotToken  string
	DiscordAppID     string
	DiscordAPIURL    string

	// CI/CD control plane settings.
	GitHubToken      string
	GitHubRepo       string // "owner/name"
	GitHubAPIURL     string // override; validated against the destination allowlist.
	GitHubDefaultRef string

	// Workflows maps the user-facing workflow name to its workflow file,
	// parsed from VALINE_WORKFLOWS ("name=file,name=file").
	Workflows map[string]string

	// Dispatch and polling settings.
	DispatchTimeout   time.Duration // hard per-call timeout on the trigger call.
	DiscoveryDeadline time.Duration // how long run discovery may take before timing out.
	DiscoveryMaxAge   time.Duration // age bound for the fallback discovery strategy.
	PollTimeout       time.Duration
	PollInterval      time.Duration

	// Trace store capacity.
	TraceUserCap   int
	TraceGlobalCap int

	// Alerting.
	EnableAlerts      bool
	AlertChannelID    string
	AlertDedupeWindow time.Duration

	// Debug query endpoint.
	EnableDebugQuery bool
	DebugJWTSecret   string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:              envInt("VALINE_PORT", 8080),
		ReadTimeout:       envDuration("VALINE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      envDuration("VALINE_WRITE_TIMEOUT", 15*time.Second),
		DiscordPublicKey:  envStr("DISCORD_PUBLIC_KEY", ""),
		DiscordBotToken:   envStr("DISCORD_BOT_TOKEN", ""),
		DiscordAppID:      envStr("DISCORD_APP_ID", ""),
		DiscordAPIURL:     envStr("DISCORD_API_URL", "https://discord.com/api/v10"),
		GitHubToken:       envStr("GITHUB_TOKEN", ""),
		GitHubRepo:        envStr("GITHUB_REPO", ""),
		GitHubAPIURL:      envStr("GITHUB_API_URL", "https://api.github.com"),
		GitHubDefaultRef:  envStr("GITHUB_DEFAULT_REF", "main"),
		Workflows:         parseWorkflows(envStr("VALINE_WORKFLOWS", "deploy=deploy.yml")),
		DispatchTimeout:   envDuration("DISPATCH_TIMEOUT", 10*time.Second),
		DiscoveryDeadline: envDuration("DISCOVERY_DEADLINE", 60*time.Second),
		DiscoveryMaxAge:   envDuration("DISCOVERY_MAX_AGE", 5*time.Minute),
		PollTimeout:       envDuration("POLL_TIMEOUT", 180*time.Second),
		PollInterval:      envDuration("POLL_INTERVAL", 3*time.Second),
		TraceUserCap:      envInt("TRACE_USER_CAP", 100),
		TraceGlobalCap:    envInt("TRACE_GLOBAL_CAP", 1000),
		EnableAlerts:      envBool("ENABLE_ALERTS", false),
		AlertChannelID:    envStr("ALERT_CHANNEL_ID", ""),
		AlertDedupeWindow: envDuration("ALERT_DEDUPE_WINDOW", 5*time.Minute),
		EnableDebugQuery:  envBool("ENABLE_DEBUG_QUERY", false),
		DebugJWTSecret:    envStr("DEBUG_JWT_SECRET", ""),
		OTELEndpoint:      envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:      envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:       envStr("OTEL_SERVICE_NAME", "valine-orchestrator"),
		LogLevel:          envStr("VALINE_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and that any
// override URLs satisfy the destination allowlist.
func (c Config) Validate() error {
	if c.GitHubRepo == "" {
		return fmt.Errorf("config: GITHUB_REPO is required")
	}
	if !strings.Contains(c.GitHubRepo, "/") {
		return fmt.Errorf("config: GITHUB_REPO must be owner/name, got %q", c.GitHubRepo)
	}
	if c.DispatchTimeout <= 0 || c.DispatchTimeout > 10*time.Second {
		return fmt.Errorf("config: DISPATCH_TIMEOUT must be in (0, 10s]")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: POLL_INTERVAL must be positive")
	}
	if c.PollTimeout < c.PollInterval {
		return fmt.Errorf("config: POLL_TIMEOUT must be at least POLL_INTERVAL")
	}
	if c.TraceUserCap <= 0 || c.TraceGlobalCap < c.TraceUserCap {
		return fmt.Errorf("config: trace caps must satisfy 0 < TRACE_USER_CAP <= TRACE_GLOBAL_CAP")
	}
	if c.EnableAlerts && c.AlertChannelID == "" {
		return fmt.Errorf("config: ALERT_CHANNEL_ID is required when ENABLE_ALERTS is set")
	}
	if c.EnableDebugQuery && c.DebugJWTSecret == "" {
		return fmt.Errorf("config: DEBUG_JWT_SECRET is required when ENABLE_DEBUG_QUERY is set")
	}
	if len(c.Workflows) == 0 {
		return fmt.Errorf("config: VALINE_WORKFLOWS must declare at least one name=file pair")
	}
	if err := CheckDestination(c.GitHubAPIURL); err != nil {
		return fmt.Errorf("config: GITHUB_API_URL: %w", err)
	}
	return nil
}

// WorkflowFiles returns the configured workflow files, sorted for stable
// iteration.
func (c Config) WorkflowFiles() []string {
	files := make([]string, 0, len(c.Workflows))
	for _, f := range c.Workflows {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

func parseWorkflows(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		name, file, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" || file == "" {
			continue
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(file)
	}
	return out
}

// CheckDestination enforces the allowlist policy for dynamically supplied
// override URLs: HTTPS only, and never loopback, private-network, or
// link-local hosts. Literal IPs are checked directly; hostnames are checked
// by name (no DNS resolution; the dial still happens with the platform
// resolver, this is a first-line guard against obvious SSRF targets).
func CheckDestination(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("scheme %q not allowed, only https", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no host")
	}
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".local") || strings.HasSuffix(lower, ".internal") {
		return fmt.Errorf("host %q is not allowed", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("IP %q is not allowed", host)
		}
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
