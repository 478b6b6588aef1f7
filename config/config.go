package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Vision   VisionConfig   `yaml:"vision"`
	R2       R2Config       `yaml:"r2"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Hunt     HuntConfig     `yaml:"hunt"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	Console    bool   `yaml:"console"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// BridgeConfig points at the messaging bridge that owns the chat network.
type BridgeConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// VisionConfig points at an OpenAI-compatible chat-completions endpoint.
type VisionConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

type R2Config struct {
	AccountID       string `yaml:"account_id"`
	AccessKeyID     string `yaml:"access_key_id"`
	AccessKeySecret string `yaml:"access_key_secret"`
	Bucket          string `yaml:"bucket"`
	CDNBaseURL      string `yaml:"cdn_base_url"`
}

// Enabled reports whether proof archiving is configured.
func (r R2Config) Enabled() bool {
	return r.AccountID != "" && r.Bucket != ""
}

type MetricsConfig struct {
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

type HuntConfig struct {
	Groups               []string      `yaml:"groups"`
	FixedGroup           string        `yaml:"fixed_group"`
	AssignmentPolicy     string        `yaml:"assignment_policy"` // fixed | least_loaded
	GroupCapacity        int           `yaml:"group_capacity"`
	Timezone             string        `yaml:"timezone"`
	AgentHandle          string        `yaml:"agent_handle"`
	CatalogFile          string        `yaml:"catalog_file"`
	StageTTL             time.Duration `yaml:"stage_ttl"`
	TickInterval         time.Duration `yaml:"tick_interval"`
	GracePeriod          time.Duration `yaml:"grace_period"`
	AttachmentTimeout    time.Duration `yaml:"attachment_timeout"`
	SendTimeout          time.Duration `yaml:"send_timeout"`
	MaxAttachmentMB      int           `yaml:"max_attachment_mb"`
	SubmissionsPerMinute float64       `yaml:"submissions_per_minute"`
	SubmissionBurst      int           `yaml:"submission_burst"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
}

// Location resolves the display timezone. An unknown zone falls back to UTC
// with a warning, since it shifts every hunt date key.
func (h HuntConfig) Location() *time.Location {
	if h.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(h.Timezone)
	if err != nil {
		slog.Warn("unknown hunt timezone, using UTC", "timezone", h.Timezone, "err", err)
		return time.UTC
	}
	return loc
}

func (h HuntConfig) validate() error {
	var errs []error
	if h.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("hunt.tick_interval must be positive, got %s", h.TickInterval))
	}
	if h.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("hunt.sweep_interval must be positive, got %s", h.SweepInterval))
	}
	return errors.Join(errs...)
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 5200},
		Log:    LogConfig{Level: "info", Console: true, MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 30},
		Bridge: BridgeConfig{Timeout: 10 * time.Second},
		Vision: VisionConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			MaxTokens: 300,
			Timeout:   30 * time.Second,
		},
		Hunt: HuntConfig{
			AssignmentPolicy:     "fixed",
			GroupCapacity:        500,
			Timezone:             "UTC",
			AgentHandle:          "@concierge",
			StageTTL:             120 * time.Second,
			TickInterval:         60 * time.Second,
			GracePeriod:          15 * time.Minute,
			AttachmentTimeout:    15 * time.Second,
			SendTimeout:          10 * time.Second,
			MaxAttachmentMB:      10,
			SubmissionsPerMinute: 6,
			SubmissionBurst:      3,
			SweepInterval:        30 * time.Second,
		},
	}
}

// Load reads .env, then the optional YAML file named by CONFIG_FILE, then
// environment overrides. Later sources win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	c := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	envOverrideInt(&c.Server.Port, "PORT")
	envOverride(&c.Log.Level, "LOG_LEVEL")
	envOverride(&c.Log.File, "LOG_FILE")
	envOverride(&c.Database.URL, "DATABASE_URL")

	envOverride(&c.Bridge.BaseURL, "BRIDGE_BASE_URL")
	envOverride(&c.Bridge.Token, "BRIDGE_TOKEN")
	envOverrideDuration(&c.Bridge.Timeout, "BRIDGE_TIMEOUT")

	envOverride(&c.Vision.BaseURL, "VISION_BASE_URL")
	envOverride(&c.Vision.APIKey, "VISION_API_KEY")
	envOverride(&c.Vision.Model, "VISION_MODEL")
	envOverrideInt(&c.Vision.MaxTokens, "VISION_MAX_TOKENS")
	envOverrideDuration(&c.Vision.Timeout, "VISION_TIMEOUT")

	envOverride(&c.R2.AccountID, "CLOUDFLARE_ACCOUNT_ID")
	envOverride(&c.R2.AccessKeyID, "R2_ACCESS_KEY_ID")
	envOverride(&c.R2.AccessKeySecret, "R2_ACCESS_KEY_SECRET")
	envOverride(&c.R2.Bucket, "R2_BUCKET_NAME")
	envOverride(&c.R2.CDNBaseURL, "CDN_BASE_URL")

	envOverride(&c.Metrics.User, "METRICS_USER")
	envOverride(&c.Metrics.Pass, "METRICS_PASS")

	envOverrideList(&c.Hunt.Groups, "HUNT_GROUPS")
	envOverride(&c.Hunt.FixedGroup, "HUNT_FIXED_GROUP")
	envOverride(&c.Hunt.AssignmentPolicy, "HUNT_ASSIGNMENT_POLICY")
	envOverrideInt(&c.Hunt.GroupCapacity, "HUNT_GROUP_CAPACITY")
	envOverride(&c.Hunt.Timezone, "HUNT_TIMEZONE")
	envOverride(&c.Hunt.AgentHandle, "HUNT_AGENT_HANDLE")
	envOverride(&c.Hunt.CatalogFile, "HUNT_CATALOG_FILE")
	envOverrideDuration(&c.Hunt.StageTTL, "HUNT_STAGE_TTL")
	envOverrideDuration(&c.Hunt.TickInterval, "HUNT_TICK_INTERVAL")
	envOverrideDuration(&c.Hunt.GracePeriod, "HUNT_GRACE_PERIOD")
	envOverrideDuration(&c.Hunt.SweepInterval, "HUNT_SWEEP_INTERVAL")

	if err := c.Hunt.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if c.Hunt.FixedGroup == "" && len(c.Hunt.Groups) > 0 {
		c.Hunt.FixedGroup = c.Hunt.Groups[0]
	}
	return c, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func envOverride(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envOverrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envOverrideDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envOverrideList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
