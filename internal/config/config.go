package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // embedded zone database for LoadLocation
)

// Supported LLM provider names.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMoonshot  = "moonshot"
)

// Config holds all application configuration.
type Config struct {
	DBPath     string
	Verbose    bool
	ConfigFile string
	// Timezone used for chat timestamps and the detector's daily reset boundary.
	Timezone string

	Activity ActivityConfig
	Summary  SummaryConfig
	LLM      LLMConfig
	Telegram TelegramConfig
}

// Rule is one activity threshold evaluated over its own trailing window.
type Rule struct {
	MinUsers               int           `mapstructure:"min-users"`
	MinMsgs                int           `mapstructure:"min-msgs"`
	Duration               time.Duration `mapstructure:"duration"`
	MaxContributionPerUser int           `mapstructure:"max-contribution"`
}

// ActivityConfig configures hot-channel detection.
type ActivityConfig struct {
	TargetGuildID         string
	NotificationChannelID string
	ExcludedCategories    []string
	Rules                 []Rule
	Cooldown              time.Duration
}

// SummaryConfig configures the relevance-gated summary workflow.
type SummaryConfig struct {
	Enabled              bool
	DryRun               bool
	ChannelWhitelist     []string
	AdminChannelID       string
	SummaryChannelID     string
	MinMessages          int
	LookbackWindow       int
	RelevanceThreshold   float64
	MaxRequestsPerHour   int
	ChannelCooldown      time.Duration
	ApprovalTimeout      time.Duration
	RejectGracePeriod    time.Duration
	MaintenanceInterval  time.Duration
	CostPerMillionTokens float64
	CommandPrefix        string
	TestAuthorMarker     string
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider       string
	RelevanceModel string
	SummaryModel   string
	BaseURL        string // optional override for OpenAI-compatible backends
	GeminiKey      string
	OpenAIKey      string
	AnthropicKey   string
	MoonshotKey    string
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration

	RelevancePromptFile string
	SummaryPromptFile   string
}

// TelegramConfig holds the chat adapter credentials.
type TelegramConfig struct {
	Token        string
	AdminUserIDs []int64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".config", "chat-pulse")

	return &Config{
		DBPath:   filepath.Join(dataDir, "chat-pulse.db"),
		Timezone: "Asia/Taipei",
		Activity: ActivityConfig{
			Rules: []Rule{
				{MinUsers: 3, MinMsgs: 10, Duration: 60 * time.Minute, MaxContributionPerUser: 2},
				{MinUsers: 4, MinMsgs: 8, Duration: 45 * time.Minute, MaxContributionPerUser: 2},
			},
			Cooldown: 24 * time.Hour,
		},
		Summary: SummaryConfig{
			MinMessages:          10,
			LookbackWindow:       100,
			RelevanceThreshold:   0.7,
			MaxRequestsPerHour:   10,
			ChannelCooldown:      30 * time.Minute,
			ApprovalTimeout:      24 * time.Hour,
			RejectGracePeriod:    time.Minute,
			MaintenanceInterval:  time.Hour,
			CostPerMillionTokens: 0.35,
			CommandPrefix:        "&",
			TestAuthorMarker:     "[TEST]",
		},
		LLM: LLMConfig{
			Provider:       ProviderGemini,
			RelevanceModel: "gemini-2.5-flash",
			SummaryModel:   "gemini-2.5-pro",
			RequestTimeout: 30 * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: time.Second,
		},
	}
}

// Location resolves the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// APIKey returns the key configured for the given provider.
func (c *LLMConfig) APIKey(provider string) string {
	switch provider {
	case ProviderGemini:
		return c.GeminiKey
	case ProviderOpenAI:
		return c.OpenAIKey
	case ProviderAnthropic:
		return c.AnthropicKey
	case ProviderMoonshot:
		return c.MoonshotKey
	}
	return ""
}

// MaxRuleDuration is the longest window any rule looks at.
func (a *ActivityConfig) MaxRuleDuration() time.Duration {
	var longest time.Duration
	for _, r := range a.Rules {
		if r.Duration > longest {
			longest = r.Duration
		}
	}
	return longest
}

// ParseDuration parses a duration string like "30m", "6h", "1d" or "2w".
// Supports Nd (days) and Nw (weeks) in addition to standard Go durations.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration format: %q", s)
	}

	numStr := s[:len(s)-1]
	unit := s[len(s)-1]

	if unit == 'd' || unit == 'w' {
		var num int
		if _, err := fmt.Sscanf(numStr, "%d", &num); err == nil {
			switch unit {
			case 'd':
				return time.Duration(num) * 24 * time.Hour, nil
			case 'w':
				return time.Duration(num) * 7 * 24 * time.Hour, nil
			}
		}
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	return 0, fmt.Errorf("invalid duration format: %q (use Nd, Nw, or Go duration like 30m)", s)
}

// ParseRule parses "minUsers/minMsgs/duration/maxContribution", e.g. "3/10/60m/2".
func ParseRule(s string) (Rule, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 4 {
		return Rule{}, fmt.Errorf("invalid rule %q: want users/msgs/duration/cap", s)
	}
	var r Rule
	if _, err := fmt.Sscanf(parts[0], "%d", &r.MinUsers); err != nil {
		return Rule{}, fmt.Errorf("invalid rule %q: min users: %w", s, err)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &r.MinMsgs); err != nil {
		return Rule{}, fmt.Errorf("invalid rule %q: min messages: %w", s, err)
	}
	d, err := ParseDuration(parts[2])
	if err != nil {
		return Rule{}, fmt.Errorf("invalid rule %q: %w", s, err)
	}
	r.Duration = d
	if _, err := fmt.Sscanf(parts[3], "%d", &r.MaxContributionPerUser); err != nil {
		return Rule{}, fmt.Errorf("invalid rule %q: contribution cap: %w", s, err)
	}
	return r, nil
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if len(c.Activity.Rules) == 0 {
		return fmt.Errorf("at least one activity rule is required")
	}
	for i, r := range c.Activity.Rules {
		if r.Duration <= 0 {
			return fmt.Errorf("rule %d: duration must be > 0", i+1)
		}
		if r.MinUsers < 1 || r.MinMsgs < 1 {
			return fmt.Errorf("rule %d: min users and min messages must be >= 1", i+1)
		}
		if r.MaxContributionPerUser < 1 {
			return fmt.Errorf("rule %d: contribution cap must be >= 1, got %d", i+1, r.MaxContributionPerUser)
		}
	}
	if c.Activity.Cooldown < 0 {
		return fmt.Errorf("activity cooldown must be >= 0")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("unknown timezone %q: %w", c.Timezone, err)
	}

	s := c.Summary
	if s.RelevanceThreshold < 0 || s.RelevanceThreshold > 1 {
		return fmt.Errorf("relevance threshold must be within [0,1], got %v", s.RelevanceThreshold)
	}
	if s.LookbackWindow < 1 {
		return fmt.Errorf("lookback window must be >= 1, got %d", s.LookbackWindow)
	}
	if s.MaxRequestsPerHour < 1 {
		return fmt.Errorf("max requests per hour must be >= 1, got %d", s.MaxRequestsPerHour)
	}

	switch c.LLM.Provider {
	case ProviderGemini, ProviderOpenAI, ProviderAnthropic, ProviderMoonshot:
	default:
		return fmt.Errorf("llm provider must be one of gemini, openai, anthropic, moonshot; got %q", c.LLM.Provider)
	}
	if s.Enabled && c.LLM.APIKey(c.LLM.Provider) == "" {
		return fmt.Errorf("an API key is required for the %s provider when summaries are enabled", c.LLM.Provider)
	}
	if s.Enabled {
		if _, err := strconv.ParseInt(strings.TrimSpace(s.AdminChannelID), 10, 64); err != nil {
			return fmt.Errorf("summaries are enabled but the admin channel %q is not a chat ID", s.AdminChannelID)
		}
		if len(c.Telegram.AdminUserIDs) == 0 {
			return fmt.Errorf("summaries are enabled but no admin users are configured")
		}
	}
	if c.LLM.RequestTimeout <= 0 {
		return fmt.Errorf("llm request timeout must be > 0")
	}
	return nil
}
