package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gordyrad/chat-pulse/internal/config"
	"github.com/gordyrad/chat-pulse/internal/store"
)

var (
	cfg *config.Config
	// cfgErr holds the first error met while applying configuration; commands
	// report it as a configuration error.
	cfgErr error
)

var rootCmd = &cobra.Command{
	Use:   "chat-pulse",
	Short: "Hot-channel detection and LLM summaries for community chats",
	Long: `A chat bot companion that watches channel activity, detects when a
conversation becomes hot, checks with a cheap LLM call whether it is worth
summarizing, and asks an admin before generating and posting a full summary.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Path to YAML config file")
	pf.String("db-path", "", "SQLite database path")
	pf.String("timezone", "Asia/Taipei", "Timezone for transcripts and the daily reset")
	pf.Bool("verbose", false, "Verbose logging")
	pf.Bool("dry-run", false, "Count tokens but skip LLM calls")
	pf.String("llm-provider", config.ProviderGemini, "LLM provider: gemini, openai, anthropic, moonshot")
	pf.String("relevance-model", "gemini-2.5-flash", "Model for the relevance check")
	pf.String("summary-model", "gemini-2.5-pro", "Model for full summaries")
	pf.String("gemini-api-key", "", "Gemini API key")
	pf.String("openai-api-key", "", "OpenAI API key")
	pf.String("anthropic-api-key", "", "Anthropic API key")
	pf.String("moonshot-api-key", "", "Moonshot API key")
	pf.String("telegram-token", "", "Telegram bot token")

	// Bind flags to viper
	flags := []string{
		"config", "db-path", "timezone", "verbose", "dry-run",
		"llm-provider", "relevance-model", "summary-model",
		"gemini-api-key", "openai-api-key", "anthropic-api-key", "moonshot-api-key",
		"telegram-token",
	}
	for _, f := range flags {
		_ = viper.BindPFlag(f, pf.Lookup(f))
	}
}

func initConfig() {
	cfg = config.DefaultConfig()
	cfgErr = nil

	// A missing .env file is fine; real environment variables still apply.
	_ = godotenv.Load()

	configFile := viper.GetString("config")
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()

	// Bind environment variables
	_ = viper.BindEnv("gemini-api-key", "GEMINI_API_KEY")
	_ = viper.BindEnv("openai-api-key", "OPENAI_API_KEY")
	_ = viper.BindEnv("anthropic-api-key", "ANTHROPIC_API_KEY")
	_ = viper.BindEnv("moonshot-api-key", "MOONSHOT_API_KEY")
	_ = viper.BindEnv("telegram-token", "TELEGRAM_BOT_TOKEN")
	_ = viper.BindEnv("db-path", "CHAT_PULSE_DB_PATH")
	_ = viper.BindEnv("timezone", "CHAT_PULSE_TIMEZONE")
	_ = viper.BindEnv("dry-run", "CHAT_PULSE_DRY_RUN")
	_ = viper.BindEnv("llm-provider", "CHAT_PULSE_LLM_PROVIDER")
	_ = viper.BindEnv("verbose", "CHAT_PULSE_VERBOSE")
	_ = viper.BindEnv("summary.enabled", "CHAT_PULSE_SUMMARY_ENABLED")
	_ = viper.BindEnv("summary.admin-channel", "CHAT_PULSE_ADMIN_CHANNEL")
	_ = viper.BindEnv("summary.summary-channel", "CHAT_PULSE_SUMMARY_CHANNEL")
	_ = viper.BindEnv("activity.notification-channel", "CHAT_PULSE_NOTIFICATION_CHANNEL")
	_ = viper.BindEnv("telegram.admin-users", "CHAT_PULSE_ADMIN_USERS")

	if err := viper.ReadInConfig(); err != nil && configFile != "" {
		cfgErr = fmt.Errorf("reading config file: %w", err)
		return
	}

	if err := applyViper(cfg, viper.GetViper()); err != nil {
		cfgErr = err
	}
}

// applyViper copies the values viper resolved from flags, environment and
// the config file onto cfg. Unset keys keep their defaults.
func applyViper(cfg *config.Config, v *viper.Viper) error {
	if s := v.GetString("db-path"); s != "" {
		cfg.DBPath = s
	}
	if s := v.GetString("timezone"); s != "" {
		cfg.Timezone = s
	}
	cfg.Verbose = v.GetBool("verbose")
	cfg.ConfigFile = v.ConfigFileUsed()

	// LLM
	if s := v.GetString("llm-provider"); s != "" {
		cfg.LLM.Provider = s
	}
	if s := v.GetString("relevance-model"); s != "" {
		cfg.LLM.RelevanceModel = s
	}
	if s := v.GetString("summary-model"); s != "" {
		cfg.LLM.SummaryModel = s
	}
	cfg.LLM.GeminiKey = v.GetString("gemini-api-key")
	cfg.LLM.OpenAIKey = v.GetString("openai-api-key")
	cfg.LLM.AnthropicKey = v.GetString("anthropic-api-key")
	cfg.LLM.MoonshotKey = v.GetString("moonshot-api-key")
	cfg.LLM.BaseURL = v.GetString("llm.base-url")
	cfg.LLM.RelevancePromptFile = v.GetString("llm.relevance-prompt-file")
	cfg.LLM.SummaryPromptFile = v.GetString("llm.summary-prompt-file")
	if v.IsSet("llm.max-retries") {
		cfg.LLM.MaxRetries = v.GetInt("llm.max-retries")
	}
	if err := setDuration(v, "llm.request-timeout", &cfg.LLM.RequestTimeout); err != nil {
		return err
	}
	if err := setDuration(v, "llm.retry-base-delay", &cfg.LLM.RetryBaseDelay); err != nil {
		return err
	}

	// Activity
	a := &cfg.Activity
	a.TargetGuildID = v.GetString("activity.target-guild")
	a.NotificationChannelID = v.GetString("activity.notification-channel")
	a.ExcludedCategories = v.GetStringSlice("activity.excluded-categories")
	if raw := v.GetStringSlice("activity.rules"); len(raw) > 0 {
		rules := make([]config.Rule, 0, len(raw))
		for _, s := range raw {
			r, err := config.ParseRule(s)
			if err != nil {
				return err
			}
			rules = append(rules, r)
		}
		a.Rules = rules
	}
	if err := setDuration(v, "activity.cooldown", &a.Cooldown); err != nil {
		return err
	}

	// Summary workflow
	s := &cfg.Summary
	s.Enabled = v.GetBool("summary.enabled")
	s.DryRun = v.GetBool("dry-run")
	s.ChannelWhitelist = v.GetStringSlice("summary.channel-whitelist")
	s.AdminChannelID = v.GetString("summary.admin-channel")
	s.SummaryChannelID = v.GetString("summary.summary-channel")
	if v.IsSet("summary.min-messages") {
		s.MinMessages = v.GetInt("summary.min-messages")
	}
	if v.IsSet("summary.lookback") {
		s.LookbackWindow = v.GetInt("summary.lookback")
	}
	if v.IsSet("summary.relevance-threshold") {
		s.RelevanceThreshold = v.GetFloat64("summary.relevance-threshold")
	}
	if v.IsSet("summary.max-requests-per-hour") {
		s.MaxRequestsPerHour = v.GetInt("summary.max-requests-per-hour")
	}
	if v.IsSet("summary.cost-per-million-tokens") {
		s.CostPerMillionTokens = v.GetFloat64("summary.cost-per-million-tokens")
	}
	if v.IsSet("summary.command-prefix") {
		s.CommandPrefix = v.GetString("summary.command-prefix")
	}
	for key, dst := range map[string]*time.Duration{
		"summary.channel-cooldown": &s.ChannelCooldown,
		"summary.approval-timeout": &s.ApprovalTimeout,
		"summary.reject-grace":     &s.RejectGracePeriod,
		"summary.sweep-interval":   &s.MaintenanceInterval,
	} {
		if err := setDuration(v, key, dst); err != nil {
			return err
		}
	}

	// Telegram
	cfg.Telegram.Token = v.GetString("telegram-token")
	ids, err := parseUserIDs(v.GetStringSlice("telegram.admin-users"))
	if err != nil {
		return err
	}
	cfg.Telegram.AdminUserIDs = ids
	return nil
}

func setDuration(v *viper.Viper, key string, dst *time.Duration) error {
	s := v.GetString(key)
	if s == "" {
		return nil
	}
	d, err := config.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// parseUserIDs accepts a list of IDs or a single comma-separated string.
func parseUserIDs(raw []string) ([]int64, error) {
	var ids []int64
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid admin user id %q: %w", part, err)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// requireValidConfig exits with status 3 when configuration is unusable.
func requireValidConfig() {
	err := cfgErr
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(3)
	}
}

// openStore opens the database, creating its directory when needed.
func openStore() (*store.Store, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	s, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

// newLogger builds the process logger: text on stderr, debug when verbose.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
