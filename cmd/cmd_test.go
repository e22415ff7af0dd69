package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gordyrad/chat-pulse/internal/analysis"
	"github.com/gordyrad/chat-pulse/internal/collector"
	"github.com/gordyrad/chat-pulse/internal/config"
	"github.com/gordyrad/chat-pulse/internal/pipeline"
	"github.com/gordyrad/chat-pulse/internal/store"
)

// withTestConfig resets cfg to defaults pointing at a temporary database.
func withTestConfig(t *testing.T) string {
	t.Helper()
	origCfg := cfg
	t.Cleanup(func() { cfg = origCfg })

	initConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	cfg.Timezone = "UTC"
	return cfg.DBPath
}

func TestRootCommand_SubcommandsRegistered(t *testing.T) {
	expected := []string{"serve", "pending", "analyze", "models"}
	for _, name := range expected {
		found := false
		for _, sub := range rootCmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not found on rootCmd", name)
		}
	}
}

func TestPendingCommand_SubcommandsRegistered(t *testing.T) {
	expected := []string{"list", "show"}
	for _, name := range expected {
		found := false
		for _, sub := range pendingCmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not found on pendingCmd", name)
		}
	}
}

func TestRootCommand_HelpOutput(t *testing.T) {
	output := rootCmd.UsageString()
	if !strings.Contains(output, "Available Commands") {
		t.Errorf("root usage should list available commands, got:\n%s", output)
	}
	if !strings.Contains(rootCmd.Long, "hot") {
		t.Error("rootCmd.Long should describe the tool's purpose")
	}
}

func TestServeCommand_HelpOutput(t *testing.T) {
	if !strings.Contains(serveCmd.Long, "Exit codes") {
		t.Error("serve long description should document exit codes")
	}
	if serveCmd.UsageString() == "" {
		t.Error("serve usage string should not be empty")
	}
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	expectedFlags := []string{
		"config", "db-path", "timezone", "verbose", "dry-run",
		"llm-provider", "relevance-model", "summary-model",
		"gemini-api-key", "openai-api-key", "anthropic-api-key", "moonshot-api-key",
		"telegram-token",
	}
	for _, name := range expectedFlags {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("persistent flag %q not found on rootCmd", name)
		}
	}
}

func TestRootCommand_DefaultFlagValues(t *testing.T) {
	tests := []struct {
		flag    string
		wantDef string
	}{
		{"timezone", "Asia/Taipei"},
		{"llm-provider", "gemini"},
		{"relevance-model", "gemini-2.5-flash"},
		{"summary-model", "gemini-2.5-pro"},
		{"dry-run", "false"},
	}

	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			flag := rootCmd.PersistentFlags().Lookup(tt.flag)
			if flag == nil {
				t.Fatalf("flag %q not found", tt.flag)
			}
			if flag.DefValue != tt.wantDef {
				t.Errorf("flag %q default = %q, want %q", tt.flag, flag.DefValue, tt.wantDef)
			}
		})
	}
}

func TestCommandUseStrings(t *testing.T) {
	tests := []struct {
		cmd  *cobra.Command
		want string
	}{
		{rootCmd, "chat-pulse"},
		{serveCmd, "serve"},
		{pendingCmd, "pending"},
		{pendingListCmd, "list"},
		{pendingShowCmd, "show <id>"},
		{analyzeCmd, "analyze"},
		{modelsCmd, "models"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if tt.cmd.Use != tt.want {
				t.Errorf("command Use = %q, want %q", tt.cmd.Use, tt.want)
			}
		})
	}
}

func TestAnalyzeCommand_Flags(t *testing.T) {
	for _, name := range []string{"file", "format", "workers"} {
		if analyzeCmd.Flags().Lookup(name) == nil {
			t.Errorf("analyze should have --%s flag", name)
		}
	}
}

// ---------------------------------------------------------------------------
// Configuration layering
// ---------------------------------------------------------------------------

func TestApplyViper(t *testing.T) {
	v := viper.New()
	v.Set("timezone", "Europe/Berlin")
	v.Set("llm-provider", "anthropic")
	v.Set("anthropic-api-key", "sk-test")
	v.Set("activity.rules", []string{"2/5/30m/3"})
	v.Set("activity.cooldown", "1d")
	v.Set("activity.excluded-categories", []string{"private"})
	v.Set("summary.enabled", true)
	v.Set("summary.admin-channel", "-100")
	v.Set("summary.min-messages", 5)
	v.Set("summary.relevance-threshold", 0.5)
	v.Set("summary.channel-cooldown", "45m")
	v.Set("summary.reject-grace", "2m")
	v.Set("telegram.admin-users", "42, 43")

	c := config.DefaultConfig()
	if err := applyViper(c, v); err != nil {
		t.Fatalf("applyViper: %v", err)
	}

	if c.Timezone != "Europe/Berlin" || c.LLM.Provider != "anthropic" || c.LLM.AnthropicKey != "sk-test" {
		t.Errorf("top-level values not applied: tz=%q provider=%q", c.Timezone, c.LLM.Provider)
	}
	wantRules := []config.Rule{{MinUsers: 2, MinMsgs: 5, Duration: 30 * time.Minute, MaxContributionPerUser: 3}}
	if diff := cmp.Diff(wantRules, c.Activity.Rules); diff != "" {
		t.Errorf("rules mismatch (-want +got):\n%s", diff)
	}
	if c.Activity.Cooldown != 24*time.Hour {
		t.Errorf("activity cooldown = %v", c.Activity.Cooldown)
	}
	if !c.Summary.Enabled || c.Summary.AdminChannelID != "-100" || c.Summary.MinMessages != 5 {
		t.Errorf("summary values not applied: %+v", c.Summary)
	}
	if c.Summary.RelevanceThreshold != 0.5 {
		t.Errorf("threshold = %v", c.Summary.RelevanceThreshold)
	}
	if c.Summary.ChannelCooldown != 45*time.Minute || c.Summary.RejectGracePeriod != 2*time.Minute {
		t.Errorf("durations = %v / %v", c.Summary.ChannelCooldown, c.Summary.RejectGracePeriod)
	}
	if c.Summary.ApprovalTimeout != 24*time.Hour {
		t.Errorf("unset approval timeout should keep its default, got %v", c.Summary.ApprovalTimeout)
	}
	if diff := cmp.Diff([]int64{42, 43}, c.Telegram.AdminUserIDs); diff != "" {
		t.Errorf("admin ids mismatch (-want +got):\n%s", diff)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("applied config should validate: %v", err)
	}
}

func TestApplyViper_Errors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"bad rule", "activity.rules", []string{"3/10/60m"}},
		{"bad duration", "summary.approval-timeout", "soon"},
		{"bad admin id", "telegram.admin-users", []string{"alice"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tt.key, tt.value)
			if err := applyViper(config.DefaultConfig(), v); err == nil {
				t.Errorf("expected error for %s=%v", tt.key, tt.value)
			}
		})
	}
}

func TestParseUserIDs(t *testing.T) {
	got, err := parseUserIDs([]string{"1,2", " 3 ", ""})
	if err != nil {
		t.Fatalf("parseUserIDs: %v", err)
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, got); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenStore_CreatesDirectory(t *testing.T) {
	withTestConfig(t)
	cfg.DBPath = filepath.Join(t.TempDir(), "nested", "dir", "pulse.db")

	s, err := openStore()
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	s.Close()
	if _, err := os.Stat(cfg.DBPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

// ---------------------------------------------------------------------------
// pending
// ---------------------------------------------------------------------------

func seedPending(t *testing.T, dbPath string, ps ...*pipeline.PendingSummary) {
	t.Helper()
	s, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer s.Close()

	pending := make(map[string]*pipeline.PendingSummary, len(ps))
	for _, p := range ps {
		pending[p.ID] = p
	}
	if err := s.SaveSnapshot(context.Background(), pipeline.SnapshotKey, map[string]any{"pending": pending}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
}

func testPending(id string) *pipeline.PendingSummary {
	msgs := []collector.Message{
		{AuthorID: "u1", AuthorName: "alice", Content: "shader question", Timestamp: time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)},
	}
	return &pipeline.PendingSummary{
		ID:          id,
		ChannelID:   "-1001",
		ChannelName: "graphics",
		CreatedAt:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Messages:    msgs,
		Stats:       collector.Statistics(msgs),
		Relevance:   &analysis.RelevanceResult{IsRelevant: true, Confidence: 0.9, Category: analysis.CategoryTechnics},
		Status:      pipeline.StatusPendingApproval,
	}
}

func runPendingCmd(t *testing.T, c *cobra.Command, format, outputDir string, args ...string) (string, error) {
	t.Helper()
	origFormat, origDir := pendingFormat, pendingOutputDir
	t.Cleanup(func() { pendingFormat, pendingOutputDir = origFormat, origDir })
	pendingFormat, pendingOutputDir = format, outputDir

	buf := new(bytes.Buffer)
	c.SetOut(buf)
	c.SetContext(context.Background())
	err := c.RunE(c, args)
	return buf.String(), err
}

func TestPendingList_Markdown(t *testing.T) {
	dbPath := withTestConfig(t)
	seedPending(t, dbPath, testPending("a1"))

	out, err := runPendingCmd(t, pendingListCmd, "markdown", "")
	if err != nil {
		t.Fatalf("pending list: %v", err)
	}
	for _, want := range []string{
		"# Pending Summaries",
		"| a1 | graphics | pending_approval | 2025-03-01 12:00 UTC | 1 | technics | 90% |",
		"LLM usage (24h): 0 calls",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPendingList_JSONEmpty(t *testing.T) {
	withTestConfig(t)

	out, err := runPendingCmd(t, pendingListCmd, "json", "")
	if err != nil {
		t.Fatalf("pending list: %v", err)
	}
	var got struct {
		Count   int               `json:"count"`
		Pending []json.RawMessage `json:"pending"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got.Count != 0 || len(got.Pending) != 0 {
		t.Errorf("expected empty list, got %+v", got)
	}
}

func TestPendingList_BadFormat(t *testing.T) {
	withTestConfig(t)
	if _, err := runPendingCmd(t, pendingListCmd, "html", ""); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestPendingShow(t *testing.T) {
	dbPath := withTestConfig(t)
	seedPending(t, dbPath, testPending("a1"), testPending("b2"))

	out, err := runPendingCmd(t, pendingShowCmd, "markdown", "", "b2")
	if err != nil {
		t.Fatalf("pending show: %v", err)
	}
	if !strings.Contains(out, "# Pending Summary b2") || !strings.Contains(out, "alice: shader question") {
		t.Errorf("unexpected output:\n%s", out)
	}

	if _, err := runPendingCmd(t, pendingShowCmd, "markdown", "", "zz"); err == nil {
		t.Error("expected error for unknown id")
	}
}

func TestPendingShow_WritesFile(t *testing.T) {
	dbPath := withTestConfig(t)
	seedPending(t, dbPath, testPending("a1"))
	dir := t.TempDir()

	out, err := runPendingCmd(t, pendingShowCmd, "json", dir, "a1")
	if err != nil {
		t.Fatalf("pending show: %v", err)
	}
	path := filepath.Join(dir, "2025-03-01-graphics-a1.json")
	if !strings.Contains(out, path) {
		t.Errorf("output should name the written file, got %q", out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written file: %v", err)
	}
	var p pipeline.PendingSummary
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("written file is not JSON: %v", err)
	}
	if p.ID != "a1" || p.Status != pipeline.StatusPendingApproval {
		t.Errorf("decoded = %+v", p)
	}
}

// ---------------------------------------------------------------------------
// analyze
// ---------------------------------------------------------------------------

func writeFixture(t *testing.T, n int) string {
	t.Helper()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	msgs := make([]collector.RawMessage, n)
	for i := range msgs {
		msgs[i] = collector.RawMessage{
			ID:         fmt.Sprint(i),
			AuthorID:   fmt.Sprintf("u%d", i%3),
			AuthorName: fmt.Sprintf("user%d", i%3),
			Content:    fmt.Sprintf("message number %d about lighting", i),
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "lighting.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFixture(t *testing.T) {
	msgs, err := loadFixture(writeFixture(t, 3))
	if err != nil {
		t.Fatalf("loadFixture: %v", err)
	}
	if len(msgs) != 3 || msgs[2].Content != "message number 2 about lighting" {
		t.Errorf("msgs = %+v", msgs)
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadFixture(bad); err == nil {
		t.Error("expected parse error")
	}
}

func TestAnalyzeCommand_DryRunJSON(t *testing.T) {
	withTestConfig(t)
	cfg.LLM.GeminiKey = "test-key"
	cfg.Summary.DryRun = true

	origFiles, origFormat, origWorkers := analyzeFiles, analyzeFormat, analyzeWorkers
	t.Cleanup(func() { analyzeFiles, analyzeFormat, analyzeWorkers = origFiles, origFormat, origWorkers })
	analyzeFiles = []string{writeFixture(t, 12)}
	analyzeFormat = "json"
	analyzeWorkers = 2

	buf := new(bytes.Buffer)
	analyzeCmd.SetOut(buf)
	analyzeCmd.SetContext(context.Background())
	if err := analyzeCmd.RunE(analyzeCmd, nil); err != nil {
		t.Fatalf("analyze: %v", err)
	}

	var res pipeline.AnalyzeResult
	if err := json.Unmarshal(buf.Bytes(), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if res.Messages != 12 || !res.Passed || res.Summary == nil || !res.Summary.DryRun {
		t.Errorf("result = %+v", res)
	}
}

func TestExecute_Help(t *testing.T) {
	rootCmd.SetArgs([]string{"--help"})
	if err := Execute(); err != nil {
		t.Fatalf("Execute() with --help failed: %v", err)
	}
}

func TestRootCommand_UnknownSubcommand(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"nonexistent-command"})

	if err := rootCmd.Execute(); err == nil {
		t.Error("expected error for unknown subcommand")
	}
}

func TestRootCommand_SilenceSettings(t *testing.T) {
	if !rootCmd.SilenceUsage {
		t.Error("rootCmd.SilenceUsage should be true")
	}
	if !rootCmd.SilenceErrors {
		t.Error("rootCmd.SilenceErrors should be true")
	}
}
