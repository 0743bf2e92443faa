package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/finledger/internal/ingest"
)

const qbReport = `{"data": {
  "Header": {"Currency": "USD"},
  "Columns": {"Column": [{"ColTitle": ""}, {"ColTitle": "Jan 2024"}]},
  "Rows": {"Row": [{
    "type": "Section", "group": "Income",
    "Header": {"ColData": [{"value": "Income"}]},
    "Rows": {"Row": [{"type": "Data", "ColData": [{"value": "Sales"}, {"value": "1000.00"}]}]},
    "Summary": {"ColData": [{"value": "Total Income"}, {"value": "1000.00"}]}
  }]}
}}`

const rfReport = `{"data": [{
  "period_start": "2024-01-01",
  "period_end": "2024-01-31",
  "revenue": [{"name": "Sales", "value": 1000}]
}]}`

// isolateEnv clears every variable the config layer reads.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"FINLEDGER_PORT", "DATABASE_URL", "LOG_LEVEL", "QUICKBOOKS_PATH", "ROOTFI_PATH",
		"PRIMARY_SOURCE", "MERGE_TOLERANCE", "LLM_PROVIDER", "ANTHROPIC_API_KEY",
		"FINLEDGER_MODEL", "GEMINI_API_KEY", "GEMINI_MODEL", "NLQ_TIMEOUT",
		"CHAT_HISTORY_LIMIT", "NATS_URL", "NATS_TOKEN", "SLACK_BOT_TOKEN",
		"SLACK_ISSUES_CHANNEL", "FINLEDGER_API_TOKEN",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	want := map[string]bool{"serve": false, "ingest": false, "mcp": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("missing --config flag")
	}
}

func TestIngestDryRun_NoDatabase(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	t.Setenv("QUICKBOOKS_PATH", writeFile(t, dir, "data1.json", qbReport))
	t.Setenv("ROOTFI_PATH", writeFile(t, dir, "data2.json", rfReport))
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"ingest", "--dry-run"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var report ingest.Report
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out.String())
	}
	if report.Status != ingest.StatusDryRun {
		t.Errorf("status = %q, want %q", report.Status, ingest.StatusDryRun)
	}
	if report.Counts.Periods != 1 {
		t.Errorf("periods = %d, want 1", report.Counts.Periods)
	}
	if len(report.Issues) != 0 {
		t.Errorf("issues = %+v, want none", report.Issues)
	}
}

func TestIngest_RequiresDatabase(t *testing.T) {
	isolateEnv(t)
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"ingest"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("err = %v, want DATABASE_URL error", err)
	}
}

func TestIngest_BadMode(t *testing.T) {
	isolateEnv(t)
	t.Setenv("LOG_LEVEL", "error")

	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"ingest", "--dry-run", "--mode", "merge"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected mode error")
	}
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	isolateEnv(t)
	t.Setenv("PRIMARY_SOURCE", "xero")

	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"ingest", "--dry-run"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("err = %v, want invalid config", err)
	}
}

func TestRootCommand_ConfigFile(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "finledger.yaml", "log_level: error\nquickbooks_path: "+
		writeFile(t, dir, "qb.json", qbReport)+"\nrootfi_path: "+writeFile(t, dir, "rf.json", rfReport)+"\n")

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", cfgPath, "ingest", "--dry-run"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), `"status": "dry_run"`) {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}
