package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, key := range []string{"DOCSYNTH_BASE_URL", "DOCSYNTH_PROVIDER", "DOCSYNTH_OUT_DIR", "DOCSYNTH_LOG_DIR", "LMSTUDIO_BASE_URL"} {
		t.Setenv(key, "")
	}
	var buf bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeProject(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "vault")
	if err := os.MkdirAll(filepath.Join(root, "contracts"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "contracts", "Vault.sol"), []byte(strings.Repeat("x", 9000)), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("# Vault"), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestKindsCommand(t *testing.T) {
	out, err := execute(t, "kinds")
	if err != nil {
		t.Fatalf("kinds: %v", err)
	}
	for _, want := range []string{"patent", "provisional_draft.md", "governance", "aragon_governance_report.md", "whitepaper.md"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestPlanCommand(t *testing.T) {
	root := writeProject(t)
	out, err := execute(t, "plan", root, "--kind", "patent")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !strings.Contains(out, "contracts/Vault.sol") || !strings.Contains(out, "README.md") {
		t.Errorf("expected discovered files in output:\n%s", out)
	}
	// 3 + 1 summary chunks, 1 compression, 1 synthesis
	if !strings.Contains(out, "= 6") {
		t.Errorf("expected 6 requests in output:\n%s", out)
	}
}

func TestPlanRejectsUnknownKind(t *testing.T) {
	if _, err := execute(t, "plan", writeProject(t), "--kind", "memo"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestRunCommandAgainstLocalServer(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"draft body"}}]}`))
	}))
	defer srv.Close()

	root := writeProject(t)
	outDir := t.TempDir()
	logDir := t.TempDir()
	out, err := execute(t, "run", root,
		"--base", srv.URL,
		"--kind", "governance",
		"--out", "governance=report.md",
		"--out-dir", outDir,
		"--log-dir", logDir,
		"--retries", "0",
		"--frontmatter",
	)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if calls != 6 {
		t.Errorf("expected 6 requests, got %d", calls)
	}

	data, err := os.ReadFile(filepath.Join(outDir, "report.md"))
	if err != nil {
		t.Fatalf("expected report: %v", err)
	}
	if !strings.HasPrefix(string(data), "---\n") || !strings.HasSuffix(string(data), "draft body") {
		t.Errorf("unexpected artifact:\n%s", data)
	}
	if _, err := os.Stat(filepath.Join(logDir, "metrics.json")); err != nil {
		t.Errorf("expected metrics.json: %v", err)
	}
	if _, err := os.Stat(filepath.Join(logDir, "events.jsonl")); err != nil {
		t.Errorf("expected events.jsonl: %v", err)
	}
	if !strings.Contains(out, "Summarized: contracts/Vault.sol") {
		t.Errorf("expected progress output:\n%s", out)
	}
}

func TestRunCommandRejectsBadOutputFlag(t *testing.T) {
	if _, err := execute(t, "run", writeProject(t), "--out", "patent"); err == nil {
		t.Fatal("expected error for malformed --out")
	}
}

func TestRunCommandRequiresFolder(t *testing.T) {
	if _, err := execute(t, "run"); err == nil {
		t.Fatal("expected error without folder argument")
	}
}
