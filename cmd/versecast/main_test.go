package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testChapter = `translation: kjv
book: Ruth
number: 1
verses:
  - number: 1
    text: Now it came to pass in the days when the judges ruled.
  - number: 2
    text: And the name of the man was Elimelech.
  - number: 3
    text: And Elimelech Naomi's husband died.
  - number: 4
    text: And they took them wives of the women of Moab.
`

func writeFixtures(t *testing.T) (configPath, chapterPath string) {
	t.Helper()
	dir := t.TempDir()
	configPath = filepath.Join(dir, "versecast.yaml")
	cfg := `storage:
  root: ` + filepath.Join(dir, "audio") + `
ledger:
  path: ` + filepath.Join(dir, "ledger.db") + `
  retention_mode: session
bus:
  enabled: false
synthesis:
  backend: mock
fallback:
  enabled: true
  mode: mock
  format: wav
  mock_duration_ms: 400
`
	if err := os.WriteFile(configPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	chapterPath = filepath.Join(dir, "ruth-1.yaml")
	if err := os.WriteFile(chapterPath, []byte(testChapter), 0o644); err != nil {
		t.Fatalf("write chapter: %v", err)
	}
	return configPath, chapterPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(&app{})
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGenerateValidateDelete(t *testing.T) {
	configPath, chapterPath := writeFixtures(t)

	out, err := run(t, "--config", configPath, "generate", chapterPath)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(out, "playable:") || !strings.Contains(out, "4 segments, 1.6s") {
		t.Fatalf("unexpected generate output:\n%s", out)
	}

	out, err = run(t, "--config", configPath, "validate", "kjv-ruth-001")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "ok (complete)") {
		t.Fatalf("unexpected validate output: %s", out)
	}

	out, err = run(t, "--config", configPath, "runs", "kjv-ruth-001")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out, "kjv-ruth-001") || !strings.Contains(out, "complete") {
		t.Fatalf("unexpected runs output:\n%s", out)
	}

	if _, err := run(t, "--config", configPath, "delete", "kjv-ruth-001"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := run(t, "--config", configPath, "validate", "kjv-ruth-001"); err == nil {
		t.Fatalf("expected validate to fail after delete")
	}
	if _, err := run(t, "--config", configPath, "delete", "kjv-ruth-001"); err == nil {
		t.Fatalf("expected delete of a missing chapter to fail")
	}
}

func TestGenerateCompleteMode(t *testing.T) {
	configPath, chapterPath := writeFixtures(t)
	out, err := run(t, "--config", configPath, "generate", "--mode", "complete", "--priority", "background", chapterPath)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if strings.Contains(out, "playable:") || !strings.Contains(out, "complete:") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestVoicesFilter(t *testing.T) {
	configPath, _ := writeFixtures(t)
	out, err := run(t, "--config", configPath, "voices", "--locale", "en-GB")
	if err != nil {
		t.Fatalf("voices: %v", err)
	}
	if !strings.Contains(out, "en-GB-RyanNeural") || strings.Contains(out, "en-US-AriaNeural") {
		t.Fatalf("unexpected voices output:\n%s", out)
	}
}

func TestMissingExplicitConfig(t *testing.T) {
	if _, err := run(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "voices"); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
