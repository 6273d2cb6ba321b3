package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const kbFile = `
- keywords: [refund, money back]
  question: What is your refund policy?
  answer: Refunds are issued within 5 business days.
- question: What are your business hours?
  answer: We are open 9 to 5, Monday to Friday.
`

func initKB(t *testing.T) string {
	t.Helper()
	cfg := writeTestConfig(t, "")
	if out, err := run(t, "db", "init", "-c", cfg); err != nil {
		t.Fatalf("db init: %v\n%s", err, out)
	}
	file := filepath.Join(t.TempDir(), "kb.yaml")
	if err := os.WriteFile(file, []byte(kbFile), 0644); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "kb", "import", "-c", cfg, "-w", "shop", file)
	if err != nil {
		t.Fatalf("kb import: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Imported 2 entries into shop (2 new, 0 replaced)") {
		t.Errorf("import output = %s", out)
	}
	return cfg
}

func TestKBImport_ReplacesByQuestion(t *testing.T) {
	cfg := initKB(t)
	file := filepath.Join(t.TempDir(), "kb.yaml")
	os.WriteFile(file, []byte(kbFile), 0644)

	out, err := run(t, "kb", "import", "-c", cfg, "-w", "shop", file)
	if err != nil {
		t.Fatalf("kb import: %v", err)
	}
	if !strings.Contains(out, "(0 new, 2 replaced)") {
		t.Errorf("output = %s", out)
	}
}

func TestKBImport_UnknownWebsite(t *testing.T) {
	cfg := writeTestConfig(t, "")
	run(t, "db", "init", "-c", cfg)
	file := filepath.Join(t.TempDir(), "kb.yaml")
	os.WriteFile(file, []byte(kbFile), 0644)

	_, err := run(t, "kb", "import", "-c", cfg, "-w", "ghost", file)
	if err == nil || !strings.Contains(err.Error(), `website "ghost" not found`) {
		t.Errorf("err = %v", err)
	}
}

func TestKBImport_RequiresWebsiteFlag(t *testing.T) {
	if _, err := run(t, "kb", "import", "kb.yaml"); err == nil {
		t.Error("expected error without --website")
	}
}

func TestKBList(t *testing.T) {
	cfg := initKB(t)
	out, err := run(t, "kb", "list", "-c", cfg, "-w", "shop")
	if err != nil {
		t.Fatalf("kb list: %v", err)
	}
	for _, want := range []string{"Knowledge for shop: enabled, threshold 0.70", "What is your refund policy?", "[refund, money back]"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestKBTest(t *testing.T) {
	cfg := initKB(t)

	out, err := run(t, "kb", "test", "-c", cfg, "-w", "shop", "I want my MONEY BACK!")
	if err != nil {
		t.Fatalf("kb test: %v", err)
	}
	for _, want := range []string{`Normalized: "i want my money back"`, `Keyword:    "money back"`, "Decision:   match", "Refunds are issued"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, _ = run(t, "kb", "test", "-c", cfg, "-w", "shop", "zzz")
	if !strings.Contains(out, "Decision:   no match") {
		t.Errorf("output = %s", out)
	}
}

func TestKBConfig_Disable(t *testing.T) {
	cfg := initKB(t)
	out, err := run(t, "kb", "config", "-c", cfg, "-w", "shop", "--enabled=false", "--threshold", "0.5")
	if err != nil {
		t.Fatalf("kb config: %v", err)
	}
	if !strings.Contains(out, "Knowledge for shop: disabled, threshold 0.50") {
		t.Errorf("output = %s", out)
	}

	out, _ = run(t, "kb", "test", "-c", cfg, "-w", "shop", "refund")
	if !strings.Contains(out, "knowledge disabled") {
		t.Errorf("output = %s", out)
	}
}

func TestKBConfig_ThresholdOutOfRange(t *testing.T) {
	_, err := run(t, "kb", "config", "-w", "shop", "--threshold", "1.5")
	if err == nil || !strings.Contains(err.Error(), "within [0,1]") {
		t.Errorf("err = %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Errorf("truncate = %q", got)
	}
}
