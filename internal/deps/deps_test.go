package deps

import (
	"os"
	"path/filepath"
	"testing"

	"geass/internal/testsupport"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" || results[0].Path != present {
		t.Fatalf("expected first requirement to resolve to %s, got %#v", present, results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("expected blank command reported, got %#v", results[2])
	}
}

func TestRequirementsWithStubbedBinaries(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	statuses := CheckBinaries(Requirements(cfg))
	if len(statuses) != 2 {
		t.Fatalf("expected ffmpeg and uvx requirements, got %d", len(statuses))
	}
	if missing := Missing(statuses); len(missing) != 0 {
		t.Fatalf("expected stubs to satisfy requirements, missing %#v", missing)
	}

	cfg.Transcription.CUDAEnabled = true
	reqs := Requirements(cfg)
	if len(reqs) != 3 || !reqs[2].Optional {
		t.Fatalf("expected optional nvidia-smi check when CUDA enabled, got %#v", reqs)
	}
}

func TestMissingIgnoresOptional(t *testing.T) {
	statuses := []Status{
		{Requirement: Requirement{Name: "a", Optional: true}},
		{Requirement: Requirement{Name: "b"}},
		{Requirement: Requirement{Name: "c"}, Available: true},
	}
	missing := Missing(statuses)
	if len(missing) != 1 || missing[0].Name != "b" {
		t.Fatalf("unexpected missing set %#v", missing)
	}
}
