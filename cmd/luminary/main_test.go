package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testConfig writes a config rooted in a temp dir with no LLM
// credentials, so commands run without network access.
func testConfig(t *testing.T) string {
	t.Helper()
	for _, k := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "LLM_PROVIDER", "BRAVE_SEARCH_API_KEY"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "data_dir: " + filepath.Join(dir, "data") + "\nlog_level: warn\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_Args(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantOut string
		wantErr string
	}{
		{"no command prints usage", nil, "Usage: luminary", ""},
		{"help flag", []string{"-h"}, "Commands:", ""},
		{"version", []string{"version"}, "Luminary", ""},
		{"unknown command", []string{"frobnicate"}, "", "unknown command: frobnicate"},
		{"unknown flag", []string{"-verbose"}, "", "unknown flag: -verbose"},
		{"bad output format", []string{"-o", "xml", "version"}, "", "unknown output format"},
		{"ask without message", []string{"ask"}, "", "usage: luminary ask"},
		{"job without args", []string{"job"}, "", "usage: luminary job"},
		{"job bad verb", []string{"job", "explode", "x"}, "", "usage: luminary job"},
		{"job bad json", []string{"job", "tool", "echo", "{nope"}, "", "invalid job input JSON"},
		{"missing explicit config", []string{"-config", "/nonexistent/luminary.yaml", "maintenance"}, "", "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(context.Background(), &stdout, &stderr, tt.args)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if !strings.Contains(stdout.String(), tt.wantOut) {
				t.Errorf("stdout = %q, want it to contain %q", stdout.String(), tt.wantOut)
			}
		})
	}
}

func TestRun_VersionJSON(t *testing.T) {
	var stdout bytes.Buffer
	if err := run(context.Background(), &stdout, &bytes.Buffer{}, []string{"-o", "json", "version"}); err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		t.Fatalf("version JSON: %v", err)
	}
	if info["version"] == "" || info["go_version"] == "" {
		t.Errorf("version info = %v", info)
	}
}

func TestRun_AskUnconfigured(t *testing.T) {
	cfg := testConfig(t)
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), &stdout, &stderr, []string{"-config", cfg, "-user", "tester", "ask", "hello", "there"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "LLM not configured") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRun_Maintenance(t *testing.T) {
	cfg := testConfig(t)
	var stdout bytes.Buffer
	if err := run(context.Background(), &stdout, &bytes.Buffer{}, []string{"-config", cfg, "maintenance"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "Maintenance complete: pruned 0 notes, merged 0 batches" {
		t.Errorf("stdout = %q", got)
	}
}

func TestRun_JobTool(t *testing.T) {
	cfg := testConfig(t)

	t.Run("unknown tool fails the job", func(t *testing.T) {
		var stdout bytes.Buffer
		err := run(context.Background(), &stdout, &bytes.Buffer{}, []string{"-config", cfg, "job", "tool", "no_such_tool"})
		if err == nil || !strings.Contains(err.Error(), "no_such_tool") {
			t.Errorf("err = %v, want unknown tool failure", err)
		}
		if !strings.Contains(stdout.String(), "failed") {
			t.Errorf("stdout = %q, want failed status", stdout.String())
		}
	})

	t.Run("memory tool succeeds", func(t *testing.T) {
		var stdout bytes.Buffer
		args := []string{"-config", cfg, "-o", "json", "job", "tool", "remember", `{"content":"from the CLI","kind":"rule"}`}
		if err := run(context.Background(), &stdout, &bytes.Buffer{}, args); err != nil {
			t.Fatalf("run: %v", err)
		}
		var job map[string]any
		if err := json.Unmarshal(stdout.Bytes(), &job); err != nil {
			t.Fatalf("job JSON: %v (%q)", err, stdout.String())
		}
		if job["status"] != "succeeded" || job["userId"] != "user_default" {
			t.Errorf("job = %v", job)
		}
	})
}
