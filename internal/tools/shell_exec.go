package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/nugget/luminary/internal/config"
)

// credentialEnv is always removed from a child's environment.
var credentialEnv = []string{
	"OPENAI_API_KEY",
	"ANTHROPIC_API_KEY",
	"BRAVE_SEARCH_API_KEY",
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"AWS_SESSION_TOKEN",
}

// ShellExec runs commands for the run_bash tool.
type ShellExec struct {
	enabled        bool
	workingDir     string
	deniedCmds     []string
	stripEnv       map[string]bool
	defaultTimeout time.Duration
	maxOutputBytes int
}

// NewShellExec creates a shell executor from config.
func NewShellExec(cfg config.ShellConfig) *ShellExec {
	timeout := time.Duration(cfg.DefaultTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxOut := cfg.MaxOutputBytes
	if maxOut <= 0 {
		maxOut = 8000
	}
	strip := make(map[string]bool, len(credentialEnv)+len(cfg.StripEnv))
	for _, k := range credentialEnv {
		strip[k] = true
	}
	for _, k := range cfg.StripEnv {
		strip[k] = true
	}
	return &ShellExec{
		enabled:        cfg.Enabled,
		workingDir:     cfg.WorkingDir,
		deniedCmds:     cfg.DeniedPatterns,
		stripEnv:       strip,
		defaultTimeout: timeout,
		maxOutputBytes: maxOut,
	}
}

// ExecResult contains the result of a command execution.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
	TimedOut bool   `json:"timedOut,omitempty"`
}

// Exec runs command under /bin/sh. A non-zero exit is a normal result;
// only policy refusals and spawn failures return an error.
func (s *ShellExec) Exec(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	if !s.enabled {
		return nil, fmt.Errorf("shell execution is disabled")
	}
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("command is required")
	}

	cmdLower := strings.ToLower(command)
	for _, denied := range s.deniedCmds {
		if strings.Contains(cmdLower, strings.ToLower(denied)) {
			return nil, fmt.Errorf("command blocked by security policy: matches denied pattern %q", denied)
		}
	}

	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	if timeout > 5*time.Minute {
		timeout = 5 * time.Minute
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Env = s.safeEnv()
	if s.workingDir != "" {
		cmd.Dir = s.workingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &ExecResult{
		Stdout: Truncate(stdout.String(), s.maxOutputBytes),
		Stderr: Truncate(stderr.String(), s.maxOutputBytes),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		result.Stderr = fmt.Sprintf("Command timed out after %dms", timeout.Milliseconds())
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run command: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

func (s *ShellExec) safeEnv() []string {
	env := os.Environ()
	out := env[:0]
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		if s.stripEnv[key] {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// RunBashTool exposes s as the run_bash tool.
func RunBashTool(s *ShellExec) *Tool {
	return &Tool{
		Name:        "run_bash",
		Description: "Execute a shell command and return stdout, stderr, and exit code. Use for file operations, running scripts, or any system-level task.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Shell command to execute",
				},
				"timeout": map[string]any{
					"type":        "number",
					"description": fmt.Sprintf("Timeout in milliseconds (default %d)", s.defaultTimeout.Milliseconds()),
				},
			},
			"required": []string{"command"},
		},
		Handler: func(ctx context.Context, args map[string]any) Result {
			timeout := time.Duration(IntArg(args, "timeout", 0)) * time.Millisecond
			res, err := s.Exec(ctx, StringArg(args, "command"), timeout)
			if err != nil {
				return Errorf("%v", err)
			}
			return OK(res)
		},
	}
}
