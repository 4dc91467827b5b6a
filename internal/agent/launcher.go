// Package agent launches AI agent subprocesses and captures their
// results. One subprocess per invocation; the pipeline never talks to a
// model directly.
package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rowanlane/convoy/internal/config"
	"github.com/rowanlane/convoy/internal/logging"
)

// Invocation describes one agent run.
type Invocation struct {
	// ItemID is the work item the invocation serves.
	ItemID string

	// Agent names the role ("analyzer", "planner", "implementer", ...).
	Agent string

	// Phase is the pipeline phase ordinal driving this invocation.
	Phase int

	// Prompt is fed to the agent on stdin.
	Prompt string

	// OutputPath is the artifact file the agent is instructed to write.
	OutputPath string

	// Timeout bounds the subprocess; zero means no limit.
	Timeout time.Duration
}

// Result reports how an agent run ended. Launch returns a Result even on
// failure so callers can meter tokens from partial runs.
type Result struct {
	Success      bool
	ExitCode     int
	TimedOut     bool
	TokenUsage   int64
	InputTokens  int64
	OutputTokens int64
	OutputPath   string
	OutputExists bool
	Err          error
}

// Launcher runs one agent invocation inside a worktree.
type Launcher interface {
	Launch(ctx context.Context, inv Invocation, worktreePath string) Result
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context, inv Invocation, worktreePath string) Result

// Launch calls the function.
func (f LauncherFunc) Launch(ctx context.Context, inv Invocation, worktreePath string) Result {
	return f(ctx, inv, worktreePath)
}

// usageLine is the JSON metrics line the agent CLI emits on stdout when
// a run finishes.
type usageLine struct {
	TotalTokens  int64 `json:"total_tokens"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Subprocess launches the configured agent CLI as a child process.
type Subprocess struct {
	command []string
	timeout time.Duration
	logger  *logging.Logger

	// runCommand is swapped in tests.
	runCommand func(ctx context.Context, dir string, stdin string, name string, args ...string) ([]byte, int, error)
}

var _ Launcher = (*Subprocess)(nil)

// NewSubprocess creates a Launcher from agent configuration.
func NewSubprocess(cfg config.AgentConfig, logger *logging.Logger) *Subprocess {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Subprocess{
		command:    strings.Fields(cfg.Command),
		timeout:    time.Duration(cfg.TimeoutMinutes) * time.Minute,
		logger:     logger,
		runCommand: runCommand,
	}
}

func runCommand(ctx context.Context, dir string, stdin string, name string, args ...string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(stdin)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stdout

	err := cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	return stdout.Bytes(), exitCode, err
}

// Launch runs the agent inside the worktree, feeding the prompt on stdin.
// The invocation's timeout (falling back to the configured default) kills
// the subprocess; a timeout surfaces as a failed Result, not a panic or
// hang.
func (s *Subprocess) Launch(ctx context.Context, inv Invocation, worktreePath string) Result {
	res := Result{OutputPath: inv.OutputPath}
	if len(s.command) == 0 {
		res.Err = errMissingCommand
		return res
	}

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s.logger.Debug("launching agent",
		"item_id", inv.ItemID, "agent", inv.Agent, "phase", inv.Phase, "worktree", worktreePath)

	start := time.Now()
	output, exitCode, err := s.runCommand(ctx, worktreePath, inv.Prompt, s.command[0], s.command[1:]...)
	res.ExitCode = exitCode
	res.TimedOut = ctx.Err() == context.DeadlineExceeded

	if usage, ok := parseUsage(output); ok {
		res.TokenUsage = usage.TotalTokens
		res.InputTokens = usage.InputTokens
		res.OutputTokens = usage.OutputTokens
	}
	if inv.OutputPath != "" {
		if info, statErr := os.Stat(inv.OutputPath); statErr == nil && info.Size() > 0 {
			res.OutputExists = true
		}
	}

	if err != nil {
		res.Err = err
		s.logger.Warn("agent run failed",
			"item_id", inv.ItemID, "agent", inv.Agent, "phase", inv.Phase,
			"exit_code", exitCode, "timed_out", res.TimedOut,
			"duration", time.Since(start).Round(time.Second).String(), "error", err)
		return res
	}

	res.Success = true
	s.logger.Info("agent run finished",
		"item_id", inv.ItemID, "agent", inv.Agent, "phase", inv.Phase,
		"tokens", res.TokenUsage,
		"duration", time.Since(start).Round(time.Second).String())
	return res
}

// parseUsage scans the agent output from the end for the JSON metrics
// line. Agents print free-form progress before it, so only trailing lines
// are candidates.
func parseUsage(output []byte) (usageLine, bool) {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}

	for i := len(lines) - 1; i >= 0; i-- {
		if !strings.HasPrefix(lines[i], "{") {
			continue
		}
		var usage usageLine
		if err := json.Unmarshal([]byte(lines[i]), &usage); err == nil && usage.TotalTokens > 0 {
			return usage, true
		}
	}
	return usageLine{}, false
}
