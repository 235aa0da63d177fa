// Package localexec runs allowlisted adb commands on the local machine.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fentz26/uta/internal/connectors"
)

// ErrNotAllowed is returned for commands outside the allowlist.
var ErrNotAllowed = errors.New("command not allowed")

// allowedCommands maps an adb subcommand to the tools it may run. An empty
// list means the subcommand takes no tool.
var allowedCommands = map[string]map[string][]string{
	"adb": {
		"exec-out":  {"screencap", "uiautomator"},
		"shell":     {"dumpsys", "input", "monkey", "pm", "wm"},
		"devices":   nil,
		"get-state": nil,
	},
}

// LocalExec implements the Connector interface for local command execution.
type LocalExec struct {
	workDir string
}

// New creates a new LocalExec connector.
func New(workDir string) *LocalExec {
	return &LocalExec{workDir: workDir}
}

// Name returns the connector identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed checks the command against the allowlist. The binary is matched
// by base name so a configured adb path is accepted; a leading "-s serial"
// is skipped before the subcommand is checked.
func (l *LocalExec) IsAllowed(cmd string, args []string) bool {
	subcmds, ok := allowedCommands[filepath.Base(cmd)]
	if !ok {
		return false
	}
	if len(args) >= 2 && args[0] == "-s" {
		args = args[2:]
	}
	if len(args) == 0 {
		return false
	}

	tools, ok := subcmds[args[0]]
	if !ok {
		return false
	}
	if tools == nil {
		return len(args) == 1
	}
	if len(args) < 2 {
		return false
	}
	for _, t := range tools {
		if args[1] == t {
			return true
		}
	}
	return false
}

// Execute runs a command if it's in the allowlist. A non-zero exit is
// reported through ExitCode, not as an error.
func (l *LocalExec) Execute(ctx context.Context, cmd string, args []string) (*connectors.ExecResult, error) {
	if !l.IsAllowed(cmd, args) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotAllowed, cmd, strings.Join(args, " "))
	}

	execCmd := exec.CommandContext(ctx, cmd, args...)
	if l.workDir != "" {
		execCmd.Dir = l.workDir
	}

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()

	exitCode := 0
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			exitCode = exitError.ExitCode()
		} else {
			return nil, fmt.Errorf("exec error: %w", err)
		}
	}

	return &connectors.ExecResult{
		Command:  cmd,
		Args:     args,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}
