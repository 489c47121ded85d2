// Package agentrun defines the boundary between the coordination core and
// the agent runtime that actually writes code inside a worktree. The spec
// treats that runtime as wholly external (spec.md §1); this package only
// supplies the interface C3 depends on and one concrete local/demo
// adapter, PTYRuntime, so the module is runnable end to end without a
// real agent platform wired in (SPEC_FULL.md §4.5).
package agentrun

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/creack/pty"

	"github.com/conveyor-forge/conveyor/internal/config"
)

// Session is everything an agent runtime needs to start work on one
// ticket: its isolated worktree, the branch it must leave commits on, and
// the slot's allocated ports.
type Session struct {
	IssueNumber  int
	SessionID    string
	WorktreePath string
	BranchName   string
	FrontendPort int
	BackendPort  int
}

// Outcome is a session's terminal result.
type Outcome struct {
	Success bool
	Err     string
}

// AgentRuntime starts a session and blocks until it terminates. The
// coordination core treats every invocation as an opaque task.
type AgentRuntime interface {
	Start(session Session) (Outcome, error)
}

// PTYRuntime runs cfg.Agent.Command inside the session's worktree over a
// PTY, so the agent sees a terminal and line-buffers its output to a log
// file — adapted from the teacher's engine.go invokeAgent. Stdin stays a
// regular pipe so the agent process gets a proper EOF after the context
// is written.
type PTYRuntime struct {
	cfg     *config.Config
	logDir  string
}

// NewPTYRuntime constructs a PTYRuntime that writes each session's
// streamed output to <logDir>/issue-<N>.log.
func NewPTYRuntime(cfg *config.Config, logDir string) *PTYRuntime {
	return &PTYRuntime{cfg: cfg, logDir: logDir}
}

// Start runs the configured agent command, streaming output to a
// per-session log file, and maps its exit status to an Outcome.
func (p *PTYRuntime) Start(session Session) (Outcome, error) {
	if err := os.MkdirAll(p.logDir, 0755); err != nil {
		return Outcome{}, err
	}
	logPath := filepath.Join(p.logDir, fmt.Sprintf("issue-%d.log", session.IssueNumber))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return Outcome{}, err
	}
	defer logFile.Close()

	context := fmt.Sprintf(
		"issue=%d\nbranch=%s\nsession=%s\nfrontend_port=%d\nbackend_port=%d\n",
		session.IssueNumber, session.BranchName, session.SessionID,
		session.FrontendPort, session.BackendPort,
	)

	args := append(append([]string{}, p.cfg.Agent.Args...))
	cmd := exec.Command(p.cfg.Agent.Command, args...)
	cmd.Dir = session.WorktreePath
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("CONVEYOR_ISSUE_NUMBER=%d", session.IssueNumber),
		fmt.Sprintf("CONVEYOR_SESSION_ID=%s", session.SessionID),
		fmt.Sprintf("CONVEYOR_FRONTEND_PORT=%d", session.FrontendPort),
		fmt.Sprintf("CONVEYOR_BACKEND_PORT=%d", session.BackendPort),
	)

	ptmx, pts, err := pty.Open()
	if err != nil {
		return Outcome{}, fmt.Errorf("opening pty: %w", err)
	}
	defer ptmx.Close()

	cmd.Stdin = strings.NewReader(context)
	cmd.Stdout = pts
	cmd.Stderr = pts

	if err := cmd.Start(); err != nil {
		pts.Close()
		return Outcome{}, fmt.Errorf("starting agent: %w", err)
	}
	pts.Close()

	if _, err := io.Copy(logFile, ptmx); err != nil {
		var pathErr *os.PathError
		if !(errors.As(err, &pathErr) && pathErr.Err == syscall.EIO) {
			return Outcome{Success: false, Err: err.Error()}, nil
		}
	}

	if err := cmd.Wait(); err != nil {
		return Outcome{Success: false, Err: err.Error()}, nil
	}
	return Outcome{Success: true}, nil
}
