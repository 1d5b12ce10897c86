// Package sandbox owns the ephemeral execution environment an agent run
// explores a repository in: acquisition, repository cloning and fork
// synchronization, and unconditional teardown.
package sandbox

import (
	"context"
	"fmt"
	"time"
)

// Session identifies one acquired sandbox. A session is owned by exactly one
// run and must be destroyed on every exit path.
type Session struct {
	ID       string
	RepoPath string
}

// ExecResult carries output and status code of a command run in a sandbox.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runtime is the backing sandbox service contract. Implementations provide
// process isolation; callers provide lifecycle discipline.
type Runtime interface {
	Create(ctx context.Context, timeout time.Duration) (*Session, error)
	// Run executes a shell command line. A nonzero exit code is reported via
	// ExecResult, not an error; the error return is reserved for the command
	// failing to run at all (timeout, missing session).
	Run(ctx context.Context, s *Session, command string, timeout time.Duration) (ExecResult, error)
	ReadFile(ctx context.Context, s *Session, path string) (string, error)
	WriteFile(ctx context.Context, s *Session, path, content string) error
	Destroy(ctx context.Context, s *Session) error
}

// Error reports a sandbox acquisition or operation failure.
type Error struct {
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sandbox: %s", e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// CloneError reports a fatal repository clone or sync failure, carrying the
// offending URL (credential already masked) and an actionable detail.
type CloneError struct {
	RepoURL string
	Detail  string
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("failed to clone %s: %s", e.RepoURL, e.Detail)
}
