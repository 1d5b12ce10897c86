package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Local is a Runtime backed by the host: each session gets its own temp
// directory and commands run through sh -c with a per-call timeout. It stands
// in for a hosted sandbox service in development and tests.
type Local struct {
	// BaseDir is where session directories are created. Empty means the
	// system temp directory.
	BaseDir string

	mu       sync.Mutex
	sessions map[string]string // session id -> root dir
	seq      int
}

// NewLocal builds a Local runtime.
func NewLocal(baseDir string) *Local {
	return &Local{
		BaseDir:  baseDir,
		sessions: make(map[string]string),
	}
}

func (l *Local) Create(ctx context.Context, timeout time.Duration) (*Session, error) {
	l.mu.Lock()
	l.seq++
	id := fmt.Sprintf("local-%d-%d", time.Now().UnixNano(), l.seq)
	l.mu.Unlock()

	dir, err := os.MkdirTemp(l.BaseDir, "openquest-sbx-")
	if err != nil {
		return nil, &Error{Detail: fmt.Sprintf("create session dir: %v", err), Cause: err}
	}

	l.mu.Lock()
	l.sessions[id] = dir
	l.mu.Unlock()

	return &Session{ID: id, RepoPath: filepath.Join(dir, "repo")}, nil
}

func (l *Local) Run(ctx context.Context, s *Session, command string, timeout time.Duration) (ExecResult, error) {
	root, err := l.root(s)
	if err != nil {
		return ExecResult{}, err
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	res := ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		res.ExitCode = 0
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, &Error{Detail: fmt.Sprintf("run command: %v", runErr), Cause: runErr}
	}
	if ctx.Err() != nil {
		return res, &Error{Detail: fmt.Sprintf("command timed out after %s", timeout), Cause: ctx.Err()}
	}
	return res, nil
}

func (l *Local) ReadFile(ctx context.Context, s *Session, path string) (string, error) {
	root, err := l.root(s)
	if err != nil {
		return "", err
	}
	resolved, err := resolveWithin(root, path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (l *Local) WriteFile(ctx context.Context, s *Session, path, content string) error {
	root, err := l.root(s)
	if err != nil {
		return err
	}
	resolved, err := resolveWithin(root, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return err
	}
	return os.WriteFile(resolved, []byte(content), 0o644)
}

func (l *Local) Destroy(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	l.mu.Lock()
	dir, ok := l.sessions[s.ID]
	delete(l.sessions, s.ID)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return os.RemoveAll(dir)
}

func (l *Local) root(s *Session) (string, error) {
	if s == nil {
		return "", &Error{Detail: "session is nil"}
	}
	l.mu.Lock()
	dir, ok := l.sessions[s.ID]
	l.mu.Unlock()
	if !ok {
		return "", &Error{Detail: fmt.Sprintf("unknown session %s", s.ID)}
	}
	return dir, nil
}

// resolveWithin joins path under root and rejects escapes. Absolute paths
// already inside the session directory pass through; any other absolute path
// is reinterpreted relative to root.
func resolveWithin(root, path string) (string, error) {
	if filepath.IsAbs(path) {
		resolved := filepath.Clean(path)
		if resolved == root || strings.HasPrefix(resolved, root+string(filepath.Separator)) {
			return resolved, nil
		}
		path = strings.TrimPrefix(path, "/")
	}
	resolved := filepath.Clean(filepath.Join(root, path))
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", &Error{Detail: fmt.Sprintf("path %q escapes session root", path)}
	}
	return resolved, nil
}
