package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newLocalSession(t *testing.T) (*Local, *Session) {
	t.Helper()
	l := NewLocal(t.TempDir())
	session, err := l.Create(context.Background(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Destroy(context.Background(), session) })
	return l, session
}

func TestLocalRunCapturesOutputAndExitCode(t *testing.T) {
	l, session := newLocalSession(t)

	res, err := l.Run(context.Background(), session, "echo hello; echo oops >&2; exit 3", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "hello\n", res.Stdout)
	require.Equal(t, "oops\n", res.Stderr)
	require.Equal(t, 3, res.ExitCode)
}

func TestLocalRunTimeout(t *testing.T) {
	l, session := newLocalSession(t)

	_, err := l.Run(context.Background(), session, "sleep 5", 100*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "timed out")
}

func TestLocalFileRoundTrip(t *testing.T) {
	l, session := newLocalSession(t)

	require.NoError(t, l.WriteFile(context.Background(), session, "repo/notes.md", "content"))
	got, err := l.ReadFile(context.Background(), session, "repo/notes.md")
	require.NoError(t, err)
	require.Equal(t, "content", got)

	// session RepoPath is absolute; reads inside the root pass through
	got, err = l.ReadFile(context.Background(), session, session.RepoPath+"/notes.md")
	require.NoError(t, err)
	require.Equal(t, "content", got)
}

func TestLocalRejectsEscapingPaths(t *testing.T) {
	l, session := newLocalSession(t)

	_, err := l.ReadFile(context.Background(), session, "../../etc/passwd")
	require.Error(t, err)
	require.Contains(t, err.Error(), "escapes session root")
}

func TestLocalDestroyInvalidatesSession(t *testing.T) {
	l := NewLocal(t.TempDir())
	session, err := l.Create(context.Background(), time.Minute)
	require.NoError(t, err)

	require.NoError(t, l.Destroy(context.Background(), session))

	_, err = l.Run(context.Background(), session, "true", time.Minute)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown session")

	// destroying again is a no-op
	require.NoError(t, l.Destroy(context.Background(), session))
}
