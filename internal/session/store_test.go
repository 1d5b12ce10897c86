package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Jacky040124/openquest/internal/agent"
)

func TestStorePutGet(t *testing.T) {
	store := NewStore(time.Hour)
	id := NewID()
	require.NotEmpty(t, id)

	sol := &agent.Solution{Summary: "s"}
	store.Put(id, "https://github.com/octo/demo", 7, "title", sol)

	sess, ok := store.Get(id)
	require.True(t, ok)
	require.Equal(t, "https://github.com/octo/demo", sess.RepoURL)
	require.Equal(t, 7, sess.IssueNumber)
	require.Equal(t, StatusPending, sess.Status)
	require.Same(t, sol, sess.Solution)
	require.Equal(t, 1, store.Len())
}

func TestStoreUnknownID(t *testing.T) {
	store := NewStore(time.Hour)
	_, ok := store.Get("nope")
	require.False(t, ok)
}

func TestStoreExpiry(t *testing.T) {
	store := NewStore(time.Hour)
	now := time.Now()
	store.now = func() time.Time { return now }

	id := NewID()
	store.Put(id, "r", 1, "t", &agent.Solution{})

	_, ok := store.Get(id)
	require.True(t, ok)

	store.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, ok = store.Get(id)
	require.False(t, ok)
	require.Zero(t, store.Len())
}

func TestStoreSetStatus(t *testing.T) {
	store := NewStore(time.Hour)
	id := NewID()
	store.Put(id, "r", 1, "t", &agent.Solution{})

	store.SetStatus(id, StatusCompleted)
	sess, ok := store.Get(id)
	require.True(t, ok)
	require.Equal(t, StatusCompleted, sess.Status)

	// unknown ids are ignored
	store.SetStatus("ghost", StatusFailed)
}

func TestStoreGetReturnsCopy(t *testing.T) {
	store := NewStore(time.Hour)
	id := NewID()
	store.Put(id, "r", 1, "t", &agent.Solution{})

	sess, ok := store.Get(id)
	require.True(t, ok)
	require.Equal(t, StatusPending, sess.Status)

	store.SetStatus(id, StatusFailed)
	require.Equal(t, StatusPending, sess.Status)

	sess, ok = store.Get(id)
	require.True(t, ok)
	require.Equal(t, StatusFailed, sess.Status)
}

func TestStoreConcurrentStatusReads(t *testing.T) {
	store := NewStore(time.Hour)
	id := NewID()
	store.Put(id, "r", 1, "t", &agent.Solution{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			store.SetStatus(id, StatusImplementing)
			store.SetStatus(id, StatusCompleted)
		}
	}()

	for i := 0; i < 500; i++ {
		sess, ok := store.Get(id)
		if !ok {
			t.Error("session disappeared")
			break
		}
		switch sess.Status {
		case StatusPending, StatusImplementing, StatusCompleted:
		default:
			t.Errorf("unexpected status %q", sess.Status)
		}
	}
	<-done
}
