// Package session keeps analysis results alive between the analyze and
// implement calls. Entries are held in memory with a TTL; a restart or an
// expired entry simply requires re-running the analysis.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Jacky040124/openquest/internal/agent"
)

// Status tracks a session through its lifecycle.
type Status string

const (
	StatusPending      Status = "pending"
	StatusImplementing Status = "implementing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Session is one stored analysis result.
type Session struct {
	ID          string
	RepoURL     string
	IssueNumber int
	IssueTitle  string
	Solution    *agent.Solution
	Status      Status
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Store is a concurrency-safe in-memory session store with TTL expiry.
type Store struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*Session
	now      func() time.Time
}

// NewStore builds a store whose entries live for ttl after creation.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		ttl:      ttl,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}

// Put stores an analysis result under id and returns a snapshot of the
// stored session.
func (s *Store) Put(id, repoURL string, issueNumber int, issueTitle string, solution *agent.Solution) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess := &Session{
		ID:          id,
		RepoURL:     repoURL,
		IssueNumber: issueNumber,
		IssueTitle:  issueTitle,
		Solution:    solution,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	s.sessions[id] = sess
	s.evictLocked(now)
	return *sess
}

// Get returns a snapshot of the session for id, or false when it is unknown
// or expired. Expired entries are removed on access. The returned value is a
// copy; concurrent SetStatus calls never show through it.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	if s.now().After(sess.ExpiresAt) {
		delete(s.sessions, id)
		return Session{}, false
	}
	return *sess, true
}

// SetStatus updates the lifecycle status of a stored session.
func (s *Store) SetStatus(id string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.Status = status
	}
}

// Len reports the number of live (non-expired) sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(s.now())
	return len(s.sessions)
}

func (s *Store) evictLocked(now time.Time) {
	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, id)
		}
	}
}
