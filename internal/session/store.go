// Package session keeps analysis sessions in memory.
//
// The Store is the only shared mutable state between the analysis workers
// and the HTTP handlers. Writers go through Update, which applies a mutation
// to a private copy and publishes it in one step, so readers only ever see
// whole snapshots.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/defectscan/internal/domain"
	"github.com/patrickmn/go-cache"
)

// ErrNotFound is wrapped by errors for unknown or evicted sessions.
var ErrNotFound = errors.New("session not found")

const (
	// DefaultTTL is how long a session lives after its last update.
	DefaultTTL = 24 * time.Hour

	// DefaultCleanupInterval is how often expired sessions are evicted.
	DefaultCleanupInterval = 10 * time.Minute
)

// Config contains configuration for the session store.
type Config struct {
	TTL             time.Duration
	CleanupInterval time.Duration
}

// Store is a TTL-bounded, concurrency-safe session map.
type Store struct {
	cache  *cache.Cache
	ttl    time.Duration
	logger *slog.Logger

	// mu serialises writers so read-modify-write cycles never interleave.
	mu sync.Mutex

	evictMu sync.RWMutex
	onEvict []func(*domain.AnalysisSession)
}

// NewStore creates a store. A zero CleanupInterval disables background
// eviction; expired sessions are then only hidden from reads.
func NewStore(cfg Config, logger *slog.Logger) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	s := &Store{
		cache:  cache.New(cfg.TTL, cfg.CleanupInterval),
		ttl:    cfg.TTL,
		logger: logger,
	}
	s.cache.OnEvicted(s.evicted)

	logger.Info("session store initialized",
		"ttl", cfg.TTL,
		"cleanup_interval", cfg.CleanupInterval,
	)
	return s
}

// OnEvict registers fn to run after a session leaves the store, whether
// deleted or expired.
func (s *Store) OnEvict(fn func(*domain.AnalysisSession)) {
	s.evictMu.Lock()
	defer s.evictMu.Unlock()
	s.onEvict = append(s.onEvict, fn)
}

func (s *Store) evicted(id string, v interface{}) {
	sess, ok := v.(*domain.AnalysisSession)
	if !ok {
		return
	}
	s.logger.Debug("session evicted", "session_id", id, "status", sess.Status)

	s.evictMu.RLock()
	hooks := s.onEvict
	s.evictMu.RUnlock()
	for _, fn := range hooks {
		fn(sess.Clone())
	}
}

// Create inserts a new session. It fails with ECONFLICT when the ID is taken.
func (s *Store) Create(sess *domain.AnalysisSession) error {
	const op = "session.create"

	if sess == nil || sess.ID == "" {
		return domain.Invalid(op, "session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cache.Add(sess.ID, sess.Clone(), s.ttl); err != nil {
		return domain.Conflict(op, "session already exists")
	}
	return nil
}

// Get returns a snapshot of the session.
func (s *Store) Get(id string) (*domain.AnalysisSession, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, notFound("session.get", id)
	}
	return v.(*domain.AnalysisSession).Clone(), nil
}

// Update applies fn to a copy of the session and stores the copy when fn
// succeeds. Each update also refreshes the session's TTL.
func (s *Store) Update(id string, fn func(*domain.AnalysisSession) error) (*domain.AnalysisSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.cache.Get(id)
	if !ok {
		return nil, notFound("session.update", id)
	}

	next := v.(*domain.AnalysisSession).Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.cache.Set(id, next, s.ttl)
	return next.Clone(), nil
}

// Delete removes a session. Sessions still being analyzed cannot be deleted.
// Eviction hooks run before Delete returns, under the store lock, so they
// must not call back into Create, Update or Delete.
func (s *Store) Delete(id string) error {
	const op = "session.delete"

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.cache.Get(id)
	if !ok {
		return notFound(op, id)
	}
	if v.(*domain.AnalysisSession).IsAnalyzing() {
		return domain.Conflict(op, "session is still being analyzed")
	}
	s.cache.Delete(id)
	return nil
}

// Count returns the number of stored sessions.
func (s *Store) Count() int {
	return len(s.cache.Items())
}

// AnalyzingCount returns the number of sessions currently being analyzed.
func (s *Store) AnalyzingCount() int {
	n := 0
	for _, item := range s.cache.Items() {
		if sess, ok := item.Object.(*domain.AnalysisSession); ok && sess.IsAnalyzing() {
			n++
		}
	}
	return n
}

// DeleteExpired evicts expired sessions now.
func (s *Store) DeleteExpired() {
	s.cache.DeleteExpired()
}

// Flush evicts every session, running the eviction hooks.
func (s *Store) Flush() {
	for id := range s.cache.Items() {
		s.cache.Delete(id)
	}
}

func notFound(op, id string) error {
	return &domain.Error{
		Code:    domain.ENOTFOUND,
		Op:      op,
		Message: "Session not found",
		Err:     ErrNotFound,
	}
}
