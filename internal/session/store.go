package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Config controls cache sizing and log retention.
type Config struct {
	CacheSize   int
	TTL         time.Duration
	MaxMessages int
}

// Store fronts a Durable store with an LRU+TTL cache. Callers always
// receive copies; writes go through Save. When the durable store fails
// the Store degrades to memory-only for the rest of the process.
type Store struct {
	cache       *cache
	durable     Durable
	maxMessages int
	logger      *slog.Logger

	group    singleflight.Group
	locks    keyedMutex
	degraded atomic.Bool
}

// NewStore creates a session store. A nil durable store runs memory-only.
func NewStore(durable Durable, cfg Config, logger *slog.Logger) *Store {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cache:       newCache(cfg.CacheSize, cfg.TTL),
		durable:     durable,
		maxMessages: cfg.MaxMessages,
		logger:      logger,
	}
}

// Lock serializes turns on one session. The returned func releases it.
func (s *Store) Lock(id string) (unlock func()) {
	return s.locks.lock(id)
}

// NewID returns a fresh session ID.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// GetOrCreate returns the session with the given ID, loading it from the
// durable store on a cache miss and creating it when it does not exist.
// Concurrent first references to the same ID observe one session.
func (s *Store) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = NewID()
	}
	v, err, _ := s.group.Do("create:"+id, func() (any, error) {
		sess, err := s.lookup(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			sess = newSession(id)
			s.cache.put(sess)
			return sess, nil
		}
		return sess, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session).Clone(), nil
}

// Get returns an existing session or ErrSessionNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	v, err, _ := s.group.Do("get:"+id, func() (any, error) {
		return s.lookup(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session).Clone(), nil
}

// lookup consults the cache, then the durable store.
func (s *Store) lookup(ctx context.Context, id string) (*Session, error) {
	if sess, ok := s.cache.get(id); ok {
		return sess, nil
	}
	if s.memoryOnly() {
		return nil, ErrSessionNotFound
	}
	sess, err := s.durable.Load(ctx, id)
	switch {
	case err == nil:
		s.cache.put(sess)
		return sess, nil
	case errors.Is(err, ErrSessionNotFound):
		return nil, err
	case ctx.Err() != nil:
		return nil, err
	default:
		s.degrade(err)
		return nil, ErrSessionNotFound
	}
}

// Save truncates the log to the retention limit and writes the session
// through the cache to the durable store. A durable failure is logged
// and degrades the store; the cached copy is kept either way.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	stored := sess.Clone()
	stored.Truncate(s.maxMessages)
	stored.UpdatedAt = time.Now().UTC()
	s.cache.put(stored)

	if s.memoryOnly() {
		return nil
	}
	if err := s.durable.Save(ctx, stored); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("save session %s: %w", sess.ID, err)
		}
		s.degrade(err)
	}
	return nil
}

// Clear deletes the session log and its cache entry.
func (s *Store) Clear(ctx context.Context, id string) error {
	s.cache.remove(id)
	if s.memoryOnly() {
		return nil
	}
	if err := s.durable.Delete(ctx, id); err != nil {
		return fmt.Errorf("clear session %s: %w", id, err)
	}
	return nil
}

// Sweep evicts expired cache entries.
func (s *Store) Sweep() int {
	return s.cache.sweep()
}

// Stats describes the store for health and stats endpoints.
type Stats struct {
	Cached   int  `json:"cached"`
	Durable  bool `json:"durable"`
	Degraded bool `json:"degraded"`
}

// Stats returns current store counters.
func (s *Store) Stats() Stats {
	return Stats{
		Cached:   s.cache.len(),
		Durable:  s.durable != nil,
		Degraded: s.degraded.Load(),
	}
}

func (s *Store) memoryOnly() bool {
	return s.durable == nil || s.degraded.Load()
}

func (s *Store) degrade(err error) {
	if s.degraded.CompareAndSwap(false, true) {
		s.logger.Error("durable session store failed, continuing memory-only", "error", err)
	}
}

// keyedMutex hands out one mutex per key and forgets it once no caller
// holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.Unlock()
			k.mu.Lock()
			m.refs--
			if m.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
