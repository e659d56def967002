// Package cache provides the keyed cache store shared by every cached
// partition family: raw task lists per date and per category, and generated
// recommendations per scope.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/dayflow/internal/bus"
)

// OwnerKey scopes key to owner. Keys built this way can be dropped together
// with InvalidateOwner.
func OwnerKey(owner, key string) string {
	return owner + ":" + key
}

// Entry is one cached payload.
type Entry[T any] struct {
	Key       string
	Payload   T
	WrittenAt time.Time
	// Pinned entries are never removed by Sweep, only by invalidation.
	Pinned bool
}

// Config configures a Store.
type Config struct {
	// Prefix namespaces the store's keys inside the backend and names the
	// store on the invalidation bus.
	Prefix string
	// Family is the partition family the store answers to on the bus.
	// Empty means the store only reacts to scope-all events.
	Family string
	// MaxEntries bounds the number of entries; <= 0 means unbounded.
	MaxEntries int
	// TTL is the age after which non-pinned entries expire; <= 0 disables expiry.
	TTL    time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

type metaEntry struct {
	WrittenAt time.Time `json:"writtenAt"`
	Pinned    bool      `json:"pinned"`
}

// Store is a keyed cache of T values persisted in a Backend. Payloads are
// stored as JSON under "{prefix}-{key}"; the metadata map lives under
// "{prefix}#meta", which no partition key can collide with.
type Store[T any] struct {
	cfg     Config
	backend Backend
	logger  *slog.Logger

	mu sync.Mutex
}

// New creates a store over backend.
func New[T any](backend Backend, cfg Config) *Store[T] {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store[T]{
		cfg:     cfg,
		backend: backend,
		logger:  logger.With("component", "cache", "prefix", cfg.Prefix),
	}
}

// Name returns the store prefix.
func (s *Store[T]) Name() string {
	return s.cfg.Prefix
}

// Family returns the partition family the store answers to.
func (s *Store[T]) Family() string {
	return s.cfg.Family
}

func (s *Store[T]) dataKey(key string) string {
	return s.cfg.Prefix + "-" + key
}

func (s *Store[T]) metaKey() string {
	return s.cfg.Prefix + "#meta"
}

// Get returns the entry under key. Expired non-pinned entries read as a miss
// and are left for Sweep; a corrupted payload is dropped and reads as a miss.
func (s *Store[T]) Get(key string) (*Entry[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.loadMeta()
	m, ok := meta[key]
	if !ok {
		return nil, false
	}
	if !m.Pinned && s.expired(m.WrittenAt, s.cfg.TTL) {
		return nil, false
	}

	raw, found, err := s.backend.Get(s.dataKey(key))
	if err != nil {
		s.logger.Warn("cache backend read failed", "key", key, "error", err)
		return nil, false
	}
	if !found {
		delete(meta, key)
		s.saveMeta(meta)
		return nil, false
	}

	var payload T
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		s.logger.Warn("dropping corrupted cache entry", "key", key, "error", err)
		s.removeLocked(meta, key)
		s.saveMeta(meta)
		return nil, false
	}
	return &Entry[T]{Key: key, Payload: payload, WrittenAt: m.WrittenAt, Pinned: m.Pinned}, true
}

// Put stores payload under key, replacing any existing entry. It sweeps
// first so the store stays within MaxEntries after the write.
func (s *Store[T]) Put(key string, payload T, pinned bool) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "failed to encode cache payload for %s", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.loadMeta()
	prev, exists := meta[key]
	budget := s.cfg.MaxEntries
	if budget > 0 && !exists {
		budget--
	}
	s.sweepLocked(meta, budget, s.cfg.TTL, key)

	writtenAt := s.cfg.Now()
	if exists && !writtenAt.After(prev.WrittenAt) {
		writtenAt = prev.WrittenAt.Add(time.Nanosecond)
	}

	if err := s.backend.Set(s.dataKey(key), string(data)); err != nil {
		return errors.Wrapf(err, "failed to write cache entry %s", key)
	}
	meta[key] = metaEntry{WrittenAt: writtenAt, Pinned: pinned}
	return s.saveMeta(meta)
}

// Invalidate removes the entry under key. Missing keys are a no-op.
func (s *Store[T]) Invalidate(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.loadMeta()
	if err := s.removeLocked(meta, key); err != nil {
		return err
	}
	return s.saveMeta(meta)
}

// InvalidateAll removes every entry, pinned ones included.
func (s *Store[T]) InvalidateAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.loadMeta()
	var firstErr error
	for key := range meta {
		if err := s.backend.Remove(s.dataKey(key)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.backend.Remove(s.metaKey()); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// InvalidateOwner removes every entry whose key was built by OwnerKey for
// owner, pinned ones included.
func (s *Store[T]) InvalidateOwner(owner string) error {
	if owner == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.loadMeta()
	prefix := OwnerKey(owner, "")
	var firstErr error
	for key := range meta {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := s.removeLocked(meta, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.saveMeta(meta); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// SetPinned changes whether the entry under key is pinned without touching
// its payload or write time. Missing keys are a no-op.
func (s *Store[T]) SetPinned(key string, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.loadMeta()
	m, ok := meta[key]
	if !ok || m.Pinned == pinned {
		return nil
	}
	m.Pinned = pinned
	meta[key] = m
	return s.saveMeta(meta)
}

// Sweep removes non-pinned entries older than ttl, then evicts the oldest
// non-pinned entries until at most maxEntries remain. It returns the evicted
// keys in eviction order.
func (s *Store[T]) Sweep(maxEntries int, ttl time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.loadMeta()
	evicted := s.sweepLocked(meta, maxEntries, ttl, "")
	return evicted
}

// Keys returns the keys currently tracked, in sorted order.
func (s *Store[T]) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.loadMeta()
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of tracked entries.
func (s *Store[T]) Len() int {
	return len(s.Keys())
}

// HandleInvalidation applies bus events: scope-all clears the store, an
// owner event drops that owner's entries and a partition event of the
// store's family removes that partition. Events the
// store originated are skipped because the write was already applied.
func (s *Store[T]) HandleInvalidation(_ context.Context, event bus.Event) error {
	if event.Origin != "" && event.Origin == s.cfg.Prefix {
		return nil
	}
	switch event.Scope {
	case bus.ScopeAll:
		return s.InvalidateAll()
	case bus.ScopeOwner:
		return s.InvalidateOwner(event.Owner)
	case bus.ScopePartition:
		if s.cfg.Family != "" && event.Family == s.cfg.Family {
			return s.Invalidate(event.PartitionKey)
		}
	}
	return nil
}

// sweepLocked evicts against meta, never touching keep, and persists the
// result when anything changed.
func (s *Store[T]) sweepLocked(meta map[string]metaEntry, maxEntries int, ttl time.Duration, keep string) []string {
	var evicted []string

	type candidate struct {
		key       string
		writtenAt time.Time
	}
	var candidates []candidate
	for key, m := range meta {
		if m.Pinned || key == keep {
			continue
		}
		if s.expired(m.WrittenAt, ttl) {
			evicted = append(evicted, key)
			continue
		}
		candidates = append(candidates, candidate{key: key, writtenAt: m.WrittenAt})
	}
	sort.Strings(evicted)
	for _, key := range evicted {
		s.removeLocked(meta, key)
	}

	if maxEntries > 0 && len(meta) > maxEntries {
		sort.Slice(candidates, func(i, j int) bool {
			if !candidates[i].writtenAt.Equal(candidates[j].writtenAt) {
				return candidates[i].writtenAt.Before(candidates[j].writtenAt)
			}
			return candidates[i].key < candidates[j].key
		})
		for _, c := range candidates {
			if len(meta) <= maxEntries {
				break
			}
			s.removeLocked(meta, c.key)
			evicted = append(evicted, c.key)
		}
	}

	if len(evicted) > 0 {
		s.logger.Debug("swept cache entries", "evicted", evicted)
		s.saveMeta(meta)
	}
	return evicted
}

func (s *Store[T]) expired(writtenAt time.Time, ttl time.Duration) bool {
	return ttl > 0 && s.cfg.Now().Sub(writtenAt) > ttl
}

func (s *Store[T]) removeLocked(meta map[string]metaEntry, key string) error {
	delete(meta, key)
	if err := s.backend.Remove(s.dataKey(key)); err != nil {
		s.logger.Warn("cache backend remove failed", "key", key, "error", err)
		return err
	}
	return nil
}

// loadMeta reads the metadata map. An unreadable map is discarded and the
// store starts empty.
func (s *Store[T]) loadMeta() map[string]metaEntry {
	meta := make(map[string]metaEntry)
	raw, found, err := s.backend.Get(s.metaKey())
	if err != nil {
		s.logger.Warn("cache metadata read failed", "error", err)
		return meta
	}
	if !found {
		return meta
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		s.logger.Warn("dropping corrupted cache metadata", "error", err)
		s.backend.Remove(s.metaKey())
		return make(map[string]metaEntry)
	}
	return meta
}

func (s *Store[T]) saveMeta(meta map[string]metaEntry) error {
	if len(meta) == 0 {
		return s.backend.Remove(s.metaKey())
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "failed to encode cache metadata")
	}
	if err := s.backend.Set(s.metaKey(), string(data)); err != nil {
		return errors.Wrap(err, "failed to write cache metadata")
	}
	return nil
}
