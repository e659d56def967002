package cache

import (
	"github.com/pkg/errors"
)

// TieredBackend layers a fast L1 backend over a durable L2 backend:
//   - Get reads L1 first, then L2, promoting L2 hits into L1
//   - Set and Remove write through to both tiers
//
// The usual pairing is a MemoryBackend in front of a FileBackend, which keeps
// hot partitions in memory while surviving restarts.
type TieredBackend struct {
	l1 Backend
	l2 Backend
}

// NewTieredBackend creates a backend reading l1 before l2.
func NewTieredBackend(l1, l2 Backend) *TieredBackend {
	return &TieredBackend{l1: l1, l2: l2}
}

func (t *TieredBackend) Get(key string) (string, bool, error) {
	if value, ok, err := t.l1.Get(key); err == nil && ok {
		return value, true, nil
	}

	value, ok, err := t.l2.Get(key)
	if err != nil || !ok {
		return "", false, err
	}
	// Promote to L1. A failed promotion only costs the next read.
	_ = t.l1.Set(key, value)
	return value, true, nil
}

// Set writes L2 first so an L1 entry never outlives a failed durable write.
func (t *TieredBackend) Set(key, value string) error {
	if err := t.l2.Set(key, value); err != nil {
		return errors.Wrap(err, "l2 set failed")
	}
	if err := t.l1.Set(key, value); err != nil {
		return errors.Wrap(err, "l1 set failed")
	}
	return nil
}

func (t *TieredBackend) Remove(key string) error {
	err1 := t.l1.Remove(key)
	err2 := t.l2.Remove(key)
	if err1 != nil {
		return errors.Wrap(err1, "l1 remove failed")
	}
	if err2 != nil {
		return errors.Wrap(err2, "l2 remove failed")
	}
	return nil
}
