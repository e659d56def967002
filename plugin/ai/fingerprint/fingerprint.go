// Package fingerprint computes order-independent digests of task sets. Two
// task collections with the same members and the same mutable fields produce
// the same fingerprint, whatever path fetched them.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	apperrors "github.com/hrygo/dayflow/internal/errors"
	"github.com/hrygo/dayflow/store"
)

// Empty is the fingerprint of an empty task set. Non-empty fingerprints carry
// the "sha256:" prefix and can never equal it.
const Empty = "empty"

const prefix = "sha256:"

// Compute returns the fingerprint of tasks. A malformed task (nil, empty UID,
// priority outside 1..5, or a UID seen twice) is an upstream contract breach
// and yields an error matching errors.ErrInvariantViolation.
func Compute(tasks []*store.Task) (string, error) {
	if len(tasks) == 0 {
		return Empty, nil
	}

	sorted := make([]*store.Task, len(tasks))
	copy(sorted, tasks)
	for i, t := range sorted {
		if t == nil {
			return "", apperrors.InvariantViolation(fmt.Sprintf("fingerprint: task %d is nil", i))
		}
		if t.UID == "" {
			return "", apperrors.InvariantViolation(fmt.Sprintf("fingerprint: task %d has no uid", i))
		}
		if t.Priority < 1 || t.Priority > 5 {
			return "", apperrors.InvariantViolation(fmt.Sprintf("fingerprint: task %s has priority %d", t.UID, t.Priority))
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UID < sorted[j].UID })

	hasher := sha256.New()
	writeField := func(data string) {
		var length [8]byte
		binary.BigEndian.PutUint64(length[:], uint64(len(data)))
		hasher.Write(length[:])
		hasher.Write([]byte(data))
	}

	writeField(strconv.Itoa(len(sorted)))
	for i, t := range sorted {
		if i > 0 && sorted[i-1].UID == t.UID {
			return "", apperrors.InvariantViolation("fingerprint: duplicate task uid " + t.UID)
		}
		writeField(t.UID)
		writeField(string(t.Status))
		writeField(strconv.Itoa(t.Priority))
		writeField(strconv.FormatInt(t.UpdatedTs, 10))
	}
	return prefix + hex.EncodeToString(hasher.Sum(nil)), nil
}

// MustCompute is like Compute but panics on malformed input.
func MustCompute(tasks []*store.Task) string {
	fp, err := Compute(tasks)
	if err != nil {
		panic(err)
	}
	return fp
}
