package builder

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"slices"
	"sync"
	"time"
)

// ChangeOracle decides whether a file on disk invalidates an artifact.
// The default oracle compares modification timestamps; an alternative
// hashes file contents. Timestamps are a conservative approximation:
// clock skew, sub-resolution writes and timestamp-preserving copies can
// all produce a false "current", which is why the oracle is pluggable.
type ChangeOracle interface {
	// Snapshot captures fingerprints for the given paths at compile
	// time, to be stored in the dependency record. Oracles that read
	// the filesystem live may return nil.
	Snapshot(paths []string) (map[string]string, error)

	// Invalidates reports whether the file at path should force
	// recompilation of an artifact last produced at artifactTime, with
	// rec providing the fingerprints captured when it was built.
	// A vanished file always invalidates.
	Invalidates(path string, artifactTime time.Time, rec *Record) (bool, error)
}

// MtimeOracle invalidates an artifact when a file's modification time
// is newer than the artifact's.
type MtimeOracle struct{}

func (MtimeOracle) Snapshot([]string) (map[string]string, error) { return nil, nil }

func (MtimeOracle) Invalidates(path string, artifactTime time.Time, _ *Record) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return true, err
	}
	return info.ModTime().After(artifactTime), nil
}

// HashOracle invalidates an artifact when a file's content hash differs
// from the fingerprint recorded at compile time. Hashes are cached for
// the lifetime of the oracle (one build invocation).
type HashOracle struct {
	mu    sync.Mutex
	cache map[string]string
}

func NewHashOracle() *HashOracle {
	return &HashOracle{cache: make(map[string]string)}
}

func (o *HashOracle) Snapshot(paths []string) (map[string]string, error) {
	fingerprints := make(map[string]string, len(paths))
	for _, path := range paths {
		hash, err := o.fileHash(path)
		if err != nil {
			return nil, err
		}
		fingerprints[path] = hash
	}
	return fingerprints, nil
}

func (o *HashOracle) Invalidates(path string, _ time.Time, rec *Record) (bool, error) {
	recorded, ok := rec.Fingerprints[path]
	if !ok {
		return true, nil // record predates the hash oracle, distrust it
	}
	hash, err := o.fileHash(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return true, err
	}
	return hash != recorded, nil
}

func (o *HashOracle) fileHash(path string) (string, error) {
	o.mu.Lock()
	hash, ok := o.cache[path]
	o.mu.Unlock()
	if ok {
		return hash, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	hash = hex.EncodeToString(h.Sum(nil))
	o.mu.Lock()
	o.cache[path] = hash
	o.mu.Unlock()
	return hash, nil
}

// isStale decides whether the artifact for src must be regenerated.
// The rules are ordered and deliberately over-approximate: a false
// "stale" costs one recompilation, a false "current" would silently
// link against an outdated object, which this function must never
// allow.
//
//	(a) artifact missing
//	(b) record missing, torn, or older than the artifact
//	(b') record compiled with different flags
//	(c) source invalidates the artifact
//	(d) any recorded include invalidates the artifact
//	(e) any recorded include vanished (folded into the oracle check)
func isStale(src SourceFile, objPath string, rec *Record, cflags []string, oracle ChangeOracle) (bool, error) {
	info, err := os.Stat(objPath)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil // (a)
		}
		return true, err
	}

	if rec == nil {
		return true, nil // (b)
	}
	artifactTime := info.ModTime()
	if rec.ProducedAt.Before(artifactTime) {
		// the artifact was produced after this record; the record does
		// not describe it and cannot be trusted
		return true, nil // (b)
	}

	if !slices.Equal(rec.Cflags, cflags) {
		return true, nil // (b')
	}

	if changed, err := oracle.Invalidates(src.Path, artifactTime, rec); changed || err != nil {
		return true, err // (c)
	}

	for _, include := range rec.Includes {
		if changed, err := oracle.Invalidates(include, artifactTime, rec); changed || err != nil {
			return true, err // (d), (e)
		}
	}

	return false, nil
}
