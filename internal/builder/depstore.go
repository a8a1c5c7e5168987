package builder

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
)

// Record is the persisted dependency record for one source file: the
// include closure the compiler observed the last time the source was
// compiled, the flags it was compiled with, and optional content
// fingerprints captured by the change oracle.
//
// A record lives next to its object file (<obj>.deps.json) and is
// rewritten on every recompilation of its source. A record is only
// trusted if it is at least as recent as the artifact it describes; a
// missing or unreadable record means the source is unconditionally
// stale.
type Record struct {
	Includes     []string          `json:"includes,omitempty"`
	Cflags       []string          `json:"cflags,omitempty"`
	Fingerprints map[string]string `json:"fingerprints,omitempty"`
	ProducedAt   time.Time         `json:"produced_at"`
}

func recordPath(objPath string) string {
	return objPath + ".deps.json"
}

// loadRecord reads the dependency record for the given object file.
// A record that has never been written loads as (nil, nil), and so does
// a torn or otherwise undecodable one: a record we cannot trust is the
// same as no record at all, which the staleness rules turn into an
// unconditional recompile.
func loadRecord(objPath string) (*Record, error) {
	data, err := os.ReadFile(recordPath(objPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil // torn write, treat as absent
	}
	return &rec, nil
}

// saveRecord durably overwrites the dependency record for the given
// object file. The record is written to a unique temp file and renamed
// into place so a crash mid-write can never leave a half-written record
// under the final name.
func saveRecord(objPath string, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	tmp := recordPath(objPath) + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, recordPath(objPath)); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// removeRecord deletes the record for the given object file. Missing
// records are not an error.
func removeRecord(objPath string) error {
	err := os.Remove(recordPath(objPath))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
