package domain

import (
	"fmt"
	"strings"
)

// Profile selects the destination store tuning.
type Profile string

// Available profiles.
const (
	// ProfileDefault flushes on commit and journals through a write-ahead log.
	ProfileDefault Profile = "default"

	// ProfileFast disables durability and journaling for throughput.
	// A crash during a fast write can leave the destination unusable.
	ProfileFast Profile = "fast"
)

// IsValid returns true if the profile is recognised.
func (p Profile) IsValid() bool {
	return p == ProfileDefault || p == ProfileFast
}

// String returns the string representation.
func (p Profile) String() string {
	return string(p)
}

// Tuning holds the SQLite pragmas of a profile.
type Tuning struct {
	// Synchronous is the durability pragma (NORMAL, OFF).
	Synchronous string

	// JournalMode is the journal pragma (WAL, OFF).
	JournalMode string

	// CacheSize follows SQLite's convention: negative values are KiB.
	CacheSize int

	// TempStore places temporary tables (MEMORY).
	TempStore string
}

// TuningFor resolves the pragmas of a profile. Unknown profiles resolve
// to the default profile.
func TuningFor(p Profile) Tuning {
	if p == ProfileFast {
		return Tuning{
			Synchronous: "OFF",
			JournalMode: "OFF",
			CacheSize:   -512000,
			TempStore:   "MEMORY",
		}
	}
	return Tuning{
		Synchronous: "NORMAL",
		JournalMode: "WAL",
		CacheSize:   -256000,
		TempStore:   "MEMORY",
	}
}

// DurabilityDisabled returns true if commits are not flushed.
func (t Tuning) DurabilityDisabled() bool {
	return strings.EqualFold(t.Synchronous, "OFF")
}

// JournalDisabled returns true if the rollback journal is off.
func (t Tuning) JournalDisabled() bool {
	return strings.EqualFold(t.JournalMode, "OFF")
}

// Pragmas returns the tuning as PRAGMA statements.
func (t Tuning) Pragmas() []string {
	return []string{
		fmt.Sprintf("PRAGMA synchronous = %s", t.Synchronous),
		fmt.Sprintf("PRAGMA journal_mode = %s", t.JournalMode),
		fmt.Sprintf("PRAGMA cache_size = %d", t.CacheSize),
		fmt.Sprintf("PRAGMA temp_store = %s", t.TempStore),
	}
}

// PragmaList returns the tuning as comma-separated name=value pairs,
// the format GDAL's OGR_SQLITE_PRAGMA option expects.
func (t Tuning) PragmaList() string {
	return fmt.Sprintf("synchronous=%s,journal_mode=%s,cache_size=%d,temp_store=%s",
		t.Synchronous, t.JournalMode, t.CacheSize, t.TempStore)
}
