package file

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driven"
)

// Configuration keys.
const (
	KeyOgr2ogr            = "backend.ogr2ogr"
	KeyOgrinfo            = "backend.ogrinfo"
	KeyWorkers            = "run.workers"
	KeyFastMode           = "run.fast_mode"
	KeyAliases            = "metadata.aliases"
	KeyDomains            = "metadata.domains"
	KeyPrimaryKeys        = "metadata.primary_keys"
	KeyPollInitialMS      = "polling.initial_ms"
	KeyPollMaxMS          = "polling.max_ms"
	KeyPollMultiplier     = "polling.multiplier"
	KeyPollQuietChecks    = "polling.quiet_checks"
	KeyPollStatusInterval = "polling.status_interval_s"
	KeyHistoryKeep        = "history.keep"
)

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindFloat
	kindBool
)

var knownKeys = map[string]valueKind{
	KeyOgr2ogr:            kindString,
	KeyOgrinfo:            kindString,
	KeyWorkers:            kindInt,
	KeyFastMode:           kindBool,
	KeyAliases:            kindBool,
	KeyDomains:            kindBool,
	KeyPrimaryKeys:        kindBool,
	KeyPollInitialMS:      kindInt,
	KeyPollMaxMS:          kindInt,
	KeyPollMultiplier:     kindFloat,
	KeyPollQuietChecks:    kindInt,
	KeyPollStatusInterval: kindInt,
	KeyHistoryKeep:        kindInt,
}

// KnownKeys returns the recognised keys, sorted.
func KnownKeys() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseValue converts command-line text to the type a key expects.
func ParseValue(key, raw string) (any, error) {
	kind, ok := knownKeys[key]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key %q", domain.ErrInvalidInput, key)
	}

	switch kind {
	case kindInt:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s expects an integer: %w", domain.ErrInvalidInput, key, err)
		}
		return v, nil
	case kindFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s expects a number: %w", domain.ErrInvalidInput, key, err)
		}
		return v, nil
	case kindBool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s expects true or false: %w", domain.ErrInvalidInput, key, err)
		}
		return v, nil
	default:
		return raw, nil
	}
}

// LoadSettings reads typed settings from a store. Keys that are absent
// keep their default value.
func LoadSettings(store driven.ConfigStore) (domain.Settings, error) {
	s := domain.DefaultSettings()

	has := func(key string) bool {
		_, ok := store.Get(key)
		return ok
	}

	if has(KeyOgr2ogr) {
		s.Ogr2ogrPath = store.GetString(KeyOgr2ogr)
	}
	if has(KeyOgrinfo) {
		s.OgrinfoPath = store.GetString(KeyOgrinfo)
	}
	if has(KeyWorkers) {
		s.Workers = store.GetInt(KeyWorkers)
	}
	if has(KeyFastMode) {
		s.FastMode = store.GetBool(KeyFastMode)
	}
	if has(KeyAliases) {
		s.PreserveAliases = store.GetBool(KeyAliases)
	}
	if has(KeyDomains) {
		s.PreserveDomains = store.GetBool(KeyDomains)
	}
	if has(KeyPrimaryKeys) {
		s.PreservePrimaryKey = store.GetBool(KeyPrimaryKeys)
	}
	if has(KeyPollInitialMS) {
		s.Poll.InitialInterval = time.Duration(store.GetInt(KeyPollInitialMS)) * time.Millisecond
	}
	if has(KeyPollMaxMS) {
		s.Poll.MaxInterval = time.Duration(store.GetInt(KeyPollMaxMS)) * time.Millisecond
	}
	if has(KeyPollMultiplier) {
		s.Poll.Multiplier = store.GetFloat(KeyPollMultiplier)
	}
	if has(KeyPollQuietChecks) {
		s.Poll.QuietChecks = store.GetInt(KeyPollQuietChecks)
	}
	if has(KeyPollStatusInterval) {
		s.Poll.StatusInterval = time.Duration(store.GetInt(KeyPollStatusInterval)) * time.Second
	}
	if has(KeyHistoryKeep) {
		s.HistoryKeep = store.GetInt(KeyHistoryKeep)
	}

	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("%s: %w", store.Path(), err)
	}
	return s, nil
}
