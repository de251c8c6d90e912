package domain

import "time"

// Settings is the typed view of the configuration file.
type Settings struct {
	// Ogr2ogrPath is the bulk-copy executable.
	Ogr2ogrPath string

	// OgrinfoPath is the source inspection executable.
	OgrinfoPath string

	// Workers is the requested parallelism across destination files.
	Workers int

	// FastMode selects ProfileFast by default.
	FastMode bool

	PreserveAliases    bool
	PreserveDomains    bool
	PreservePrimaryKey bool

	// Poll is the process supervision cadence.
	Poll PollPolicy

	// HistoryKeep is how many runs the history store retains.
	HistoryKeep int
}

// DefaultSettings returns sensible defaults.
func DefaultSettings() Settings {
	return Settings{
		Ogr2ogrPath:        "ogr2ogr",
		OgrinfoPath:        "ogrinfo",
		Workers:            1,
		PreserveAliases:    true,
		PreserveDomains:    true,
		PreservePrimaryKey: true,
		Poll:               DefaultPollPolicy(),
		HistoryKeep:        100,
	}
}

// Validate checks that values are usable.
func (s Settings) Validate() error {
	switch {
	case s.Ogr2ogrPath == "" || s.OgrinfoPath == "":
		return ErrInvalidInput
	case s.Workers < 1:
		return ErrInvalidInput
	case s.Poll.InitialInterval <= 0 || s.Poll.MaxInterval < s.Poll.InitialInterval:
		return ErrInvalidInput
	case s.Poll.Multiplier < 1:
		return ErrInvalidInput
	case s.HistoryKeep < 1:
		return ErrInvalidInput
	}
	return nil
}

// StatusEvery is a convenience for StatusInterval with a floor of one second.
func (s Settings) StatusEvery() time.Duration {
	if s.Poll.StatusInterval < time.Second {
		return time.Second
	}
	return s.Poll.StatusInterval
}
