package config

import "strings"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EngineChanged is true when any matching default changed. New
	// conversation engines pick the values up; running ones keep theirs.
	EngineChanged bool

	// SheetsChanged is true when the sheet sources changed. The host
	// reloads the store and resets affected sessions.
	SheetsChanged bool

	SessionsChanged bool
}

// Any reports whether the diff carries at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.EngineChanged || d.SheetsChanged || d.SessionsChanged
}

// String summarises the changed areas for logging, e.g. "log_level,engine".
func (d ConfigDiff) String() string {
	var parts []string
	if d.LogLevelChanged {
		parts = append(parts, "log_level")
	}
	if d.EngineChanged {
		parts = append(parts, "engine")
	}
	if d.SheetsChanged {
		parts = append(parts, "sheets")
	}
	if d.SessionsChanged {
		parts = append(parts, "sessions")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Engine.MaxSoundsPerMessage != new.Engine.MaxSoundsPerMessage ||
		old.Engine.GlobalSoundCooldown != new.Engine.GlobalSoundCooldown ||
		old.Engine.BackgroundIdleRevert != new.Engine.BackgroundIdleRevert ||
		old.Engine.CooldownSweepInterval != new.Engine.CooldownSweepInterval ||
		old.Engine.CaseSensitive != new.Engine.CaseSensitive ||
		old.Engine.KeepAccents != new.Engine.KeepAccents ||
		old.Engine.Fuzzy != new.Engine.Fuzzy {
		d.EngineChanged = true
	}

	if !equalPaths(old.Sheets.Paths, new.Sheets.Paths) ||
		old.Sheets.PostgresDSN != new.Sheets.PostgresDSN {
		d.SheetsChanged = true
	}

	if old.Sessions.IdleTimeout != new.Sessions.IdleTimeout {
		d.SessionsChanged = true
	}

	return d
}

func equalPaths(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
