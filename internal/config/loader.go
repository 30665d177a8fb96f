package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Sheet sources
	if len(cfg.Sheets.Paths) == 0 && cfg.Sheets.PostgresDSN == "" {
		errs = append(errs, errors.New("sheets: at least one of sheets.paths or sheets.postgres_dsn must be set"))
	}
	seen := make(map[string]int, len(cfg.Sheets.Paths))
	for i, p := range cfg.Sheets.Paths {
		if p == "" {
			errs = append(errs, fmt.Errorf("sheets.paths[%d] is empty", i))
			continue
		}
		if prev, ok := seen[p]; ok {
			errs = append(errs, fmt.Errorf("sheets.paths[%d] %q is a duplicate of sheets.paths[%d]", i, p, prev))
		}
		seen[p] = i
	}
	if dsn := cfg.Sheets.PostgresDSN; dsn != "" {
		if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
			slog.Warn("sheets.postgres_dsn does not look like a postgres URL", "dsn_prefix", dsnPrefix(dsn))
		}
	}

	// Engine defaults
	if cfg.Engine.MaxSoundsPerMessage < 0 {
		errs = append(errs, fmt.Errorf("engine.max_sounds_per_message %d is negative", cfg.Engine.MaxSoundsPerMessage))
	}
	if cfg.Engine.GlobalSoundCooldown < 0 {
		errs = append(errs, fmt.Errorf("engine.global_sound_cooldown %s is negative", cfg.Engine.GlobalSoundCooldown))
	}
	if cfg.Engine.BackgroundIdleRevert < 0 {
		errs = append(errs, fmt.Errorf("engine.background_idle_revert %s is negative", cfg.Engine.BackgroundIdleRevert))
	}
	if cfg.Engine.CooldownSweepInterval < 0 {
		errs = append(errs, fmt.Errorf("engine.cooldown_sweep_interval %s is negative", cfg.Engine.CooldownSweepInterval))
	}
	if f := cfg.Engine.Fuzzy; f.Enabled {
		if f.Threshold < 0 || f.Threshold > 1 {
			errs = append(errs, fmt.Errorf("engine.fuzzy.threshold %.2f is out of range [0, 1]", f.Threshold))
		}
		if f.Threshold != 0 && f.Threshold < 0.7 {
			slog.Warn("engine.fuzzy.threshold is low; expect false positive quest/item matches", "threshold", f.Threshold)
		}
	}
	if cfg.Engine.CaseSensitive {
		slog.Warn("engine.case_sensitive is set; keyword matching will miss capitalised mentions")
	}

	// Sessions
	if cfg.Sessions.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("sessions.idle_timeout %s is negative", cfg.Sessions.IdleTimeout))
	}

	return errors.Join(errs...)
}

// dsnPrefix returns the scheme-ish prefix of a DSN for safe logging,
// without any credentials.
func dsnPrefix(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		return dsn[:i]
	}
	if len(dsn) > 12 {
		return dsn[:12]
	}
	return dsn
}
