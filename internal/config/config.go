// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for data_squirrel.
package config

// Config is the top-level configuration structure for a single data store.
// Unlike a multi-account client, one data store has exactly one config: no
// profile or drive section to select between.
type Config struct {
	Scan    ScanConfig    `toml:"scan"`
	Safety  SafetyConfig  `toml:"safety"`
	Logging LoggingConfig `toml:"logging"`
}

// ScanConfig controls the behavior of perform_full_scan.
type ScanConfig struct {
	// DetectBitrot re-hashes files whose recorded mod/creation times are
	// unchanged, surfacing a BitRot issue when the content hash no longer
	// matches. Expensive: every unchanged file is re-read every scan.
	DetectBitrot bool `toml:"detect_bitrot"`
	// SkipSymlinks is loaded and validated but not read by any component:
	// symlinks are never followed and are always reported as SkipLink scan
	// issues, whatever its value.
	SkipSymlinks bool `toml:"skip_symlinks"`
}

// SafetyConfig controls protective defaults for destructive operations.
type SafetyConfig struct {
	// TombstoneRetentionDays bounds how long a DELETION item that cannot
	// yet be proven safe to remove (§4.5.7) is kept before cleanup logs a
	// warning about an unresponsive peer.
	TombstoneRetentionDays int `toml:"tombstone_retention_days"`
	// MaxDeletePercent aborts applying remote deletions during a sync if
	// the delete count would exceed this percentage of the local item
	// count — a guard against a mis-scanned or unmounted remote store.
	MaxDeletePercent int `toml:"max_delete_percent"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
}
