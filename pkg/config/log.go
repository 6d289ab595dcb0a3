package config

var logLevels = map[string]struct{}{"debug": {}, "info": {}, "warn": {}, "warning": {}, "error": {}}

// LogConfig selects level, encoding and sinks for the process logger.
type LogConfig struct {
    Level string `mapstructure:"level"`
    // Format is console or json
    Format string `mapstructure:"format"`
    // Outputs are stdout, stderr or file paths
    Outputs  []string       `mapstructure:"outputs"`
    Rotation RotationConfig `mapstructure:"rotation"`
    // Development adds colour levels and development panics
    Development bool `mapstructure:"development"`
}

// RotationConfig enables lumberjack rotation for file outputs.
type RotationConfig struct {
    Enable     bool   `mapstructure:"enable"`
    Filename   string `mapstructure:"filename"`
    MaxSizeMB  int    `mapstructure:"max_size_mb"`
    MaxBackups int    `mapstructure:"max_backups"`
    MaxAgeDays int    `mapstructure:"max_age_days"`
    Compress   bool   `mapstructure:"compress"`
}
