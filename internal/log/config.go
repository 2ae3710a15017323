package log

// Config controls logger construction. It is populated from the
// "log" section of the global YAML configuration via viper.
type Config struct {
	Level   string `mapstructure:"level"`    // trace|debug|info|warn|error
	Pattern string `mapstructure:"pattern"`  // e.g. "%time [%level] %field %msg"
	Time    string `mapstructure:"time"`     // time.Format layout
	File    FileConfig `mapstructure:"file"`
}

// FileConfig configures the rotating file appender. Zero value disables it.
type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns sane defaults used when the config file omits "log".
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Pattern: "%time [%level] %field %msg",
		Time:    "2006-01-02T15:04:05.000Z07:00",
	}
}
