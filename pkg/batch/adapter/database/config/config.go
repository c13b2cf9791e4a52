package config

// DatabaseConfig holds connection settings for the metadata store and the relational sink.
type DatabaseConfig struct {
	Type     string `yaml:"type" validate:"oneof=sqlite mysql postgres"` // "sqlite", "mysql" or "postgres".
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`     // Database name (mysql, postgres).
	Path     string `yaml:"path"`     // Database file or DSN (sqlite).
	SSLMode  string `yaml:"ssl_mode"` // postgres only.

	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
	// LogLevel is the gorm log level: SILENT, ERROR, WARN or INFO.
	LogLevel string `yaml:"log_level"`
}
