package extension

import "time"

// Config holds the Entitle extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.entitle" or "entitle" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DefaultPageLimit is the transaction page size used when a caller
	// passes limit 0 (default: 50).
	DefaultPageLimit int `json:"default_page_limit" mapstructure:"default_page_limit" yaml:"default_page_limit"`

	// MaxPageLimit clamps larger transaction page sizes (default: 200).
	MaxPageLimit int `json:"max_page_limit" mapstructure:"max_page_limit" yaml:"max_page_limit"`

	// PluginTimeout bounds how long one plugin hook may run (default: 5s).
	PluginTimeout time.Duration `json:"plugin_timeout" mapstructure:"plugin_timeout" yaml:"plugin_timeout"`

	// CatalogFile is a YAML or JSONC fixture whose catalog the engine serves.
	// Leave empty when a catalog.Provider is supplied programmatically.
	CatalogFile string `json:"catalog_file" mapstructure:"catalog_file" yaml:"catalog_file"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultPageLimit: 50,
		MaxPageLimit:     200,
		PluginTimeout:    5 * time.Second,
	}
}
