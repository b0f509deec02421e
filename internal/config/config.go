// Package config loads the pricewarden YAML configuration and applies
// environment variable overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for pricewarden.
type Config struct {
	Storage Storage                 `yaml:"storage"`
	Broker  Broker                  `yaml:"broker"`
	Vendor  Vendor                  `yaml:"vendor"`
	Email   Email                   `yaml:"email"`
	Logging Logging                 `yaml:"logging"`
	Update  Update                  `yaml:"update"`
	Sources map[string]SourceConfig `yaml:"historical_data_sources"`
}

// Storage holds paths for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
	ArchiveDir string `yaml:"archive_dir"`
}

// Broker holds connection parameters for the market-data gateway.
type Broker struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID int    `yaml:"client_id"`
	Account  string `yaml:"account"`
}

// Vendor holds credentials and endpoints for the third-party market-data API.
type Vendor struct {
	APIKey          string                  `yaml:"api_key"`
	APISecret       string                  `yaml:"api_secret"`
	BaseURL         string                  `yaml:"base_url"`
	RateLimitPerMin int                     `yaml:"rate_limit_per_min"`
	Symbols         map[string]VendorSymbol `yaml:"symbols"`
}

// VendorSymbol maps an instrument code onto the vendor's symbol space.
type VendorSymbol struct {
	Symbol     string  `yaml:"symbol"`
	Multiplier float64 `yaml:"multiplier"`
}

// Email configures the notification sink.
type Email struct {
	Enabled       bool   `yaml:"enabled"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	From          string `yaml:"from"`
	To            string `yaml:"to"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Logging configures the application logger.
type Logging struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Update holds pipeline-wide update parameters.
type Update struct {
	// IntradayFrequency is the intraday sampling granularity fetched before
	// the daily bar (config spelling, e.g. "H").
	IntradayFrequency string `yaml:"intraday_frequency"`
}

// SourceConfig is the per-datasource entry under historical_data_sources.
type SourceConfig struct {
	// Enabled defaults to true when omitted.
	Enabled *bool       `yaml:"enabled"`
	Driver  string      `yaml:"driver"`
	Config  SourceRules `yaml:"config"`
}

// IsEnabled resolves the optional enabled flag.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// SourceRules is the nested per-source config block interpreted by the
// scheduler and the source drivers.
type SourceRules struct {
	Schedule           map[string]Schedule `yaml:"schedule"`
	IncludeInstruments StringList          `yaml:"include_instruments"`
	ExcludeInstruments StringList          `yaml:"exclude_instruments"`
	Frequency          StringList          `yaml:"frequency"`
	OmitInstruments    StringList          `yaml:"omit_instruments"`

	// CSV driver settings.
	CSVDatapath string     `yaml:"csv_datapath"`
	CSV         CSVOptions `yaml:"csv_config"`
}

// Schedule is one named schedule entry.
type Schedule struct {
	IncludeInstruments StringList `yaml:"include_instruments"`
	ExcludeInstruments StringList `yaml:"exclude_instruments"`
	Frequency          StringList `yaml:"frequency"`
	Days               *DayList   `yaml:"days"`
}

// CSVOptions parameterises the parametric CSV archive reader.
type CSVOptions struct {
	FilePattern string  `yaml:"file_pattern"` // e.g. "%s_%s.csv" filled with symbol, contract date
	DateFormat  string  `yaml:"date_format"`  // Go reference layout
	DateColumn  string  `yaml:"date_column"`
	OpenColumn  string  `yaml:"open_column"`
	HighColumn  string  `yaml:"high_column"`
	LowColumn   string  `yaml:"low_column"`
	CloseColumn string  `yaml:"close_column"`
	VolColumn   string  `yaml:"volume_column"`
	Multiplier  float64 `yaml:"multiplier"`
	Symbols     map[string]string `yaml:"symbols"` // instrument code -> file symbol
}

// ---------------------------------------------------------------------------
// Loose YAML helpers
// ---------------------------------------------------------------------------

// StringList accepts either a single YAML string or a sequence of strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = StringList(items)
		return nil
	}
	return fmt.Errorf("expected string or list, got yaml kind %d", node.Kind)
}

// DayList accepts the symbolic day sets "weekdays", "weekend" and "ALL", a
// single weekday number, or an explicit list of weekday numbers
// (0 = Monday .. 6 = Sunday).
type DayList []int

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *DayList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var n int
		if err := node.Decode(&n); err == nil {
			*d = DayList{n}
			return nil
		}
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		switch s {
		case "weekdays":
			*d = DayList{0, 1, 2, 3, 4}
		case "weekend":
			*d = DayList{5, 6}
		case "ALL":
			*d = DayList{0, 1, 2, 3, 4, 5, 6}
		default:
			return fmt.Errorf("unknown day set %q", s)
		}
		return nil
	case yaml.SequenceNode:
		var items []int
		if err := node.Decode(&items); err != nil {
			return err
		}
		*d = DayList(items)
		return nil
	}
	return fmt.Errorf("expected day set, got yaml kind %d", node.Kind)
}

// Contains reports whether the weekday number is in the list.
func (d DayList) Contains(weekday int) bool {
	for _, day := range d {
		if day == weekday {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Update.IntradayFrequency == "" {
		cfg.Update.IntradayFrequency = "H"
	}
	if cfg.Vendor.RateLimitPerMin == 0 {
		cfg.Vendor.RateLimitPerMin = 200
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ARCHIVE_DIR"); v != "" {
		cfg.Storage.ArchiveDir = v
	}
	if v := os.Getenv("GATEWAY_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("VENDOR_API_KEY"); v != "" {
		cfg.Vendor.APIKey = v
	}
	if v := os.Getenv("VENDOR_API_SECRET"); v != "" {
		cfg.Vendor.APISecret = v
	}
	if v := os.Getenv("EMAIL_PASSWORD"); v != "" {
		cfg.Email.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
