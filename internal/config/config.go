// Package config provides YAML configuration loading and validation for the
// intake service.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for the intake service.
type Config struct {
	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// LogFormat selects "json" (default) or human-readable "text" output.
	LogFormat string `yaml:"log_format" validate:"oneof=json text"`

	// AdminAddr is the listen address of the admin HTTP server serving
	// /healthz, /metrics and /api/v1. Defaults to "127.0.0.1:9000"; set it to
	// "-" to disable the server.
	AdminAddr string `yaml:"admin_addr"`

	// JournalPath is the hash-chained intake journal. Empty disables it.
	JournalPath string `yaml:"journal_path"`

	Watch   WatchConfig   `yaml:"watch"`
	Records RecordsConfig `yaml:"records"`
	Catalog CatalogConfig `yaml:"catalog"`
	API     APIConfig     `yaml:"api"`
}

// WatchConfig tunes the watch service and the stability probe.
type WatchConfig struct {
	// Backend is "native" (kernel notifications) or "poll".
	Backend string `yaml:"backend" validate:"oneof=native poll"`

	// PollInterval is the snapshot frequency of the poll backend.
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`

	// QuiescenceWindow is how long a file's modification time must stay
	// unchanged before it is moved.
	QuiescenceWindow time.Duration `yaml:"quiescence_window" validate:"gt=0"`

	// TimestampUTC formats staging name prefixes in UTC instead of local
	// time.
	TimestampUTC bool `yaml:"timestamp_utc"`
}

// RecordsConfig selects the record store.
type RecordsConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `yaml:"dsn" validate:"required"`
}

// CatalogConfig selects where file types and directories come from.
type CatalogConfig struct {
	// Source is "file" (FileTypes below) or "postgres" (DSN).
	Source    string           `yaml:"source" validate:"oneof=file postgres"`
	DSN       string           `yaml:"dsn" validate:"required_if=Source postgres"`
	FileTypes []FileTypeConfig `yaml:"file_types" validate:"dive"`
}

// FileTypeConfig is one file type of the file catalog.
type FileTypeConfig struct {
	ID        int64            `yaml:"id" validate:"gt=0"`
	Code      string           `yaml:"code" validate:"required"`
	Active    bool             `yaml:"active"`
	Directory *DirectoryConfig `yaml:"directory"`
}

// DirectoryConfig lists the role-specific subdirectories of a file type.
// Only Incoming and Staging are required.
type DirectoryConfig struct {
	Incoming  string `yaml:"incoming" validate:"required"`
	Staging   string `yaml:"staging" validate:"required,nefield=Incoming"`
	Dump      string `yaml:"dump"`
	Processed string `yaml:"processed"`
	Errors    string `yaml:"errors"`
	Outgoing  string `yaml:"outgoing"`
}

// APIConfig configures authentication of the /api/v1 routes.
type APIConfig struct {
	// JWTPublicKeyPath is a PEM-encoded RSA public key. Empty disables
	// authentication.
	JWTPublicKeyPath string `yaml:"jwt_public_key_path"`
	Issuer           string `yaml:"issuer"`
	Audience         string `yaml:"audience"`
}

// AdminDisabled is the AdminAddr value that turns the admin server off.
const AdminDisabled = "-"

// LoadConfig reads the YAML file at path, unmarshals it into Config, applies
// defaults, and validates all fields. Every validation failure is reported.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

// applyDefaults fills in zero-value optional fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.AdminAddr == "" {
		cfg.AdminAddr = "127.0.0.1:9000"
	}
	if cfg.Watch.Backend == "" {
		cfg.Watch.Backend = "native"
	}
	if cfg.Watch.PollInterval == 0 {
		cfg.Watch.PollInterval = 500 * time.Millisecond
	}
	if cfg.Watch.QuiescenceWindow == 0 {
		cfg.Watch.QuiescenceWindow = time.Second
	}
	if cfg.Records.Driver == "" {
		cfg.Records.Driver = "sqlite"
	}
	if cfg.Records.DSN == "" && cfg.Records.Driver == "sqlite" {
		cfg.Records.DSN = "./intake.db"
	}
	if cfg.Catalog.Source == "" {
		cfg.Catalog.Source = "file"
	}
}

var validate = newValidator().check

type structValidator struct {
	v *validator.Validate
}

func newValidator() structValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their YAML names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return structValidator{v: v}
}

// check runs the struct tag rules and then the cross-field rules the tags
// cannot express.
func (sv structValidator) check(cfg *Config) error {
	var errs []error

	if err := sv.v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fieldError(fe))
		}
	}

	seen := make(map[int64]bool, len(cfg.Catalog.FileTypes))
	for i, ft := range cfg.Catalog.FileTypes {
		if seen[ft.ID] {
			errs = append(errs, fmt.Errorf("catalog.file_types[%d]: duplicate id %d", i, ft.ID))
		}
		seen[ft.ID] = true
	}

	if cfg.API.JWTPublicKeyPath == "" && (cfg.API.Issuer != "" || cfg.API.Audience != "") {
		errs = append(errs, errors.New("api: issuer and audience require jwt_public_key_path"))
	}

	return errors.Join(errs...)
}

// fieldError turns one validator failure into a readable error keyed by the
// YAML path of the field.
func fieldError(fe validator.FieldError) error {
	// Namespace is "Config.catalog.file_types[0].code"; drop the root.
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Errorf("%s is required", field)
	case "oneof":
		return fmt.Errorf("%s %q must be one of: %s", field, fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Errorf("%s must be greater than %s", field, fe.Param())
	case "nefield":
		return fmt.Errorf("%s must differ from %s", field, strings.ToLower(fe.Param()))
	default:
		return fmt.Errorf("%s failed %q validation", field, fe.Tag())
	}
}
