package config_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/intake/fileswatcher/internal/config"
)

// writeTemp writes content to a temp file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	return f.Name()
}

const validYAML = `
log_level: debug
log_format: text
admin_addr: "127.0.0.1:9100"
journal_path: /var/lib/intake/journal.jsonl
watch:
  backend: poll
  poll_interval: 250ms
  quiescence_window: 2s
  timestamp_utc: true
records:
  driver: postgres
  dsn: postgres://intake@db/intake
catalog:
  source: file
  file_types:
    - id: 1
      code: ORDERS
      active: true
      directory:
        incoming: /data/orders/in
        staging: /data/orders/tmp
        processed: /data/orders/done
    - id: 2
      code: RETURNS
      active: false
api:
  jwt_public_key_path: /etc/intake/jwt.pub
  issuer: intake-auth
  audience: intake-admin
`

func TestLoadConfig_Valid(t *testing.T) {
	cfg, err := config.LoadConfig(writeTemp(t, validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LogLevel != "debug" || cfg.LogFormat != "text" {
		t.Errorf("LogLevel/LogFormat = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.AdminAddr != "127.0.0.1:9100" {
		t.Errorf("AdminAddr = %q", cfg.AdminAddr)
	}
	if cfg.Watch.Backend != "poll" || cfg.Watch.PollInterval != 250*time.Millisecond {
		t.Errorf("Watch = %+v", cfg.Watch)
	}
	if cfg.Watch.QuiescenceWindow != 2*time.Second || !cfg.Watch.TimestampUTC {
		t.Errorf("Watch = %+v", cfg.Watch)
	}
	if cfg.Records.Driver != "postgres" || cfg.Records.DSN != "postgres://intake@db/intake" {
		t.Errorf("Records = %+v", cfg.Records)
	}
	if len(cfg.Catalog.FileTypes) != 2 {
		t.Fatalf("len(FileTypes) = %d, want 2", len(cfg.Catalog.FileTypes))
	}
	ft := cfg.Catalog.FileTypes[0]
	if ft.ID != 1 || ft.Code != "ORDERS" || !ft.Active || ft.Directory == nil {
		t.Fatalf("FileTypes[0] = %+v", ft)
	}
	if ft.Directory.Staging != "/data/orders/tmp" || ft.Directory.Dump != "" {
		t.Errorf("Directory = %+v", *ft.Directory)
	}
	if cfg.Catalog.FileTypes[1].Directory != nil {
		t.Error("FileTypes[1].Directory should be nil")
	}
	if cfg.API.Issuer != "intake-auth" || cfg.API.Audience != "intake-admin" {
		t.Errorf("API = %+v", cfg.API)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig(writeTemp(t, "catalog:\n  file_types: []\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checks := []struct {
		name      string
		got, want any
	}{
		{"log_level", cfg.LogLevel, "info"},
		{"log_format", cfg.LogFormat, "json"},
		{"admin_addr", cfg.AdminAddr, "127.0.0.1:9000"},
		{"journal_path", cfg.JournalPath, ""},
		{"watch.backend", cfg.Watch.Backend, "native"},
		{"watch.poll_interval", cfg.Watch.PollInterval, 500 * time.Millisecond},
		{"watch.quiescence_window", cfg.Watch.QuiescenceWindow, time.Second},
		{"watch.timestamp_utc", cfg.Watch.TimestampUTC, false},
		{"records.driver", cfg.Records.Driver, "sqlite"},
		{"records.dsn", cfg.Records.DSN, "./intake.db"},
		{"catalog.source", cfg.Catalog.Source, "file"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid log level",
			yaml:    "log_level: verbose\n",
			wantErr: `log_level "verbose" must be one of: debug, info, warn, error`,
		},
		{
			name:    "invalid log format",
			yaml:    "log_format: xml\n",
			wantErr: "log_format",
		},
		{
			name:    "unknown backend",
			yaml:    "watch:\n  backend: inotify\n",
			wantErr: "watch.backend",
		},
		{
			name:    "negative quiescence window",
			yaml:    "watch:\n  quiescence_window: -1s\n",
			wantErr: "watch.quiescence_window must be greater than 0",
		},
		{
			name:    "postgres records without dsn",
			yaml:    "records:\n  driver: postgres\n",
			wantErr: "records.dsn is required",
		},
		{
			name:    "postgres catalog without dsn",
			yaml:    "catalog:\n  source: postgres\n",
			wantErr: "catalog.dsn is required",
		},
		{
			name: "missing staging",
			yaml: `
catalog:
  file_types:
    - id: 1
      code: A
      directory:
        incoming: /in
`,
			wantErr: "catalog.file_types[0].directory.staging is required",
		},
		{
			name: "staging equals incoming",
			yaml: `
catalog:
  file_types:
    - id: 1
      code: A
      directory:
        incoming: /in
        staging: /in
`,
			wantErr: "must differ from incoming",
		},
		{
			name: "duplicate ids",
			yaml: `
catalog:
  file_types:
    - id: 3
      code: A
    - id: 3
      code: B
`,
			wantErr: "duplicate id 3",
		},
		{
			name:    "missing code",
			yaml:    "catalog:\n  file_types:\n    - id: 1\n",
			wantErr: "catalog.file_types[0].code is required",
		},
		{
			name:    "issuer without key",
			yaml:    "api:\n  issuer: someone\n",
			wantErr: "require jwt_public_key_path",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.LoadConfig(writeTemp(t, tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadConfig_ReportsEveryFailure(t *testing.T) {
	_, err := config.LoadConfig(writeTemp(t, "log_level: loud\nlog_format: xml\n"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "log_format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := config.LoadConfig("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := config.LoadConfig(writeTemp(t, "watch: [unclosed"))
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}
