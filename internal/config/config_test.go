package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadPopulatesFields(t *testing.T) {
	t.Parallel()
	path := writeConfigFile(t, `{"apikey":"k1","pem":"/etc/key.pem","local":"ws://127.0.0.1:9000","margin":true}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKey != "k1" || cfg.PEM != "/etc/key.pem" || cfg.Local != "ws://127.0.0.1:9000" || !cfg.Margin {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestParseRequiresConfigFlag(t *testing.T) {
	t.Parallel()
	if _, err := Parse([]string{"--level", "debug"}); err == nil {
		t.Fatal("expected an error when --config is omitted")
	}
}

func TestParseDefaultsLevelToInfo(t *testing.T) {
	t.Parallel()
	path := writeConfigFile(t, `{"apikey":"k1","pem":"/etc/key.pem","local":"ws://127.0.0.1:9000"}`)

	cfg, err := Parse([]string{"--config", path})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Level != "info" {
		t.Errorf("level = %q, want info", cfg.Level)
	}
}

func TestValidateRequiresAllFields(t *testing.T) {
	t.Parallel()
	cases := []Config{
		{PEM: "p", Local: "l"},
		{APIKey: "k", Local: "l"},
		{APIKey: "k", PEM: "p"},
	}
	for i, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected Validate to reject %+v", i, cfg)
		}
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	t.Parallel()
	cfg := Config{APIKey: "k", PEM: "p", Local: "l"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}
