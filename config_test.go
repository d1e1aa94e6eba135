package pinoq

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t testing.TB, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pinoq.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
volume: /var/lib/pinoq/vol.pnoq
mount: /mnt/pinoq
options:
  allow_other: true
  read_only: true
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Volume != "/var/lib/pinoq/vol.pnoq" || cfg.Mount != "/mnt/pinoq" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !cfg.Options.AllowOther || !cfg.Options.ReadOnly {
		t.Fatalf("options not parsed: %+v", cfg.Options)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "volume: vol.pnoq\nmount: /mnt/pinoq\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Options.AllowOther || cfg.Options.ReadOnly {
		t.Fatalf("options should default off: %+v", cfg.Options)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	for name, content := range map[string]string{
		"missing volume": "mount: /mnt/pinoq\n",
		"missing mount":  "volume: vol.pnoq\n",
		"not yaml":       "{{{\n",
	} {
		path := writeConfig(t, content)
		if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidArg) {
			t.Errorf("%s: expected invalid argument, got %v", name, err)
		}
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, ErrInvalidArg) {
		t.Errorf("missing file: expected invalid argument, got %v", err)
	}
}
