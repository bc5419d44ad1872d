package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestGetConfigDir(t *testing.T) {
	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	if configDir == "" {
		t.Error("GetConfigDir() returned empty string")
	}

	if !strings.Contains(configDir, "btgate") {
		t.Errorf("GetConfigDir() = %v, should contain 'btgate'", configDir)
	}

	switch runtime.GOOS {
	case "windows":
		if !strings.Contains(configDir, "AppData") && !strings.Contains(configDir, "Local") {
			t.Errorf("Windows config dir should contain 'AppData' or 'Local', got: %v", configDir)
		}
	case "darwin":
		if !strings.Contains(configDir, ".config") {
			t.Errorf("Unix config dir should contain '.config', got: %v", configDir)
		}
	}
}

func TestGetConfigDirXDG(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("XDG_CONFIG_HOME only applies on Linux and other Unix systems")
	}
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	got, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if want := filepath.Join(tmpDir, "btgate"); got != want {
		t.Errorf("GetConfigDir() = %v, want %v", got, want)
	}
}

func TestGetConfigPath(t *testing.T) {
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}

	if filepath.Base(configPath) != "btgate.yaml" {
		t.Errorf("GetConfigPath() should end with 'btgate.yaml', got: %v", configPath)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	if cfg.Version != 1 {
		t.Errorf("NewConfig().Version = %v, want 1", cfg.Version)
	}
	if cfg.Discovery.Period != 10*time.Second {
		t.Errorf("NewConfig().Discovery.Period = %v, want 10s", cfg.Discovery.Period)
	}
	if cfg.Discovery.InquiryMode != "giac" {
		t.Errorf("NewConfig().Discovery.InquiryMode = %v, want giac", cfg.Discovery.InquiryMode)
	}
	if !cfg.Discovery.DepartureCheck {
		t.Error("NewConfig().Discovery.DepartureCheck should be true by default")
	}
	if cfg.Radio.Backend != BackendBLE {
		t.Errorf("NewConfig().Radio.Backend = %v, want %v", cfg.Radio.Backend, BackendBLE)
	}
	if cfg.API.Port != 8380 {
		t.Errorf("NewConfig().API.Port = %v, want 8380", cfg.API.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Discovery.Period != 10*time.Second {
		t.Errorf("Load().Discovery.Period = %v, want default 10s", cfg.Discovery.Period)
	}
	if filepath.Base(cfg.Discovery.Fleet) != "fleet.yaml" {
		t.Errorf("Load().Discovery.Fleet = %v, want default fleet.yaml", cfg.Discovery.Fleet)
	}
	if filepath.Base(cfg.Discovery.NameCache) != "names.yaml" {
		t.Errorf("Load().Discovery.NameCache = %v, want default names.yaml", cfg.Discovery.NameCache)
	}
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btgate.yaml")
	data := `version: 1
discovery:
  period: 30s
  inquiry_mode: liac
  ignore_unnamed: true
  name_cache: "null"
  fleet: /etc/btgate/fleet.yaml
radio:
  backend: sim
  sim_file: scenario.yaml
devices:
  "00:00:00:00:00:03": TDU_00000000
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"period", cfg.Discovery.Period, 30 * time.Second},
		{"inquiry mode", cfg.Discovery.InquiryMode, "liac"},
		{"ignore unnamed", cfg.Discovery.IgnoreUnnamed, true},
		{"name cache", cfg.Discovery.NameCache, "null"},
		{"fleet", cfg.Discovery.Fleet, "/etc/btgate/fleet.yaml"},
		{"backend", cfg.Radio.Backend, BackendSim},
		{"scan window default", cfg.Radio.ScanWindow, 5 * time.Second},
		{"api default", cfg.API.Port, 8380},
		{"seed name", cfg.Devices["00:00:00:00:00:03"], "TDU_00000000"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btgate.yaml")
	if err := os.WriteFile(path, []byte("version: 2\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() error = nil for version 2")
	}
}

func TestConfigSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "btgate.yaml")

	cfg := NewConfig()
	cfg.Discovery.Period = 45 * time.Second
	cfg.Discovery.Fleet = "fleet.yaml"
	cfg.Discovery.NameCache = "names.yaml"
	cfg.API.Port = 9000

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind after Save()")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Discovery.Period != 45*time.Second {
		t.Errorf("Loaded period = %v, want 45s", loaded.Discovery.Period)
	}
	if loaded.API.Port != 9000 {
		t.Errorf("Loaded port = %v, want 9000", loaded.API.Port)
	}
}

func TestNameCacheDisabled(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"", true},
		{"null", true},
		{" NULL ", true},
		{"/var/lib/btgate/names.yaml", false},
	}
	for _, tt := range tests {
		if got := NameCacheDisabled(tt.path); got != tt.want {
			t.Errorf("NameCacheDisabled(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
