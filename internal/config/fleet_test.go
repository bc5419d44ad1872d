package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/muurk/btgate/internal/discovery"
)

func TestLoadFleet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	data := `device_filter: "TDU_.*|0000000000.*"
devices:
  - id: "TDU_.*"
    pin: "1111"
    max_retry: 3
  - id: "0000000000.*"
    pin: "0000"
    retry: false
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	fleet, err := LoadFleet(path)
	if err != nil {
		t.Fatalf("LoadFleet() error = %v", err)
	}
	if fleet.Filter == nil {
		t.Fatal("LoadFleet().Filter = nil, want compiled filter")
	}
	if len(fleet.Entries) != 2 {
		t.Fatalf("LoadFleet() has %d entries, want 2", len(fleet.Entries))
	}

	first, second := fleet.Entries[0], fleet.Entries[1]
	if first.PIN != "1111" || !first.Retry || first.MaxRetry != 3 {
		t.Errorf("Entries[0] = %+v, want pin 1111, retry true, max 3", first)
	}
	if second.Retry {
		t.Error("Entries[1].Retry = true, want false")
	}
	if second.MaxRetry != 1 {
		t.Errorf("Entries[1].MaxRetry = %d, want default 1", second.MaxRetry)
	}

	dev := discovery.ResolvedDevice{Identity: discovery.NewIdentity("000000000003"), Name: "TDU_00000000"}
	if got := fleet.Match(dev); got == nil || got.ID != "TDU_.*" {
		t.Errorf("Match() = %+v, want TDU_.* entry", got)
	}
}

func TestLoadFleetMissing(t *testing.T) {
	fleet, err := LoadFleet(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFleet() error = %v", err)
	}
	if fleet != nil {
		t.Errorf("LoadFleet() = %+v, want nil fleet", fleet)
	}
}

func TestFleetFileCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		file FleetFile
	}{
		{"bad filter", FleetFile{DeviceFilter: "TDU_("}},
		{"missing id", FleetFile{Devices: []FleetDevice{{PIN: "1111"}}}},
		{"bad id", FleetFile{Devices: []FleetDevice{{ID: "[", PIN: "1111"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.file.Compile(); err == nil {
				t.Error("Compile() error = nil, want error")
			}
		})
	}
}
