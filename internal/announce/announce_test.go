package announce

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantNil  bool
		wantIP   string
		wantPort int
		wantTLS  bool
	}{
		{
			name: "gateway with IPv4",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "btgate"},
				HostName:      "edge-1.local.",
				Port:          8380,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.4.16")},
				Text:          TXTRecords("1.2.0", false),
			},
			wantIP:   "192.168.4.16",
			wantPort: 8380,
		},
		{
			name: "IPv6 only with TLS",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "edge"},
				Port:          443,
				AddrIPv6:      []net.IP{net.ParseIP("fe80::1")},
				Text:          TXTRecords("dev", true),
			},
			wantIP:   "fe80::1",
			wantPort: 443,
			wantTLS:  true,
		},
		{
			name: "no address",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "btgate"},
				Port:          8380,
				Text:          TXTRecords("1.2.0", false),
			},
			wantNil: true,
		},
		{
			name: "no api record",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "printer"},
				Port:          80,
				AddrIPv4:      []net.IP{net.ParseIP("10.0.0.5")},
				Text:          []string{"path=/"},
			},
			wantNil: true,
		},
		{
			name:    "nil entry",
			entry:   nil,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseServiceEntry(tt.entry)
			if tt.wantNil {
				if got != nil {
					t.Errorf("parseServiceEntry() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("parseServiceEntry() = nil, want gateway")
			}
			if got.IP != tt.wantIP {
				t.Errorf("IP = %s, want %s", got.IP, tt.wantIP)
			}
			if got.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", got.Port, tt.wantPort)
			}
			if got.TLS != tt.wantTLS {
				t.Errorf("TLS = %v, want %v", got.TLS, tt.wantTLS)
			}
			if got.API != APIPath {
				t.Errorf("API = %q, want %q", got.API, APIPath)
			}
		})
	}
}

func TestGatewayBaseURL(t *testing.T) {
	tests := []struct {
		gw   Gateway
		want string
	}{
		{Gateway{IP: "192.168.4.16", Port: 8380}, "http://192.168.4.16:8380"},
		{Gateway{IP: "fe80::1", Port: 443, TLS: true}, "https://[fe80::1]:443"},
	}
	for _, tt := range tests {
		if got := tt.gw.BaseURL(); got != tt.want {
			t.Errorf("BaseURL() = %q, want %q", got, tt.want)
		}
	}
}

func TestTXTRecordsMetadata(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "btgate"},
		Port:          8380,
		AddrIPv4:      []net.IP{net.ParseIP("10.0.0.2")},
		Text:          append(TXTRecords("1.0.0", false), "flag"),
	}

	got := parseServiceEntry(entry)
	if got == nil {
		t.Fatal("parseServiceEntry() = nil")
	}
	if got.Version != "1.0.0" {
		t.Errorf("Version = %q, want 1.0.0", got.Version)
	}
	if v, ok := got.Metadata["flag"]; !ok || v != "" {
		t.Errorf("Metadata[flag] = %q, %v, want empty value present", v, ok)
	}
}

func TestNewScanner(t *testing.T) {
	s := NewScanner()
	if s.Timeout != DefaultScanTimeout {
		t.Errorf("Timeout = %v, want %v", s.Timeout, DefaultScanTimeout)
	}
}

func TestAnnouncerShutdownNil(t *testing.T) {
	var a *Announcer
	a.Shutdown()
}
