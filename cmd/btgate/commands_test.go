package main

import "testing"

func TestWithDefaultPort(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"192.168.1.20:9000", "192.168.1.20:9000"},
		{"gateway.local", "gateway.local:8380"},
		{"9000", "127.0.0.1:9000"},
		{"::1", "[::1]:8380"},
		{"https://gw.example:8443", "https://gw.example:8443"},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := withDefaultPort(tt.addr); got != tt.want {
				t.Errorf("withDefaultPort(%q) = %q, want %q", tt.addr, got, tt.want)
			}
		})
	}
}
