package netif

import (
	"net"
	"testing"
)

// TestBroadcastAddr tests derivation of the subnet broadcast address
func TestBroadcastAddr(t *testing.T) {
	tests := []struct {
		name   string
		ip     string
		prefix uint8
		want   string
	}{
		{"AP default /24", "192.168.4.1", 24, "192.168.4.255"},
		{"half subnet /25", "192.168.4.1", 25, "192.168.4.127"},
		{"wide /16", "10.1.2.3", 16, "10.1.255.255"},
		{"host route /32", "192.168.4.1", 32, "192.168.4.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := broadcastAddr(net.ParseIP(tt.ip).To4(), tt.prefix)
			if got.String() != tt.want {
				t.Errorf("broadcastAddr(%s, %d) = %s, want %s", tt.ip, tt.prefix, got, tt.want)
			}
		})
	}
}
