package netif

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"

	"github.com/picoprov/picoprov/internal/wifierr"
)

// captureConn records packets written by the DHCP handler.
type captureConn struct {
	mu      sync.Mutex
	packets [][]byte
}

func (c *captureConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packets = append(c.packets, append([]byte(nil), b...))
	return len(b), nil
}

func (c *captureConn) ReadFrom(b []byte) (int, net.Addr, error) { return 0, nil, io.EOF }
func (c *captureConn) Close() error { return nil }
func (c *captureConn) LocalAddr() net.Addr { return &net.UDPAddr{} }
func (c *captureConn) SetDeadline(time.Time) error { return nil }
func (c *captureConn) SetReadDeadline(time.Time) error { return nil }
func (c *captureConn) SetWriteDeadline(time.Time) error { return nil }

func (c *captureConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.packets)
}

func (c *captureConn) last(t *testing.T) *dhcpv4.DHCPv4 {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.packets) == 0 {
		t.Fatal("no DHCP reply was sent")
	}
	resp, err := dhcpv4.FromBytes(c.packets[len(c.packets)-1])
	if err != nil {
		t.Fatalf("failed to parse DHCP reply: %v", err)
	}
	return resp
}

func testPool(t *testing.T, poolStart string) *leasePool {
	t.Helper()
	p, err := newLeasePool(net.ParseIP("192.168.4.1"), 24, net.ParseIP(poolStart))
	if err != nil {
		t.Fatalf("newLeasePool() error = %v", err)
	}
	return p
}

func mac(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	hw, err := net.ParseMAC(s)
	if err != nil {
		t.Fatalf("ParseMAC(%q) error = %v", s, err)
	}
	return hw
}

func discover(t *testing.T, hw net.HardwareAddr) *dhcpv4.DHCPv4 {
	t.Helper()
	req, err := dhcpv4.NewDiscovery(hw)
	if err != nil {
		t.Fatalf("NewDiscovery() error = %v", err)
	}
	return req
}

// TestDiscoverYieldsOffer tests the offer carries the pool address and
// points clients at the AP for routing and DNS
func TestDiscoverYieldsOffer(t *testing.T) {
	p := testPool(t, "192.168.4.10")
	conn := &captureConn{}

	p.handle(conn, &net.UDPAddr{}, discover(t, mac(t, "02:00:00:00:00:01")))

	resp := conn.last(t)
	if got := resp.MessageType(); got != dhcpv4.MessageTypeOffer {
		t.Errorf("MessageType() = %v, want Offer", got)
	}
	if got := resp.YourIPAddr.String(); got != "192.168.4.10" {
		t.Errorf("YourIPAddr = %s, want 192.168.4.10", got)
	}
	if got := resp.ServerIdentifier().String(); got != "192.168.4.1" {
		t.Errorf("ServerIdentifier() = %s, want 192.168.4.1", got)
	}
	if routers := resp.Router(); len(routers) != 1 || routers[0].String() != "192.168.4.1" {
		t.Errorf("Router() = %v, want [192.168.4.1]", routers)
	}
	if got := resp.SubnetMask().String(); got != net.CIDRMask(24, 32).String() {
		t.Errorf("SubnetMask() = %v, want /24", resp.SubnetMask())
	}
}

// TestLeasesStickPerClient tests repeat clients keep their address while
// new clients advance through the pool
func TestLeasesStickPerClient(t *testing.T) {
	p := testPool(t, "192.168.4.10")
	conn := &captureConn{}
	first := mac(t, "02:00:00:00:00:01")

	p.handle(conn, &net.UDPAddr{}, discover(t, first))
	if got := conn.last(t).YourIPAddr.String(); got != "192.168.4.10" {
		t.Fatalf("first client got %s, want 192.168.4.10", got)
	}

	p.handle(conn, &net.UDPAddr{}, discover(t, first))
	if got := conn.last(t).YourIPAddr.String(); got != "192.168.4.10" {
		t.Errorf("repeat discover got %s, want sticky 192.168.4.10", got)
	}

	p.handle(conn, &net.UDPAddr{}, discover(t, mac(t, "02:00:00:00:00:02")))
	if got := conn.last(t).YourIPAddr.String(); got != "192.168.4.11" {
		t.Errorf("second client got %s, want 192.168.4.11", got)
	}
}

// TestRequestAckAndNak tests the offered address is acknowledged and a
// mismatched request is refused
func TestRequestAckAndNak(t *testing.T) {
	p := testPool(t, "192.168.4.10")
	conn := &captureConn{}
	hw := mac(t, "02:00:00:00:00:01")

	p.handle(conn, &net.UDPAddr{}, discover(t, hw))
	offer := conn.last(t)

	req, err := dhcpv4.NewRequestFromOffer(offer)
	if err != nil {
		t.Fatalf("NewRequestFromOffer() error = %v", err)
	}
	p.handle(conn, &net.UDPAddr{}, req)

	ack := conn.last(t)
	if got := ack.MessageType(); got != dhcpv4.MessageTypeAck {
		t.Fatalf("MessageType() = %v, want Ack", got)
	}
	if got := ack.YourIPAddr.String(); got != "192.168.4.10" {
		t.Errorf("ack YourIPAddr = %s, want 192.168.4.10", got)
	}

	req.UpdateOption(dhcpv4.OptRequestedIPAddress(net.ParseIP("192.168.4.200")))
	p.handle(conn, &net.UDPAddr{}, req)
	if got := conn.last(t).MessageType(); got != dhcpv4.MessageTypeNak {
		t.Errorf("MessageType() = %v, want Nak", got)
	}
}

// TestPoolExhaustion tests discovers past the pool end are dropped
func TestPoolExhaustion(t *testing.T) {
	p := testPool(t, "192.168.4.254") // single usable address
	conn := &captureConn{}

	p.handle(conn, &net.UDPAddr{}, discover(t, mac(t, "02:00:00:00:00:01")))
	if got := conn.last(t).YourIPAddr.String(); got != "192.168.4.254" {
		t.Fatalf("first client got %s, want 192.168.4.254", got)
	}

	before := conn.count()
	p.handle(conn, &net.UDPAddr{}, discover(t, mac(t, "02:00:00:00:00:02")))
	if got := conn.count(); got != before {
		t.Errorf("exhausted pool sent a reply, want silence")
	}
}

// TestReleaseReturnsLease tests a released address goes back to its client
func TestReleaseReturnsLease(t *testing.T) {
	p := testPool(t, "192.168.4.10")
	hw := mac(t, "02:00:00:00:00:01")

	ip, ok := p.allocate(hw)
	if !ok || ip.String() != "192.168.4.10" {
		t.Fatalf("allocate() = %v, %v; want 192.168.4.10, true", ip, ok)
	}
	p.release(hw)
	if _, held := p.leases[hw.String()]; held {
		t.Error("lease still held after release")
	}
}

// TestLeasePoolValidation tests pool bounds are checked up front
func TestLeasePoolValidation(t *testing.T) {
	tests := []struct {
		name      string
		serverIP  string
		prefix    uint8
		poolStart string
	}{
		{"outside subnet", "192.168.4.1", 24, "10.0.0.10"},
		{"at broadcast", "192.168.4.1", 24, "192.168.4.255"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newLeasePool(net.ParseIP(tt.serverIP), tt.prefix, net.ParseIP(tt.poolStart))
			if !wifierr.IsInvalidArgument(err) {
				t.Errorf("newLeasePool() error = %v, want InvalidArgument", err)
			}
		})
	}
}
