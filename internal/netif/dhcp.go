package netif

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"go.uber.org/zap"

	"github.com/picoprov/picoprov/internal/logging"
	"github.com/picoprov/picoprov/internal/wifierr"
)

// leaseDuration is offered to AP clients. Provisioning sessions are
// short-lived; the lease only needs to outlast credential entry.
const leaseDuration = time.Hour

// leasePool hands out IPv4 addresses to AP clients, sticky per client
// hardware address. Replies carry the AP address as router and DNS so
// clients route and resolve against the device.
type leasePool struct {
	mu       sync.Mutex
	serverIP net.IP
	mask     net.IPMask
	start    uint32
	size     int
	next     int
	leases   map[string]net.IP
}

// newLeasePool builds a pool covering poolStart through the last usable
// host address of the server's subnet.
func newLeasePool(serverIP net.IP, prefixLen uint8, poolStart net.IP) (*leasePool, error) {
	srv := serverIP.To4()
	pool := poolStart.To4()
	if srv == nil || pool == nil {
		return nil, wifierr.New(wifierr.KindInvalidArgument, "lease pool requires IPv4 addresses")
	}

	mask := net.CIDRMask(int(prefixLen), 32)
	if !srv.Mask(mask).Equal(pool.Mask(mask)) {
		return nil, wifierr.Newf(wifierr.KindInvalidArgument,
			"pool start %s outside subnet %s/%d", pool, srv.Mask(mask), prefixLen)
	}

	start := binary.BigEndian.Uint32(pool)
	bcast := binary.BigEndian.Uint32(broadcastAddr(srv, prefixLen))
	if start >= bcast {
		return nil, wifierr.Newf(wifierr.KindInvalidArgument,
			"pool start %s leaves no usable addresses", pool)
	}

	return &leasePool{
		serverIP: srv,
		mask:     mask,
		start:    start,
		size:     int(bcast - start),
		leases:   make(map[string]net.IP),
	}, nil
}

func (p *leasePool) allocate(hw net.HardwareAddr) (net.IP, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := hw.String()
	if ip, ok := p.leases[key]; ok {
		return ip, true
	}
	if p.next >= p.size {
		return nil, false
	}

	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, p.start+uint32(p.next))
	p.next++
	p.leases[key] = ip
	return ip, true
}

func (p *leasePool) release(hw net.HardwareAddr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.leases, hw.String())
}

// handle is the server4 request handler.
func (p *leasePool) handle(conn net.PacketConn, peer net.Addr, req *dhcpv4.DHCPv4) {
	if req == nil || req.OpCode != dhcpv4.OpcodeBootRequest {
		return
	}

	switch req.MessageType() {
	case dhcpv4.MessageTypeDiscover:
		ip, ok := p.allocate(req.ClientHWAddr)
		if !ok {
			logging.Warn("Lease pool exhausted", zap.String("client", req.ClientHWAddr.String()))
			return
		}
		p.send(conn, peer, req, dhcpv4.MessageTypeOffer, ip)

	case dhcpv4.MessageTypeRequest:
		ip, ok := p.allocate(req.ClientHWAddr)
		if !ok {
			p.send(conn, peer, req, dhcpv4.MessageTypeNak, nil)
			return
		}
		if want := requestedIP(req); want != nil && !want.Equal(ip) {
			p.send(conn, peer, req, dhcpv4.MessageTypeNak, nil)
			return
		}
		p.send(conn, peer, req, dhcpv4.MessageTypeAck, ip)

	case dhcpv4.MessageTypeRelease:
		p.release(req.ClientHWAddr)
	}
}

// requestedIP extracts the address the client asked for, from option 50
// or the ciaddr field for renewals.
func requestedIP(req *dhcpv4.DHCPv4) net.IP {
	if ip := req.RequestedIPAddress(); ip != nil && !ip.IsUnspecified() {
		return ip.To4()
	}
	if req.ClientIPAddr != nil && !req.ClientIPAddr.IsUnspecified() {
		return req.ClientIPAddr.To4()
	}
	return nil
}

func (p *leasePool) send(conn net.PacketConn, peer net.Addr, req *dhcpv4.DHCPv4, mt dhcpv4.MessageType, ip net.IP) {
	resp, err := dhcpv4.NewReplyFromRequest(req)
	if err != nil {
		logging.Warn("Failed to build DHCP reply", zap.Error(err))
		return
	}

	resp.UpdateOption(dhcpv4.OptMessageType(mt))
	resp.UpdateOption(dhcpv4.OptServerIdentifier(p.serverIP))
	if mt != dhcpv4.MessageTypeNak {
		resp.YourIPAddr = ip
		resp.ServerIPAddr = p.serverIP
		resp.UpdateOption(dhcpv4.OptIPAddressLeaseTime(leaseDuration))
		resp.UpdateOption(dhcpv4.OptSubnetMask(p.mask))
		resp.UpdateOption(dhcpv4.OptRouter(p.serverIP))
		resp.UpdateOption(dhcpv4.OptDNS(p.serverIP))
	}

	if _, err := conn.WriteTo(resp.ToBytes(), peer); err != nil {
		logging.Warn("Failed to send DHCP reply", zap.Error(err))
	}

	logging.Debug("DHCP reply sent",
		zap.String("type", mt.String()),
		zap.String("client", req.ClientHWAddr.String()),
		zap.String("address", ip.String()),
	)
}
