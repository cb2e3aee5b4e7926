// Package netif configures IP addressing for the provisioning access
// point. It assigns the fixed AP address over rtnetlink and runs a
// DHCPv4 server handing out a small lease pool to joining clients. The
// service is best-effort: it needs the interface address in place and a
// privileged socket, so failure to start is reported as Unavailable and
// never treated as fatal.
package netif

import (
	"fmt"
	"net"
	"sync"
	"syscall"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"
	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	"go.uber.org/zap"

	"github.com/picoprov/picoprov/internal/logging"
	"github.com/picoprov/picoprov/internal/wifierr"
)

// Netlink message types (from syscall)
const (
	rtmNewLink = syscall.RTM_NEWLINK // 16
	rtmDelLink = syscall.RTM_DELLINK // 17
	rtmNewAddr = syscall.RTM_NEWADDR // 20
	rtmDelAddr = syscall.RTM_DELADDR // 21
)

// LinkEvent reports an interface link or address change.
type LinkEvent struct {
	Removed bool
	Type    uint16
}

// ifaceAddr records an address assigned through AssignAddress; the
// address service derives its DHCP options from it.
type ifaceAddr struct {
	ip        net.IP
	prefixLen uint8
}

// Manager owns the netlink connections used for address configuration
// and the DHCP server for AP clients.
type Manager struct {
	rtConn *rtnetlink.Conn
	conn   *netlink.Conn
	stopCh chan struct{}

	mu    sync.Mutex
	addrs map[string]ifaceAddr
	dhcp  *server4.Server
}

// New dials the rtnetlink socket for address operations and a raw
// netlink socket subscribed to link and IPv4 address groups.
func New() (*Manager, error) {
	conn, err := netlink.Dial(syscall.NETLINK_ROUTE, &netlink.Config{
		Groups: 0x1 | 0x10, // RTMGRP_LINK | RTMGRP_IPV4_IFADDR
	})
	if err != nil {
		return nil, wifierr.Wrap(wifierr.KindIO, "failed to dial netlink", err)
	}

	rtConn, err := rtnetlink.Dial(nil)
	if err != nil {
		conn.Close()
		return nil, wifierr.Wrap(wifierr.KindIO, "failed to dial rtnetlink", err)
	}

	return &Manager{
		rtConn: rtConn,
		conn:   conn,
		stopCh: make(chan struct{}),
		addrs:  make(map[string]ifaceAddr),
	}, nil
}

// Close stops the address service and closes the netlink connections.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.dhcp != nil {
		m.dhcp.Close()
		m.dhcp = nil
	}
	m.mu.Unlock()

	close(m.stopCh)
	m.conn.Close()
	m.rtConn.Close()
}

// AssignAddress adds a static IPv4 address with the given prefix length
// to the named interface.
func (m *Manager) AssignAddress(ifname string, ip net.IP, prefixLen uint8) error {
	index, err := m.linkIndex(ifname)
	if err != nil {
		return err
	}

	ip4 := ip.To4()
	if ip4 == nil {
		return wifierr.Newf(wifierr.KindInvalidArgument, "not an IPv4 address: %s", ip)
	}

	bcast := broadcastAddr(ip4, prefixLen)
	err = m.rtConn.Address.New(&rtnetlink.AddressMessage{
		Family:       syscall.AF_INET,
		PrefixLength: prefixLen,
		Index:        index,
		Attributes: &rtnetlink.AddressAttributes{
			Address:   ip4,
			Local:     ip4,
			Broadcast: bcast,
		},
	})
	if err != nil {
		return wifierr.Wrap(wifierr.KindIO,
			fmt.Sprintf("failed to add address %s/%d to %s", ip4, prefixLen, ifname), err)
	}

	m.mu.Lock()
	m.addrs[ifname] = ifaceAddr{ip: ip4, prefixLen: prefixLen}
	m.mu.Unlock()

	logging.Info("Interface address assigned",
		zap.String("interface", ifname),
		zap.String("address", fmt.Sprintf("%s/%d", ip4, prefixLen)),
	)
	return nil
}

// StartAddressService starts a DHCPv4 server on the named interface
// with a client pool beginning at poolStart. The interface address must
// have been assigned first; it becomes the router, DNS, and server
// identifier in every lease. Startup failure is reported as Unavailable
// so callers log the degraded path and continue, and clients configure
// a static address in the AP subnet instead.
func (m *Manager) StartAddressService(ifname string, poolStart net.IP) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dhcp != nil {
		return wifierr.New(wifierr.KindAlreadyActive, "address service already running")
	}

	addr, ok := m.addrs[ifname]
	if !ok {
		return wifierr.Newf(wifierr.KindUnavailable, "no address configured on %s", ifname)
	}

	pool, err := newLeasePool(addr.ip, addr.prefixLen, poolStart)
	if err != nil {
		return err
	}

	laddr := &net.UDPAddr{IP: net.IPv4zero, Port: dhcpv4.ServerPort}
	srv, err := server4.NewServer(ifname, laddr, pool.handle)
	if err != nil {
		return wifierr.Wrap(wifierr.KindUnavailable,
			fmt.Sprintf("failed to start address service on %s", ifname), err)
	}
	m.dhcp = srv

	go func() {
		if err := srv.Serve(); err != nil {
			logging.Debug("Address service stopped", zap.Error(err))
		}
	}()

	logging.Info("Address service started",
		zap.String("interface", ifname),
		zap.String("pool", poolStart.String()),
	)
	return nil
}

// StopAddressService stops the DHCP server if one is running.
func (m *Manager) StopAddressService(ifname string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dhcp == nil {
		return nil
	}
	err := m.dhcp.Close()
	m.dhcp = nil
	if err != nil {
		return wifierr.Wrap(wifierr.KindIO, "failed to stop address service", err)
	}

	logging.Info("Address service stopped", zap.String("interface", ifname))
	return nil
}

// Watch delivers link and IPv4 address change events to fn until the
// manager is closed. It blocks and is intended to run on its own
// goroutine.
func (m *Manager) Watch(fn func(LinkEvent)) {
	for {
		select {
		case <-m.stopCh:
			return
		default:
			msgs, err := m.conn.Receive()
			if err != nil {
				select {
				case <-m.stopCh:
					return
				default:
				}
				logging.Warn("Netlink receive error", zap.Error(err))
				continue
			}

			for _, msg := range msgs {
				switch msg.Header.Type {
				case rtmNewLink, rtmNewAddr:
					fn(LinkEvent{Removed: false, Type: uint16(msg.Header.Type)})
				case rtmDelLink, rtmDelAddr:
					fn(LinkEvent{Removed: true, Type: uint16(msg.Header.Type)})
				}
			}
		}
	}
}

func (m *Manager) linkIndex(ifname string) (uint32, error) {
	links, err := m.rtConn.Link.List()
	if err != nil {
		return 0, wifierr.Wrap(wifierr.KindIO, "failed to list links", err)
	}
	for _, link := range links {
		if link.Attributes != nil && link.Attributes.Name == ifname {
			return link.Index, nil
		}
	}
	return 0, wifierr.Newf(wifierr.KindNoDevice, "no such interface: %s", ifname)
}

func broadcastAddr(ip net.IP, prefixLen uint8) net.IP {
	mask := net.CIDRMask(int(prefixLen), 32)
	out := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		out[i] = ip[i] | ^mask[i]
	}
	return out
}
