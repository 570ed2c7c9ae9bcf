// Package server publishes room-scoped fan-out traffic on one shared
// outbound datagram socket. The server never tracks which receivers are
// subscribed; delivery is best-effort by design of the transport.
package server

import (
	"net"

	"github.com/samber/oops"
	"golang.org/x/net/ipv4"
)

// ChatPublisher is the outbound side of the multicast distribution channel.
// Tests substitute a capture implementation.
type ChatPublisher interface {
	// Publish sends one already-marshaled frame to the given group.
	Publish(addr string, port uint16, frame []byte) error
	Close() error
}

// multicastPublisher is the production publisher: a single UDP socket whose
// datagrams are addressed per room group.
type multicastPublisher struct {
	conn *net.UDPConn
}

func newMulticastPublisher(ttl int) (*multicastPublisher, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, oops.Wrapf(err, "opening multicast publish socket")
	}

	// The stdlib UDPConn cannot set the multicast TTL; x/net can.
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(ttl); err != nil {
		_ = conn.Close()
		return nil, oops.Wrapf(err, "setting multicast TTL %d", ttl)
	}

	return &multicastPublisher{conn: conn}, nil
}

func (p *multicastPublisher) Publish(addr string, port uint16, frame []byte) error {
	group := net.ParseIP(addr)
	if group == nil {
		return oops.Errorf("bad multicast group address %q", addr)
	}
	dst := &net.UDPAddr{IP: group, Port: int(port)}
	if _, err := p.conn.WriteToUDP(frame, dst); err != nil {
		return oops.Wrapf(err, "publishing to %s", dst)
	}
	return nil
}

func (p *multicastPublisher) Close() error {
	return p.conn.Close()
}
