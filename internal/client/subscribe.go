package client

import (
	"bytes"
	"net"
	"strconv"
	"sync"

	"github.com/samber/oops"

	"github.com/TomerKal7/Chat-Room-Project/internal/protocol"
)

// Subscription receives one room's fan-out traffic from its multicast group.
// Chat carries room messages, Notes carries join/leave announcements. Both
// channels close when the subscription closes.
type Subscription struct {
	conn *net.UDPConn

	Chat  chan *protocol.ChatMessage
	Notes chan *protocol.UserNotification

	closeOnce sync.Once
}

// Subscribe joins the multicast group a create or join response named and
// starts delivering its datagrams.
func Subscribe(info *RoomInfo) (*Subscription, error) {
	group, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(info.MulticastAddr, strconv.Itoa(int(info.MulticastPort))))
	if err != nil {
		return nil, oops.Wrapf(err, "resolving multicast group for room %q", info.Name)
	}

	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return nil, oops.Wrapf(err, "joining multicast group %s", group)
	}
	_ = conn.SetReadBuffer(64 * 1024)

	sub := &Subscription{
		conn:  conn,
		Chat:  make(chan *protocol.ChatMessage, 32),
		Notes: make(chan *protocol.UserNotification, 8),
	}
	go sub.readLoop()
	return sub, nil
}

// Close leaves the group. The channels close once the read loop drains.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// readLoop decodes one frame per datagram. Anything that does not parse is
// dropped; the group is an open broadcast medium.
func (s *Subscription) readLoop() {
	defer close(s.Chat)
	defer close(s.Notes)

	buf := make([]byte, protocol.MaxFrameSize)
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		frame, err := protocol.ReadFrame(bytes.NewReader(buf[:n]))
		if err != nil {
			continue
		}

		switch frame.Kind {
		case protocol.KindChatMessage:
			var msg protocol.ChatMessage
			if msg.DecodeBody(frame.Body) == nil {
				select {
				case s.Chat <- &msg:
				default:
				}
			}
		case protocol.KindUserJoinedRoom, protocol.KindUserLeftRoom:
			var note protocol.UserNotification
			if note.DecodeBody(frame.Body) == nil {
				select {
				case s.Notes <- &note:
				default:
				}
			}
		}
	}
}
