// Package server drives one worker per connected client: the read loop with
// its state-dependent idle deadline, message dispatch, and the one-shot
// session teardown.
package server

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TomerKal7/Chat-Room-Project/internal/protocol"
)

// serveSession is the per-client worker. It owns the session: one message in
// flight at a time, and the sole authority over this session's idle timeout.
func (s *Server) serveSession(sess *Session) {
	defer s.wg.Done()

	log := s.log.WithFields(logrus.Fields{
		"slot":   sess.slot,
		"remote": sess.RemoteAddr(),
	})

	for {
		if err := sess.conn.SetReadDeadline(time.Now().Add(s.readBudget(sess))); err != nil {
			s.teardown(sess, "connection unusable")
			return
		}

		frame, err := protocol.ReadFrame(sess.conn)
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrFraming):
				// Unframeable garbage: drop the header bytes and retry at
				// the next boundary. Not a disconnect.
				log.Debug("dropping unframeable input")
				continue
			case isTimeout(err):
				log.Info("session idle timeout")
				s.emit(Event{Type: EventTimeout, Slot: sess.slot, Username: s.usernameOf(sess)})
				s.teardown(sess, "idle timeout")
				return
			case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
				log.Info("client closed connection")
				s.teardown(sess, "eof")
				return
			default:
				log.WithError(err).Info("read failed")
				s.teardown(sess, "read error")
				return
			}
		}

		s.touch(sess)

		if done := s.dispatch(sess, frame); done {
			s.teardown(sess, "disconnect requested")
			return
		}
	}
}

// readBudget picks the idle budget for the session's current state. The
// authenticating phase gets the coarser budget since interactive login is
// slower than steady-state traffic.
func (s *Server) readBudget(sess *Session) time.Duration {
	s.sessionMu.Lock()
	state := sess.state
	s.sessionMu.Unlock()

	if state == StateAuthenticating {
		return s.cfg.AuthTimeout
	}
	return s.cfg.IdleTimeout
}

// touch refreshes last-activity on any received message.
func (s *Server) touch(sess *Session) {
	s.sessionMu.Lock()
	sess.lastActivity = time.Now()
	s.sessionMu.Unlock()
}

func (s *Server) usernameOf(sess *Session) string {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return sess.username
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// teardown releases everything a session holds: its room membership first,
// then its table slot, then the connection. It runs exactly once per
// session no matter how many paths race into it.
func (s *Server) teardown(sess *Session, reason string) {
	s.sessionMu.Lock()
	if sess.torndown {
		s.sessionMu.Unlock()
		return
	}
	sess.torndown = true

	username := sess.username
	wasInRoom := sess.state == StateInRoom && sess.roomID != 0
	roomID := sess.roomID

	var left Room
	var hadRoom, closedRoom bool
	if wasInRoom {
		s.roomMu.Lock()
		if room := s.rooms.leave(roomID); room != nil {
			left = *room
			hadRoom = true
			closedRoom = !room.Active
		}
		s.roomMu.Unlock()
	}

	s.sessions.free(sess)
	s.sessionMu.Unlock()

	_ = sess.conn.Close()

	s.log.WithFields(logrus.Fields{
		"slot":     sess.slot,
		"username": username,
		"reason":   reason,
	}).Info("session closed")

	if hadRoom && username != "" {
		s.publishNotification(&left, &protocol.UserNotification{
			Joined:   false,
			Username: username,
			RoomID:   left.ID,
		})
		s.emit(Event{Type: EventLeave, Slot: sess.slot, Username: username, Room: left.Name, RoomID: left.ID})
		if closedRoom {
			s.emit(Event{Type: EventRoomClosed, Slot: sess.slot, Room: left.Name, RoomID: left.ID})
		}
	}
	if username != "" {
		s.emit(Event{Type: EventLogout, Slot: sess.slot, Username: username, Detail: reason})
	}
}

// publishNotification sends a join/leave announcement to the room's group.
// Best-effort, like all fan-out traffic.
func (s *Server) publishNotification(room *Room, note *protocol.UserNotification) {
	frame := protocol.Marshal(note)
	if err := s.publisher.Publish(room.MulticastAddr, room.MulticastPort, frame); err != nil {
		s.log.WithError(err).Debug("notification publish failed")
	}
}
