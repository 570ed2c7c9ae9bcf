// Package server routes decoded control-channel messages to their handlers.
// Each handler validates session state and the request, mutates the shared
// tables under the fixed lock order, and answers with a typed response.
// Malformed bodies are dropped without a response or a state change.
package server

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TomerKal7/Chat-Room-Project/internal/protocol"
)

// dispatch decodes and handles one frame. It returns true when the session
// asked to disconnect.
func (s *Server) dispatch(sess *Session, frame *protocol.Frame) bool {
	switch frame.Kind {
	case protocol.KindLoginRequest:
		var req protocol.LoginRequest
		if !s.decode(sess, frame, &req) {
			return false
		}
		s.handleLogin(sess, &req)

	case protocol.KindCreateRoomRequest:
		var req protocol.CreateRoomRequest
		if !s.decode(sess, frame, &req) {
			return false
		}
		s.handleCreateRoom(sess, &req)

	case protocol.KindJoinRoomRequest:
		var req protocol.JoinRoomRequest
		if !s.decode(sess, frame, &req) {
			return false
		}
		s.handleJoinRoom(sess, &req)

	case protocol.KindLeaveRoomRequest:
		var req protocol.LeaveRoomRequest
		if !s.decode(sess, frame, &req) {
			return false
		}
		s.handleLeaveRoom(sess, &req)

	case protocol.KindChatMessage:
		var req protocol.ChatMessage
		if !s.decode(sess, frame, &req) {
			return false
		}
		s.handleChat(sess, &req)

	case protocol.KindPrivateMessage:
		var req protocol.PrivateMessage
		if !s.decode(sess, frame, &req) {
			return false
		}
		s.handlePrivate(sess, &req)

	case protocol.KindKeepalive:
		s.handleKeepalive(sess)

	case protocol.KindRoomListRequest:
		var req protocol.RoomListRequest
		if !s.decode(sess, frame, &req) {
			return false
		}
		s.handleRoomList(sess, &req)

	case protocol.KindUserListRequest:
		var req protocol.UserListRequest
		if !s.decode(sess, frame, &req) {
			return false
		}
		s.handleUserList(sess, &req)

	case protocol.KindDisconnectRequest:
		s.handleDisconnect(sess)
		return true

	default:
		s.log.WithFields(logrus.Fields{
			"slot": sess.slot,
			"kind": frame.Kind.String(),
		}).Debug("ignoring unexpected message kind")
	}
	return false
}

// decode parses a body and reports whether dispatch should proceed. A
// malformed body is a no-op by policy.
func (s *Server) decode(sess *Session, frame *protocol.Frame, msg protocol.Message) bool {
	if err := msg.DecodeBody(frame.Body); err != nil {
		s.log.WithFields(logrus.Fields{
			"slot": sess.slot,
			"kind": frame.Kind.String(),
		}).Debug("dropping malformed message")
		return false
	}
	return true
}

// send writes one response on the session's control connection, serialized
// against concurrent private-message forwards.
func (s *Server) send(sess *Session, msg protocol.Message) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	if err := sess.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return
	}
	if err := protocol.Write(sess.conn, msg); err != nil {
		s.log.WithFields(logrus.Fields{
			"slot": sess.slot,
			"kind": msg.Kind().String(),
		}).WithError(err).Debug("response write failed")
	}
}

func (s *Server) sendError(sess *Session, code uint8, reason string) {
	s.send(sess, &protocol.ErrorMessage{ErrorCode: code, ErrorMsg: reason})
}

// sessionView is a consistent copy of the volatile session fields.
func (s *Server) sessionView(sess *Session) (SessionState, uint32, string, uint16) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return sess.state, sess.token, sess.username, sess.roomID
}

// checkToken enforces that a protected request carries the session's live
// token. A stale or zero token draws a typed error and no state change.
func (s *Server) checkToken(sess *Session, token uint32) bool {
	_, live, _, _ := s.sessionView(sess)
	if token == protocol.InvalidToken || token != live {
		s.sendError(sess, protocol.ErrCodeBadToken, "invalid session token")
		return false
	}
	return true
}

func (s *Server) handleLogin(sess *Session, req *protocol.LoginRequest) {
	s.sessionMu.Lock()
	token, fail := s.sessions.authenticate(sess, req.Username)
	s.sessionMu.Unlock()

	if fail != nil {
		s.send(sess, &protocol.LoginResponse{
			Success:   false,
			ErrorCode: fail.Code,
			ErrorMsg:  fail.Reason,
		})
		return
	}

	s.log.WithFields(logrus.Fields{
		"slot":     sess.slot,
		"username": req.Username,
	}).Info("login")

	s.send(sess, &protocol.LoginResponse{Success: true, Token: token})
	s.emit(Event{Type: EventLogin, Slot: sess.slot, Username: req.Username})
}

func (s *Server) handleCreateRoom(sess *Session, req *protocol.CreateRoomRequest) {
	if !s.checkToken(sess, req.Token) {
		return
	}

	state, token, username, _ := s.sessionView(sess)
	if state != StateConnected {
		s.send(sess, &protocol.CreateRoomResponse{
			Success:   false,
			Token:     token,
			ErrorCode: protocol.RoomNotFound,
			ErrorMsg:  "not logged in or already in a room",
		})
		return
	}

	s.roomMu.Lock()
	room, fail := s.rooms.create(req.RoomName, req.Password, int(req.MaxUsers), s.cfg.MaxClients)
	var created Room
	if fail == nil {
		created = *room
	}
	s.roomMu.Unlock()

	if fail != nil {
		s.send(sess, &protocol.CreateRoomResponse{
			Success:   false,
			Token:     token,
			ErrorCode: fail.Code,
			ErrorMsg:  fail.Reason,
		})
		return
	}

	s.log.WithFields(logrus.Fields{
		"slot":     sess.slot,
		"room":     created.Name,
		"room_id":  created.ID,
		"capacity": created.MaxClients,
	}).Info("room created")

	// The creator is not joined automatically; joining is a separate step.
	s.send(sess, &protocol.CreateRoomResponse{
		Success:       true,
		Token:         token,
		RoomID:        created.ID,
		RoomName:      created.Name,
		MulticastAddr: created.MulticastAddr,
		MulticastPort: created.MulticastPort,
	})
	s.emit(Event{Type: EventRoomCreated, Slot: sess.slot, Username: username, Room: created.Name, RoomID: created.ID})
}

func (s *Server) handleJoinRoom(sess *Session, req *protocol.JoinRoomRequest) {
	if !s.checkToken(sess, req.Token) {
		return
	}

	// Membership and session state move together: both locks, fixed order.
	s.sessionMu.Lock()
	if sess.state != StateConnected {
		token := sess.token
		s.sessionMu.Unlock()
		s.send(sess, &protocol.JoinRoomResponse{
			Success:   false,
			Token:     token,
			ErrorCode: protocol.RoomNotFound,
			ErrorMsg:  "not logged in or already in a room",
		})
		return
	}
	token := sess.token
	username := sess.username

	s.roomMu.Lock()
	room, fail := s.rooms.join(req.RoomName, req.Password)
	var joined Room
	if fail == nil {
		joined = *room
		sess.state = StateInRoom
		sess.roomID = room.ID
	}
	s.roomMu.Unlock()
	s.sessionMu.Unlock()

	if fail != nil {
		s.send(sess, &protocol.JoinRoomResponse{
			Success:   false,
			Token:     token,
			ErrorCode: fail.Code,
			ErrorMsg:  fail.Reason,
		})
		return
	}

	s.log.WithFields(logrus.Fields{
		"slot":     sess.slot,
		"username": username,
		"room":     joined.Name,
		"room_id":  joined.ID,
	}).Info("joined room")

	s.send(sess, &protocol.JoinRoomResponse{
		Success:       true,
		Token:         token,
		RoomID:        joined.ID,
		MulticastAddr: joined.MulticastAddr,
		MulticastPort: joined.MulticastPort,
	})
	s.publishNotification(&joined, &protocol.UserNotification{
		Joined:   true,
		Username: username,
		RoomID:   joined.ID,
	})
	s.emit(Event{Type: EventJoin, Slot: sess.slot, Username: username, Room: joined.Name, RoomID: joined.ID})
}

func (s *Server) handleLeaveRoom(sess *Session, req *protocol.LeaveRoomRequest) {
	if !s.checkToken(sess, req.Token) {
		return
	}

	s.sessionMu.Lock()
	if sess.state != StateInRoom || sess.roomID == 0 {
		token := sess.token
		s.sessionMu.Unlock()
		s.send(sess, &protocol.LeaveRoomResponse{
			Token:     token,
			ErrorCode: protocol.RoomNotFound,
			ErrorMsg:  "not in a room",
		})
		return
	}
	token := sess.token
	username := sess.username
	roomID := sess.roomID

	s.roomMu.Lock()
	var left Room
	var hadRoom, closedRoom bool
	if room := s.rooms.leave(roomID); room != nil {
		left = *room
		hadRoom = true
		closedRoom = !room.Active
	}
	sess.state = StateConnected
	sess.roomID = 0
	s.roomMu.Unlock()
	s.sessionMu.Unlock()

	s.send(sess, &protocol.LeaveRoomResponse{Token: token, ErrorCode: protocol.RoomOK})

	if hadRoom {
		s.log.WithFields(logrus.Fields{
			"slot":     sess.slot,
			"username": username,
			"room":     left.Name,
			"room_id":  left.ID,
		}).Info("left room")

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
}

func (s *Server) handleChat(sess *Session, req *protocol.ChatMessage) {
	if !s.checkToken(sess, req.Token) {
		return
	}

	state, _, username, roomID := s.sessionView(sess)
	if state != StateInRoom || roomID == 0 {
		s.sendError(sess, protocol.ErrCodeBadState, "not in a room")
		return
	}

	if !sess.limiter.allow() {
		s.sendError(sess, protocol.ErrCodeRateLimited, "chat rate limit exceeded")
		return
	}

	s.roomMu.Lock()
	room := s.rooms.findByID(roomID)
	var target Room
	if room != nil {
		target = *room
	}
	s.roomMu.Unlock()
	if room == nil {
		s.sendError(sess, protocol.ErrCodeBadState, "room no longer active")
		return
	}

	// The client-supplied sender and room fields are not trusted; the fan-out
	// copy carries the authenticated identity and the session's actual room.
	out := &protocol.ChatMessage{
		RoomID: target.ID,
		Sender: username,
		Body:   req.Body,
	}
	if err := s.publisher.Publish(target.MulticastAddr, target.MulticastPort, protocol.Marshal(out)); err != nil {
		s.log.WithError(err).WithField("room", target.Name).Warn("chat publish failed")
		return
	}

	s.emit(Event{Type: EventChat, Slot: sess.slot, Username: username, Room: target.Name, RoomID: target.ID})
}

func (s *Server) handlePrivate(sess *Session, req *protocol.PrivateMessage) {
	if !s.checkToken(sess, req.Token) {
		return
	}

	state, _, username, _ := s.sessionView(sess)
	if state != StateConnected && state != StateInRoom {
		s.sendError(sess, protocol.ErrCodeBadState, "not logged in")
		return
	}

	s.sessionMu.Lock()
	target := s.sessions.findByUsername(req.Target)
	s.sessionMu.Unlock()

	if target == nil || target == sess {
		s.sendError(sess, protocol.ErrCodeNoSuchUser, "no such user")
		return
	}

	// Forward uses the submission shape with the sender rewritten.
	s.send(target, &protocol.PrivateMessage{
		Sender: username,
		Target: req.Target,
		Body:   req.Body,
	})
	s.emit(Event{Type: EventPrivate, Slot: sess.slot, Username: username, Detail: req.Target})
}

// handleKeepalive echoes the keepalive. Last-activity was already refreshed
// by the read loop; no state or login is required.
func (s *Server) handleKeepalive(sess *Session) {
	_, token, _, _ := s.sessionView(sess)
	s.send(sess, &protocol.Keepalive{Token: token})
}

func (s *Server) handleDisconnect(sess *Session) {
	_, token, _, _ := s.sessionView(sess)
	s.send(sess, &protocol.DisconnectResponse{
		Token:   token,
		Status:  0,
		Goodbye: "goodbye",
	})
	// The worker runs teardown after dispatch returns.
}

func (s *Server) handleRoomList(sess *Session, req *protocol.RoomListRequest) {
	if !s.checkToken(sess, req.Token) {
		return
	}

	s.roomMu.Lock()
	entries := s.rooms.snapshot()
	s.roomMu.Unlock()

	s.send(sess, &protocol.RoomListResponse{Rooms: entries})
}

func (s *Server) handleUserList(sess *Session, req *protocol.UserListRequest) {
	if !s.checkToken(sess, req.Token) {
		return
	}

	s.sessionMu.Lock()
	users := s.sessions.users(req.RoomID)
	s.sessionMu.Unlock()

	s.send(sess, &protocol.UserListResponse{Users: users})
}
