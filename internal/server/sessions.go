// Package server tracks client sessions: the fixed-capacity session table,
// the per-client state machine, token issuance, and activity bookkeeping.
package server

import (
	"net"
	"sync"
	"time"

	"github.com/TomerKal7/Chat-Room-Project/internal/protocol"
)

// SessionState is the per-client connection state machine.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateAuthenticating
	StateConnected
	// StateJoiningRoom is reserved as a transient marker; joins are applied
	// atomically, so no session is ever observed in this state.
	StateJoiningRoom
	StateInRoom
)

// String returns a human-readable name for the state.
func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateConnected:
		return "CONNECTED"
	case StateJoiningRoom:
		return "JOINING_ROOM"
	case StateInRoom:
		return "IN_ROOM"
	default:
		return "UNKNOWN"
	}
}

// Session is the server-side record of one connected client. Exactly one
// worker goroutine owns a session; its fields are mutated under the server's
// session lock because listing, private delivery, and the monitor read them
// from other goroutines.
type Session struct {
	conn net.Conn
	slot int

	state        SessionState
	token        uint32
	username     string
	roomID       uint16 // 0 = not in any room
	lastActivity time.Time

	limiter *rateLimiter

	// writeMu serializes control-channel writes: the owning worker and a
	// private-message forwarder may both write to this connection.
	writeMu sync.Mutex

	// torndown guards the one-shot teardown; set under the session lock.
	torndown bool
}

// RemoteAddr reports the peer address for logging.
func (s *Session) RemoteAddr() string {
	if s.conn == nil {
		return "unknown"
	}
	return s.conn.RemoteAddr().String()
}

// SessionTable is the fixed-capacity session arena.
//
// Like the room registry, the table does no locking of its own: callers hold
// the server's session lock.
type SessionTable struct {
	slots     []*Session
	nextToken uint32
}

// NewSessionTable builds a table of maxClients free slots.
func NewSessionTable(maxClients int) *SessionTable {
	return &SessionTable{
		slots:     make([]*Session, maxClients),
		nextToken: uint32(time.Now().Unix()),
	}
}

// allocate claims a free slot for a new connection in AUTHENTICATING state.
// It returns nil when the table is full.
func (t *SessionTable) allocate(conn net.Conn, limiter *rateLimiter) *Session {
	for i, s := range t.slots {
		if s != nil {
			continue
		}
		sess := &Session{
			conn:         conn,
			slot:         i,
			state:        StateAuthenticating,
			lastActivity: time.Now(),
			limiter:      limiter,
		}
		t.slots[i] = sess
		return sess
	}
	return nil
}

// free releases the session's slot. The caller closes the connection.
func (t *SessionTable) free(sess *Session) {
	if sess.slot >= 0 && sess.slot < len(t.slots) && t.slots[sess.slot] == sess {
		t.slots[sess.slot] = nil
	}
	sess.state = StateDisconnected
	sess.token = protocol.InvalidToken
	sess.roomID = 0
}

// issueToken returns a fresh token: never the reserved zero value and never
// colliding with a token held by any currently-active session.
func (t *SessionTable) issueToken() uint32 {
	for {
		t.nextToken++
		candidate := t.nextToken
		if candidate == protocol.InvalidToken {
			continue
		}
		taken := false
		for _, s := range t.slots {
			if s != nil && s.token == candidate {
				taken = true
				break
			}
		}
		if !taken {
			return candidate
		}
	}
}

// authenticate moves an AUTHENTICATING session to CONNECTED under the given
// username and issues its token.
func (t *SessionTable) authenticate(sess *Session, username string) (uint32, *Failure) {
	if sess.state != StateAuthenticating {
		return protocol.InvalidToken, &Failure{
			Code:   protocol.LoginInvalidUsername,
			Reason: "already logged in",
		}
	}
	if len(username) == 0 || len(username) > protocol.MaxUsernameLen {
		return protocol.InvalidToken, &Failure{
			Code:   protocol.LoginInvalidUsername,
			Reason: "invalid username",
		}
	}
	sess.username = username
	sess.token = t.issueToken()
	sess.state = StateConnected
	sess.roomID = 0
	return sess.token, nil
}

// findByUsername returns the lowest-numbered active session with the exact
// username that is in CONNECTED or IN_ROOM state.
func (t *SessionTable) findByUsername(username string) *Session {
	for _, s := range t.slots {
		if s == nil {
			continue
		}
		if s.username == username && (s.state == StateConnected || s.state == StateInRoom) {
			return s
		}
	}
	return nil
}

// users lists usernames of logged-in sessions; roomID 0 means everyone,
// otherwise only members of that room.
func (t *SessionTable) users(roomID uint16) []string {
	names := make([]string, 0, len(t.slots))
	for _, s := range t.slots {
		if s == nil || s.username == "" {
			continue
		}
		if s.state != StateConnected && s.state != StateInRoom {
			continue
		}
		if roomID != 0 && !(s.state == StateInRoom && s.roomID == roomID) {
			continue
		}
		names = append(names, s.username)
	}
	return names
}

// membersOf counts sessions currently joined to the given room.
func (t *SessionTable) membersOf(roomID uint16) int {
	n := 0
	for _, s := range t.slots {
		if s != nil && s.state == StateInRoom && s.roomID == roomID {
			n++
		}
	}
	return n
}

// active counts occupied slots.
func (t *SessionTable) active() int {
	n := 0
	for _, s := range t.slots {
		if s != nil {
			n++
		}
	}
	return n
}

// all returns the occupied slots, for shutdown sweeps.
func (t *SessionTable) all() []*Session {
	sessions := make([]*Session, 0, len(t.slots))
	for _, s := range t.slots {
		if s != nil {
			sessions = append(sessions, s)
		}
	}
	return sessions
}
