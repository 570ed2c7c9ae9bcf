package server

import (
	"bytes"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomerKal7/Chat-Room-Project/internal/protocol"
)

// capturePublisher records fan-out traffic instead of touching the network.
type capturePublisher struct {
	mu     sync.Mutex
	frames []publishedFrame
}

type publishedFrame struct {
	addr    string
	port    uint16
	payload []byte
}

func (p *capturePublisher) Publish(addr string, port uint16, frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	payload := make([]byte, len(frame))
	copy(payload, frame)
	p.frames = append(p.frames, publishedFrame{addr: addr, port: port, payload: payload})
	return nil
}

func (p *capturePublisher) Close() error { return nil }

// waitFor polls for the first published frame of the given kind.
func (p *capturePublisher) waitFor(t *testing.T, kind protocol.Kind) (publishedFrame, *protocol.Frame) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		for _, pub := range p.frames {
			frame, err := protocol.ReadFrame(bytes.NewReader(pub.payload))
			if err == nil && frame.Kind == kind {
				p.mu.Unlock()
				return pub, frame
			}
		}
		p.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no published frame of kind %s", kind)
	return publishedFrame{}, nil
}

func startTestServer(t *testing.T, mutate func(*Config)) (*Server, *capturePublisher) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.MonitorAddr = ""
	if mutate != nil {
		mutate(cfg)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	pub := &capturePublisher{}
	srv := newWithPublisher(cfg, log, pub)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Shutdown(2 * time.Second) })
	return srv, pub
}

// testClient drives the control channel the way a real client would.
type testClient struct {
	t     *testing.T
	conn  net.Conn
	token uint32
}

func dialServer(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(msg protocol.Message) {
	c.t.Helper()
	require.NoError(c.t, protocol.Write(c.conn, msg))
}

func (c *testClient) read() *protocol.Frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	frame, err := protocol.ReadFrame(c.conn)
	require.NoError(c.t, err)
	return frame
}

func (c *testClient) roundTrip(msg protocol.Message) *protocol.Frame {
	c.t.Helper()
	c.send(msg)
	return c.read()
}

func (c *testClient) login(username string) {
	c.t.Helper()
	frame := c.roundTrip(&protocol.LoginRequest{Username: username, Password: "pw"})
	require.Equal(c.t, protocol.KindLoginSuccess, frame.Kind)

	var resp protocol.LoginResponse
	require.NoError(c.t, resp.DecodeBody(frame.Body))
	require.NotEqual(c.t, protocol.InvalidToken, resp.Token)
	c.token = resp.Token
}

func (c *testClient) createRoom(name, password string, maxUsers uint8) *protocol.CreateRoomResponse {
	c.t.Helper()
	frame := c.roundTrip(&protocol.CreateRoomRequest{
		Token:    c.token,
		RoomName: name,
		Password: password,
		MaxUsers: maxUsers,
	})
	var resp protocol.CreateRoomResponse
	require.NoError(c.t, resp.DecodeBody(frame.Body))
	return &resp
}

func (c *testClient) joinRoom(name, password string) *protocol.JoinRoomResponse {
	c.t.Helper()
	frame := c.roundTrip(&protocol.JoinRoomRequest{Token: c.token, RoomName: name, Password: password})
	var resp protocol.JoinRoomResponse
	require.NoError(c.t, resp.DecodeBody(frame.Body))
	return &resp
}

func (c *testClient) leaveRoom() *protocol.LeaveRoomResponse {
	c.t.Helper()
	frame := c.roundTrip(&protocol.LeaveRoomRequest{Token: c.token})
	require.Equal(c.t, protocol.KindLeaveRoomResponse, frame.Kind)
	var resp protocol.LeaveRoomResponse
	require.NoError(c.t, resp.DecodeBody(frame.Body))
	return &resp
}

func (c *testClient) roomList() []protocol.RoomListEntry {
	c.t.Helper()
	frame := c.roundTrip(&protocol.RoomListRequest{Token: c.token})
	require.Equal(c.t, protocol.KindRoomListResponse, frame.Kind)
	var resp protocol.RoomListResponse
	require.NoError(c.t, resp.DecodeBody(frame.Body))
	return resp.Rooms
}

func (c *testClient) userList(roomID uint16) []string {
	c.t.Helper()
	frame := c.roundTrip(&protocol.UserListRequest{Token: c.token, RoomID: roomID})
	require.Equal(c.t, protocol.KindUserListResponse, frame.Kind)
	var resp protocol.UserListResponse
	require.NoError(c.t, resp.DecodeBody(frame.Body))
	return resp.Users
}

func TestLoginIssuesDistinctTokens(t *testing.T) {
	srv, _ := startTestServer(t, nil)

	alice := dialServer(t, srv)
	alice.login("alice")
	bob := dialServer(t, srv)
	bob.login("bob")

	assert.NotEqual(t, alice.token, bob.token)
}

func TestLoginRejectsEmptyUsername(t *testing.T) {
	srv, _ := startTestServer(t, nil)
	c := dialServer(t, srv)

	frame := c.roundTrip(&protocol.LoginRequest{Username: ""})
	assert.Equal(t, protocol.KindLoginFailed, frame.Kind)

	var resp protocol.LoginResponse
	require.NoError(t, resp.DecodeBody(frame.Body))
	assert.Equal(t, uint8(protocol.LoginInvalidUsername), resp.ErrorCode)

	// The session is still usable for a second attempt.
	c.login("alice")
}

func TestRoomLifecycle(t *testing.T) {
	srv, pub := startTestServer(t, nil)

	alice := dialServer(t, srv)
	alice.login("alice")

	created := alice.createRoom("gophers", "", 5)
	require.True(t, created.Success)
	assert.Equal(t, uint16(1), created.RoomID)
	assert.Equal(t, "224.1.1.1", created.MulticastAddr)
	assert.Equal(t, uint16(9001), created.MulticastPort)

	// Creating does not join: the room exists with no members.
	assert.Empty(t, alice.userList(created.RoomID))

	joined := alice.joinRoom("gophers", "")
	require.True(t, joined.Success)
	assert.Equal(t, created.RoomID, joined.RoomID)

	_, note := pub.waitFor(t, protocol.KindUserJoinedRoom)
	var joinNote protocol.UserNotification
	require.NoError(t, joinNote.DecodeBody(note.Body))
	assert.Equal(t, "alice", joinNote.Username)
	assert.Equal(t, created.RoomID, joinNote.RoomID)

	rooms := alice.roomList()
	require.Len(t, rooms, 1)
	assert.Equal(t, "gophers", rooms[0].Name)
	assert.Equal(t, uint8(1), rooms[0].UserCount)

	bob := dialServer(t, srv)
	bob.login("bob")
	require.True(t, bob.joinRoom("gophers", "").Success)
	assert.ElementsMatch(t, []string{"alice", "bob"}, bob.userList(created.RoomID))

	// Chat fan-out goes to the room's group with the authenticated sender.
	alice.send(&protocol.ChatMessage{Token: alice.token, Body: "hello room"})
	chatPub, chatFrame := pub.waitFor(t, protocol.KindChatMessage)
	assert.Equal(t, created.MulticastAddr, chatPub.addr)
	assert.Equal(t, created.MulticastPort, chatPub.port)

	var chat protocol.ChatMessage
	require.NoError(t, chat.DecodeBody(chatFrame.Body))
	assert.Equal(t, "alice", chat.Sender)
	assert.Equal(t, created.RoomID, chat.RoomID)
	assert.Equal(t, "hello room", chat.Body)
	assert.Equal(t, protocol.InvalidToken, chat.Token, "fan-out copies carry no session token")

	// The room survives the first leave and closes on the last.
	assert.Equal(t, uint8(protocol.RoomOK), alice.leaveRoom().ErrorCode)
	require.Len(t, bob.roomList(), 1)
	assert.Equal(t, uint8(protocol.RoomOK), bob.leaveRoom().ErrorCode)
	assert.Empty(t, bob.roomList())

	// The name is free for reuse, on the same slot.
	again := bob.createRoom("gophers", "", 5)
	require.True(t, again.Success)
	assert.Equal(t, created.RoomID, again.RoomID)
}

func TestJoinFailureLeavesStateUnchanged(t *testing.T) {
	srv, _ := startTestServer(t, nil)

	alice := dialServer(t, srv)
	alice.login("alice")
	require.True(t, alice.createRoom("guarded", "s3cret", 5).Success)

	bob := dialServer(t, srv)
	bob.login("bob")

	denied := bob.joinRoom("guarded", "wrong")
	require.False(t, denied.Success)
	assert.Equal(t, uint8(protocol.RoomWrongPassword), denied.ErrorCode)

	// The failed join left bob out of the room and able to try again.
	assert.Empty(t, bob.userList(1))
	require.True(t, bob.joinRoom("guarded", "s3cret").Success)
}

func TestJoinUnknownRoom(t *testing.T) {
	srv, _ := startTestServer(t, nil)

	c := dialServer(t, srv)
	c.login("alice")

	denied := c.joinRoom("nowhere", "")
	require.False(t, denied.Success)
	assert.Equal(t, uint8(protocol.RoomNotFound), denied.ErrorCode)
}

func TestChatOutsideRoomRejected(t *testing.T) {
	srv, _ := startTestServer(t, nil)

	c := dialServer(t, srv)
	c.login("alice")

	frame := c.roundTrip(&protocol.ChatMessage{Token: c.token, Body: "void"})
	require.Equal(t, protocol.KindErrorMessage, frame.Kind)

	var resp protocol.ErrorMessage
	require.NoError(t, resp.DecodeBody(frame.Body))
	assert.Equal(t, uint8(protocol.ErrCodeBadState), resp.ErrorCode)
}

func TestStaleTokenRejected(t *testing.T) {
	srv, _ := startTestServer(t, nil)

	c := dialServer(t, srv)
	c.login("alice")

	frame := c.roundTrip(&protocol.CreateRoomRequest{Token: c.token + 1, RoomName: "x", MaxUsers: 5})
	require.Equal(t, protocol.KindErrorMessage, frame.Kind)

	var resp protocol.ErrorMessage
	require.NoError(t, resp.DecodeBody(frame.Body))
	assert.Equal(t, uint8(protocol.ErrCodeBadToken), resp.ErrorCode)
}

func TestChatRateLimit(t *testing.T) {
	srv, _ := startTestServer(t, func(cfg *Config) {
		cfg.ChatBurst = 2
		cfg.ChatRefillInterval = time.Minute
	})

	c := dialServer(t, srv)
	c.login("alice")
	require.True(t, c.createRoom("room", "", 5).Success)
	require.True(t, c.joinRoom("room", "").Success)

	c.send(&protocol.ChatMessage{Token: c.token, Body: "one"})
	c.send(&protocol.ChatMessage{Token: c.token, Body: "two"})
	frame := c.roundTrip(&protocol.ChatMessage{Token: c.token, Body: "three"})

	require.Equal(t, protocol.KindErrorMessage, frame.Kind)
	var resp protocol.ErrorMessage
	require.NoError(t, resp.DecodeBody(frame.Body))
	assert.Equal(t, uint8(protocol.ErrCodeRateLimited), resp.ErrorCode)
}

func TestPrivateMessageForwarding(t *testing.T) {
	srv, _ := startTestServer(t, nil)

	alice := dialServer(t, srv)
	alice.login("alice")
	bob := dialServer(t, srv)
	bob.login("bob")

	alice.send(&protocol.PrivateMessage{Token: alice.token, Target: "bob", Body: "psst"})

	frame := bob.read()
	require.Equal(t, protocol.KindPrivateMessage, frame.Kind)

	var pm protocol.PrivateMessage
	require.NoError(t, pm.DecodeBody(frame.Body))
	assert.Equal(t, "alice", pm.Sender, "sender is the authenticated identity")
	assert.Equal(t, "psst", pm.Body)
}

func TestPrivateMessageToUnknownUser(t *testing.T) {
	srv, _ := startTestServer(t, nil)

	c := dialServer(t, srv)
	c.login("alice")

	frame := c.roundTrip(&protocol.PrivateMessage{Token: c.token, Target: "nobody", Body: "hi"})
	require.Equal(t, protocol.KindErrorMessage, frame.Kind)

	var resp protocol.ErrorMessage
	require.NoError(t, resp.DecodeBody(frame.Body))
	assert.Equal(t, uint8(protocol.ErrCodeNoSuchUser), resp.ErrorCode)
}

func TestPrivateMessageToSelfRejected(t *testing.T) {
	srv, _ := startTestServer(t, nil)

	c := dialServer(t, srv)
	c.login("alice")

	frame := c.roundTrip(&protocol.PrivateMessage{Token: c.token, Target: "alice", Body: "hi me"})
	require.Equal(t, protocol.KindErrorMessage, frame.Kind)

	var resp protocol.ErrorMessage
	require.NoError(t, resp.DecodeBody(frame.Body))
	assert.Equal(t, uint8(protocol.ErrCodeNoSuchUser), resp.ErrorCode)
}

func TestKeepaliveEcho(t *testing.T) {
	srv, _ := startTestServer(t, nil)

	c := dialServer(t, srv)
	c.login("alice")

	frame := c.roundTrip(&protocol.Keepalive{Token: c.token})
	require.Equal(t, protocol.KindKeepalive, frame.Kind)

	var resp protocol.Keepalive
	require.NoError(t, resp.DecodeBody(frame.Body))
	assert.Equal(t, c.token, resp.Token)
}

func TestGracefulDisconnect(t *testing.T) {
	srv, _ := startTestServer(t, nil)

	c := dialServer(t, srv)
	c.login("alice")

	frame := c.roundTrip(&protocol.DisconnectRequest{Token: c.token})
	require.Equal(t, protocol.KindDisconnectSuccess, frame.Kind)

	// The server closes the connection after the goodbye.
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := protocol.ReadFrame(c.conn)
	assert.Error(t, err)
}

func TestServerFullRejectsConnection(t *testing.T) {
	srv, _ := startTestServer(t, func(cfg *Config) {
		cfg.MaxClients = 1
	})

	first := dialServer(t, srv)
	first.login("alice")

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// The rejected connection is closed without any traffic.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = protocol.ReadFrame(conn)
	assert.Error(t, err)
}

func TestGarbageHeaderDoesNotKillSession(t *testing.T) {
	srv, _ := startTestServer(t, nil)

	c := dialServer(t, srv)
	c.login("alice")

	// A header declaring an impossible length is dropped; the session
	// survives and the next well-formed frame is handled.
	garbage := []byte{0xff, 0xff, 0x00, 0x02, 0x00, 0x00, 0x00, 0x00}
	_, err := c.conn.Write(garbage)
	require.NoError(t, err)

	frame := c.roundTrip(&protocol.Keepalive{Token: c.token})
	assert.Equal(t, protocol.KindKeepalive, frame.Kind)
}

func TestIdleTimeoutReleasesRoomMembership(t *testing.T) {
	srv, pub := startTestServer(t, func(cfg *Config) {
		cfg.IdleTimeout = 150 * time.Millisecond
		cfg.AuthTimeout = time.Second
	})

	alice := dialServer(t, srv)
	alice.login("alice")
	require.True(t, alice.createRoom("ephemeral", "", 5).Success)
	require.True(t, alice.joinRoom("ephemeral", "").Success)

	// Go silent past the idle budget; the server expires the session and
	// releases the membership, closing the now-empty room.
	_, note := pub.waitFor(t, protocol.KindUserLeftRoom)
	var leftNote protocol.UserNotification
	require.NoError(t, leftNote.DecodeBody(note.Body))
	assert.Equal(t, "alice", leftNote.Username)

	require.NoError(t, alice.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := protocol.ReadFrame(alice.conn)
	assert.Error(t, err, "the expired session's connection must be closed")

	bob := dialServer(t, srv)
	bob.login("bob")
	assert.Empty(t, bob.roomList())
}

func TestShutdownClosesSessions(t *testing.T) {
	srv, _ := startTestServer(t, nil)

	c := dialServer(t, srv)
	c.login("alice")

	require.NoError(t, srv.Shutdown(2*time.Second))

	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := protocol.ReadFrame(c.conn)
	assert.Error(t, err)
}
