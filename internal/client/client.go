// Package client implements the chat protocol from the caller's side: the
// control connection for requests and responses, and the multicast
// subscription for a joined room's fan-out traffic.
package client

import (
	"net"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/TomerKal7/Chat-Room-Project/internal/protocol"
)

// RoomInfo is the descriptor a successful create or join returns, multicast
// coordinates included.
type RoomInfo struct {
	ID            uint16
	Name          string
	MulticastAddr string
	MulticastPort uint16
}

// Client is one control-channel connection to the chat server.
//
// Requests are synchronous: one request/response exchange at a time.
// Traffic the server pushes without being asked (forwarded private messages,
// generic errors) is surfaced through the callbacks, which fire from the
// read loop goroutine.
type Client struct {
	conn net.Conn

	mu        sync.Mutex
	token     uint32
	username  string
	onPrivate func(*protocol.PrivateMessage)
	onError   func(*protocol.ErrorMessage)

	responses chan *protocol.Frame
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the server's control channel and starts the read loop.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, oops.Wrapf(err, "dialing chat server %s", addr)
	}

	c := &Client{
		conn:      conn,
		responses: make(chan *protocol.Frame, 8),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// OnPrivate registers the handler for forwarded private messages. The
// handler fires on the read loop goroutine.
func (c *Client) OnPrivate(fn func(*protocol.PrivateMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPrivate = fn
}

// OnError registers the handler for generic server errors not tied to a
// pending request.
func (c *Client) OnError(fn func(*protocol.ErrorMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// Token returns the session token issued at login.
func (c *Client) Token() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Username returns the name this session logged in under.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// readLoop routes inbound frames: pushed traffic goes to callbacks,
// everything else is treated as the response to the pending request.
func (c *Client) readLoop() {
	for {
		frame, err := protocol.ReadFrame(c.conn)
		if err != nil {
			close(c.responses)
			return
		}

		switch frame.Kind {
		case protocol.KindPrivateMessage:
			var pm protocol.PrivateMessage
			c.mu.Lock()
			fn := c.onPrivate
			c.mu.Unlock()
			if pm.DecodeBody(frame.Body) == nil && fn != nil {
				fn(&pm)
			}
		case protocol.KindKeepalive:
			// Echo of our own keepalive.
		case protocol.KindErrorMessage:
			var em protocol.ErrorMessage
			c.mu.Lock()
			fn := c.onError
			c.mu.Unlock()
			if em.DecodeBody(frame.Body) == nil && fn != nil {
				fn(&em)
			}
		default:
			select {
			case c.responses <- frame:
			case <-c.done:
				return
			}
		}
	}
}

// request writes msg and waits for the next response frame.
func (c *Client) request(msg protocol.Message) (*protocol.Frame, error) {
	if err := protocol.Write(c.conn, msg); err != nil {
		return nil, err
	}
	select {
	case frame, ok := <-c.responses:
		if !ok {
			return nil, oops.Errorf("connection closed")
		}
		return frame, nil
	case <-time.After(10 * time.Second):
		return nil, oops.Errorf("timed out waiting for %s response", msg.Kind())
	case <-c.done:
		return nil, oops.Errorf("connection closed")
	}
}

// Login opens the session. Any non-empty username is accepted by the server;
// the password travels but is not verified.
func (c *Client) Login(username, password string) error {
	frame, err := c.request(&protocol.LoginRequest{Username: username, Password: password})
	if err != nil {
		return err
	}

	var resp protocol.LoginResponse
	if err := resp.DecodeBody(frame.Body); err != nil {
		return oops.Wrapf(err, "decoding login response")
	}
	if !resp.Success || frame.Kind == protocol.KindLoginFailed {
		return oops.Errorf("login failed: %s", resp.ErrorMsg)
	}

	c.mu.Lock()
	c.token = resp.Token
	c.username = username
	c.mu.Unlock()
	return nil
}

// CreateRoom allocates a room. The caller is not joined automatically.
func (c *Client) CreateRoom(name, password string, maxUsers int) (*RoomInfo, error) {
	frame, err := c.request(&protocol.CreateRoomRequest{
		Token:    c.Token(),
		RoomName: name,
		Password: password,
		MaxUsers: uint8(maxUsers),
	})
	if err != nil {
		return nil, err
	}

	var resp protocol.CreateRoomResponse
	if err := resp.DecodeBody(frame.Body); err != nil {
		return nil, oops.Wrapf(err, "decoding create-room response")
	}
	if !resp.Success {
		return nil, oops.Errorf("create room failed: %s", resp.ErrorMsg)
	}
	return &RoomInfo{
		ID:            resp.RoomID,
		Name:          resp.RoomName,
		MulticastAddr: resp.MulticastAddr,
		MulticastPort: resp.MulticastPort,
	}, nil
}

// JoinRoom joins an existing room by exact name and returns its multicast
// coordinates for subscribing.
func (c *Client) JoinRoom(name, password string) (*RoomInfo, error) {
	frame, err := c.request(&protocol.JoinRoomRequest{
		Token:    c.Token(),
		RoomName: name,
		Password: password,
	})
	if err != nil {
		return nil, err
	}

	var resp protocol.JoinRoomResponse
	if err := resp.DecodeBody(frame.Body); err != nil {
		return nil, oops.Wrapf(err, "decoding join-room response")
	}
	if !resp.Success {
		return nil, oops.Errorf("join room failed: %s", resp.ErrorMsg)
	}
	return &RoomInfo{
		ID:            resp.RoomID,
		Name:          name,
		MulticastAddr: resp.MulticastAddr,
		MulticastPort: resp.MulticastPort,
	}, nil
}

// LeaveRoom leaves the current room.
func (c *Client) LeaveRoom() error {
	frame, err := c.request(&protocol.LeaveRoomRequest{Token: c.Token()})
	if err != nil {
		return err
	}

	var resp protocol.LeaveRoomResponse
	if err := resp.DecodeBody(frame.Body); err != nil {
		return oops.Wrapf(err, "decoding leave-room response")
	}
	if resp.ErrorCode != protocol.RoomOK {
		return oops.Errorf("leave room failed: %s", resp.ErrorMsg)
	}
	return nil
}

// SendChat submits a chat message for fan-out to the current room. There is
// no acknowledgement; failures surface via OnError.
func (c *Client) SendChat(body string) error {
	return protocol.Write(c.conn, &protocol.ChatMessage{
		Token:  c.Token(),
		Sender: c.Username(),
		Body:   body,
	})
}

// SendPrivate submits a private message to the named user.
func (c *Client) SendPrivate(target, body string) error {
	return protocol.Write(c.conn, &protocol.PrivateMessage{
		Token:  c.Token(),
		Sender: c.Username(),
		Target: target,
		Body:   body,
	})
}

// RoomList fetches the active rooms.
func (c *Client) RoomList() ([]protocol.RoomListEntry, error) {
	frame, err := c.request(&protocol.RoomListRequest{Token: c.Token()})
	if err != nil {
		return nil, err
	}

	var resp protocol.RoomListResponse
	if err := resp.DecodeBody(frame.Body); err != nil {
		return nil, oops.Wrapf(err, "decoding room list")
	}
	return resp.Rooms, nil
}

// UserList fetches online users; roomID 0 means everyone.
func (c *Client) UserList(roomID uint16) ([]string, error) {
	frame, err := c.request(&protocol.UserListRequest{Token: c.Token(), RoomID: roomID})
	if err != nil {
		return nil, err
	}

	var resp protocol.UserListResponse
	if err := resp.DecodeBody(frame.Body); err != nil {
		return nil, oops.Wrapf(err, "decoding user list")
	}
	return resp.Users, nil
}

// Disconnect asks for a graceful teardown and closes the connection.
func (c *Client) Disconnect() error {
	_, err := c.request(&protocol.DisconnectRequest{Token: c.Token()})
	cerr := c.Close()
	if err != nil {
		return err
	}
	return cerr
}

// StartKeepalive sends a keepalive on every tick until the client closes.
func (c *Client) StartKeepalive(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := protocol.Write(c.conn, &protocol.Keepalive{Token: c.Token()}); err != nil {
					return
				}
			case <-c.done:
				return
			}
		}
	}()
}
