// Typed message bodies and their encode/decode logic. Every body is a fixed
// layout except the two list responses, which carry repeated records.
//
// Decoding is explicit and bounds-checked field by field: every length prefix
// is validated against both the remaining buffer and the field capacity before
// the payload is touched, and a violation aborts the decode with ErrMalformed
// and no side effects.
package protocol

import (
	"encoding/binary"
	"errors"
)

// ErrMalformed reports a body that failed a bounds check during decode.
var ErrMalformed = errors.New("protocol: malformed message body")

// Message is one typed protocol body.
type Message interface {
	Kind() Kind
	// EncodeBody renders the body bytes. Strings longer than their bound are
	// truncated, never corrupted, so encoding cannot fail.
	EncodeBody() []byte
	// DecodeBody parses the body bytes. Trailing bytes beyond the fixed layout
	// are ignored.
	DecodeBody(body []byte) error
}

// decoder is a bounds-checked cursor over a message body.
type decoder struct {
	buf []byte
	off int
}

func (d *decoder) remaining() int { return len(d.buf) - d.off }

func (d *decoder) u8() (uint8, error) {
	if d.remaining() < 1 {
		return 0, ErrMalformed
	}
	v := d.buf[d.off]
	d.off++
	return v, nil
}

func (d *decoder) u16() (uint16, error) {
	if d.remaining() < 2 {
		return 0, ErrMalformed
	}
	v := binary.BigEndian.Uint16(d.buf[d.off:])
	d.off += 2
	return v, nil
}

func (d *decoder) u32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, ErrMalformed
	}
	v := binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

// str reads a u8 length prefix followed by a fixed-capacity byte field and
// returns the first length bytes. The prefix must fit inside the field.
func (d *decoder) str(field int) (string, error) {
	n, err := d.u8()
	if err != nil {
		return "", err
	}
	if int(n) >= field || d.remaining() < field {
		return "", ErrMalformed
	}
	s := string(d.buf[d.off : d.off+int(n)])
	d.off += field
	return s, nil
}

// strU16 is str with a u16 length prefix, used for chat bodies.
func (d *decoder) strU16(field int) (string, error) {
	n, err := d.u16()
	if err != nil {
		return "", err
	}
	if int(n) >= field || d.remaining() < field {
		return "", ErrMalformed
	}
	s := string(d.buf[d.off : d.off+int(n)])
	d.off += field
	return s, nil
}

// varStr reads a u8 length prefix followed by exactly that many bytes, the
// form used inside the variable list responses.
func (d *decoder) varStr(max int) (string, error) {
	n, err := d.u8()
	if err != nil {
		return "", err
	}
	if int(n) > max || d.remaining() < int(n) {
		return "", ErrMalformed
	}
	s := string(d.buf[d.off : d.off+int(n)])
	d.off += int(n)
	return s, nil
}

// fixedStr reads a NUL-padded fixed-width field with no length prefix,
// used for the multicast address.
func (d *decoder) fixedStr(field int) (string, error) {
	if d.remaining() < field {
		return "", ErrMalformed
	}
	raw := d.buf[d.off : d.off+field]
	d.off += field
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i]), nil
		}
	}
	return string(raw), nil
}

// encoder builds a message body. Fields are appended in wire order.
type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8)  { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16) {
	e.buf = binary.BigEndian.AppendUint16(e.buf, v)
}
func (e *encoder) u32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

// str writes a u8 length prefix and a zero-padded fixed-capacity field,
// truncating s to the field bound.
func (e *encoder) str(s string, field int) {
	if len(s) >= field {
		s = s[:field-1]
	}
	e.u8(uint8(len(s)))
	e.buf = append(e.buf, s...)
	e.pad(field - len(s))
}

func (e *encoder) strU16(s string, field int) {
	if len(s) >= field {
		s = s[:field-1]
	}
	e.u16(uint16(len(s)))
	e.buf = append(e.buf, s...)
	e.pad(field - len(s))
}

func (e *encoder) varStr(s string, max int) {
	if len(s) > max {
		s = s[:max]
	}
	e.u8(uint8(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) fixedStr(s string, field int) {
	if len(s) > field {
		s = s[:field]
	}
	e.buf = append(e.buf, s...)
	e.pad(field - len(s))
}

func (e *encoder) pad(n int) {
	e.buf = append(e.buf, make([]byte, n)...)
}

// LoginRequest asks the server to open a session. Credentials are not
// verified; any non-empty username is granted a session.
type LoginRequest struct {
	Username string
	Password string
}

func (m *LoginRequest) Kind() Kind { return KindLoginRequest }

func (m *LoginRequest) EncodeBody() []byte {
	var e encoder
	e.str(m.Username, usernameField)
	e.str(m.Password, passwordField)
	return e.buf
}

func (m *LoginRequest) DecodeBody(body []byte) error {
	d := decoder{buf: body}
	user, err := d.str(usernameField)
	if err != nil {
		return err
	}
	pass, err := d.str(passwordField)
	if err != nil {
		return err
	}
	m.Username, m.Password = user, pass
	return nil
}

// LoginResponse answers a login request. Success is KindLoginSuccess with a
// non-zero token; failure is KindLoginFailed with a reason.
type LoginResponse struct {
	Success   bool
	Token     uint32
	ErrorCode uint8
	ErrorMsg  string
}

func (m *LoginResponse) Kind() Kind {
	if m.Success {
		return KindLoginSuccess
	}
	return KindLoginFailed
}

func (m *LoginResponse) EncodeBody() []byte {
	var e encoder
	e.u32(m.Token)
	e.u8(m.ErrorCode)
	e.str(m.ErrorMsg, shortErrField)
	return e.buf
}

func (m *LoginResponse) DecodeBody(body []byte) error {
	d := decoder{buf: body}
	token, err := d.u32()
	if err != nil {
		return err
	}
	code, err := d.u8()
	if err != nil {
		return err
	}
	msg, err := d.str(shortErrField)
	if err != nil {
		return err
	}
	m.Token, m.ErrorCode, m.ErrorMsg = token, code, msg
	m.Success = code == LoginOK
	return nil
}

// CreateRoomRequest asks the server to allocate a new room. The creator is
// not joined automatically.
type CreateRoomRequest struct {
	Token    uint32
	RoomName string
	Password string
	MaxUsers uint8
}

func (m *CreateRoomRequest) Kind() Kind { return KindCreateRoomRequest }

func (m *CreateRoomRequest) EncodeBody() []byte {
	var e encoder
	e.u32(m.Token)
	e.str(m.RoomName, roomNameField)
	e.str(m.Password, passwordField)
	e.u8(m.MaxUsers)
	return e.buf
}

func (m *CreateRoomRequest) DecodeBody(body []byte) error {
	d := decoder{buf: body}
	token, err := d.u32()
	if err != nil {
		return err
	}
	name, err := d.str(roomNameField)
	if err != nil {
		return err
	}
	pass, err := d.str(passwordField)
	if err != nil {
		return err
	}
	maxUsers, err := d.u8()
	if err != nil {
		return err
	}
	m.Token, m.RoomName, m.Password, m.MaxUsers = token, name, pass, maxUsers
	return nil
}

// CreateRoomResponse carries the new room descriptor, multicast coordinates
// included, or a failure reason.
type CreateRoomResponse struct {
	Success       bool
	Token         uint32
	RoomID        uint16
	RoomName      string
	MulticastAddr string
	MulticastPort uint16
	ErrorCode     uint8
	ErrorMsg      string
}

func (m *CreateRoomResponse) Kind() Kind {
	if m.Success {
		return KindCreateRoomSuccess
	}
	return KindCreateRoomFailed
}

func (m *CreateRoomResponse) EncodeBody() []byte {
	var e encoder
	e.u32(m.Token)
	e.u16(m.RoomID)
	e.str(m.RoomName, roomNameField)
	e.fixedStr(m.MulticastAddr, multicastField)
	e.u16(m.MulticastPort)
	e.u8(m.ErrorCode)
	e.str(m.ErrorMsg, shortErrField)
	return e.buf
}

func (m *CreateRoomResponse) DecodeBody(body []byte) error {
	d := decoder{buf: body}
	token, err := d.u32()
	if err != nil {
		return err
	}
	roomID, err := d.u16()
	if err != nil {
		return err
	}
	name, err := d.str(roomNameField)
	if err != nil {
		return err
	}
	addr, err := d.fixedStr(multicastField)
	if err != nil {
		return err
	}
	port, err := d.u16()
	if err != nil {
		return err
	}
	code, err := d.u8()
	if err != nil {
		return err
	}
	msg, err := d.str(shortErrField)
	if err != nil {
		return err
	}
	m.Token, m.RoomID, m.RoomName = token, roomID, name
	m.MulticastAddr, m.MulticastPort = addr, port
	m.ErrorCode, m.ErrorMsg = code, msg
	m.Success = code == RoomOK
	return nil
}

// JoinRoomRequest asks to join an existing room by exact name.
type JoinRoomRequest struct {
	Token    uint32
	RoomName string
	Password string
}

func (m *JoinRoomRequest) Kind() Kind { return KindJoinRoomRequest }

func (m *JoinRoomRequest) EncodeBody() []byte {
	var e encoder
	e.u32(m.Token)
	e.str(m.RoomName, roomNameField)
	e.str(m.Password, passwordField)
	return e.buf
}

func (m *JoinRoomRequest) DecodeBody(body []byte) error {
	d := decoder{buf: body}
	token, err := d.u32()
	if err != nil {
		return err
	}
	name, err := d.str(roomNameField)
	if err != nil {
		return err
	}
	pass, err := d.str(passwordField)
	if err != nil {
		return err
	}
	m.Token, m.RoomName, m.Password = token, name, pass
	return nil
}

// JoinRoomResponse carries the joined room's multicast coordinates on
// success so the caller can subscribe to the group.
type JoinRoomResponse struct {
	Success       bool
	Token         uint32
	RoomID        uint16
	MulticastAddr string
	MulticastPort uint16
	ErrorCode     uint8
	ErrorMsg      string
}

func (m *JoinRoomResponse) Kind() Kind {
	if m.Success {
		return KindJoinRoomSuccess
	}
	return KindJoinRoomFailed
}

func (m *JoinRoomResponse) EncodeBody() []byte {
	var e encoder
	e.u32(m.Token)
	e.u16(m.RoomID)
	e.fixedStr(m.MulticastAddr, multicastField)
	e.u16(m.MulticastPort)
	e.u8(m.ErrorCode)
	e.str(m.ErrorMsg, shortErrField)
	return e.buf
}

func (m *JoinRoomResponse) DecodeBody(body []byte) error {
	d := decoder{buf: body}
	token, err := d.u32()
	if err != nil {
		return err
	}
	roomID, err := d.u16()
	if err != nil {
		return err
	}
	addr, err := d.fixedStr(multicastField)
	if err != nil {
		return err
	}
	port, err := d.u16()
	if err != nil {
		return err
	}
	code, err := d.u8()
	if err != nil {
		return err
	}
	msg, err := d.str(shortErrField)
	if err != nil {
		return err
	}
	m.Token, m.RoomID = token, roomID
	m.MulticastAddr, m.MulticastPort = addr, port
	m.ErrorCode, m.ErrorMsg = code, msg
	m.Success = code == RoomOK
	return nil
}

// LeaveRoomRequest asks to leave the caller's current room.
type LeaveRoomRequest struct {
	Token uint32
}

func (m *LeaveRoomRequest) Kind() Kind { return KindLeaveRoomRequest }

func (m *LeaveRoomRequest) EncodeBody() []byte {
	var e encoder
	e.u32(m.Token)
	return e.buf
}

func (m *LeaveRoomRequest) DecodeBody(body []byte) error {
	d := decoder{buf: body}
	token, err := d.u32()
	if err != nil {
		return err
	}
	m.Token = token
	return nil
}

// LeaveRoomResponse acknowledges a leave request.
type LeaveRoomResponse struct {
	Token     uint32
	ErrorCode uint8
	ErrorMsg  string
}

func (m *LeaveRoomResponse) Kind() Kind { return KindLeaveRoomResponse }

func (m *LeaveRoomResponse) EncodeBody() []byte {
	var e encoder
	e.u32(m.Token)
	e.u8(m.ErrorCode)
	e.str(m.ErrorMsg, shortErrField)
	return e.buf
}

func (m *LeaveRoomResponse) DecodeBody(body []byte) error {
	d := decoder{buf: body}
	token, err := d.u32()
	if err != nil {
		return err
	}
	code, err := d.u8()
	if err != nil {
		return err
	}
	msg, err := d.str(shortErrField)
	if err != nil {
		return err
	}
	m.Token, m.ErrorCode, m.ErrorMsg = token, code, msg
	return nil
}

// ChatMessage is both the chat submission and the fan-out datagram; the
// server rewrites Sender from the authenticated session before publishing.
type ChatMessage struct {
	Token  uint32
	RoomID uint16
	Sender string
	Body   string
}

func (m *ChatMessage) Kind() Kind { return KindChatMessage }

func (m *ChatMessage) EncodeBody() []byte {
	var e encoder
	e.u32(m.Token)
	e.u16(m.RoomID)
	e.str(m.Sender, usernameField)
	e.strU16(m.Body, bodyField)
	return e.buf
}

func (m *ChatMessage) DecodeBody(body []byte) error {
	d := decoder{buf: body}
	token, err := d.u32()
	if err != nil {
		return err
	}
	roomID, err := d.u16()
	if err != nil {
		return err
	}
	sender, err := d.str(usernameField)
	if err != nil {
		return err
	}
	text, err := d.strU16(bodyField)
	if err != nil {
		return err
	}
	m.Token, m.RoomID, m.Sender, m.Body = token, roomID, sender, text
	return nil
}

// PrivateMessage is both the submission and the forwarded copy; the server
// rewrites Sender before forwarding to the target's control connection.
type PrivateMessage struct {
	Token  uint32
	Sender string
	Target string
	Body   string
}

func (m *PrivateMessage) Kind() Kind { return KindPrivateMessage }

func (m *PrivateMessage) EncodeBody() []byte {
	var e encoder
	e.u32(m.Token)
	e.str(m.Sender, usernameField)
	e.str(m.Target, usernameField)
	e.strU16(m.Body, bodyField)
	return e.buf
}

func (m *PrivateMessage) DecodeBody(body []byte) error {
	d := decoder{buf: body}
	token, err := d.u32()
	if err != nil {
		return err
	}
	sender, err := d.str(usernameField)
	if err != nil {
		return err
	}
	target, err := d.str(usernameField)
	if err != nil {
		return err
	}
	text, err := d.strU16(bodyField)
	if err != nil {
		return err
	}
	m.Token, m.Sender, m.Target, m.Body = token, sender, target, text
	return nil
}

// UserNotification announces a member joining or leaving a room. It is
// published to the room's multicast group.
type UserNotification struct {
	Joined   bool
	Username string
	RoomID   uint16
}

func (m *UserNotification) Kind() Kind {
	if m.Joined {
		return KindUserJoinedRoom
	}
	return KindUserLeftRoom
}

func (m *UserNotification) EncodeBody() []byte {
	var e encoder
	e.str(m.Username, usernameField)
	e.u16(m.RoomID)
	return e.buf
}

func (m *UserNotification) DecodeBody(body []byte) error {
	d := decoder{buf: body}
	user, err := d.str(usernameField)
	if err != nil {
		return err
	}
	roomID, err := d.u16()
	if err != nil {
		return err
	}
	m.Username, m.RoomID = user, roomID
	return nil
}

// Keepalive refreshes the session's last-activity time. The server echoes it.
type Keepalive struct {
	Token uint32
}

func (m *Keepalive) Kind() Kind { return KindKeepalive }

func (m *Keepalive) EncodeBody() []byte {
	var e encoder
	e.u32(m.Token)
	return e.buf
}

func (m *Keepalive) DecodeBody(body []byte) error {
	d := decoder{buf: body}
	token, err := d.u32()
	if err != nil {
		return err
	}
	m.Token = token
	return nil
}

// DisconnectRequest asks for a graceful session teardown.
type DisconnectRequest struct {
	Token uint32
}

func (m *DisconnectRequest) Kind() Kind { return KindDisconnectRequest }

func (m *DisconnectRequest) EncodeBody() []byte {
	var e encoder
	e.u32(m.Token)
	return e.buf
}

func (m *DisconnectRequest) DecodeBody(body []byte) error {
	d := decoder{buf: body}
	token, err := d.u32()
	if err != nil {
		return err
	}
	m.Token = token
	return nil
}

// DisconnectResponse acknowledges a disconnect request before the server
// closes the connection.
type DisconnectResponse struct {
	Token   uint32
	Status  uint8
	Goodbye string
}

func (m *DisconnectResponse) Kind() Kind { return KindDisconnectSuccess }

func (m *DisconnectResponse) EncodeBody() []byte {
	var e encoder
	e.u32(m.Token)
	e.u8(m.Status)
	e.str(m.Goodbye, goodbyeField)
	return e.buf
}

func (m *DisconnectResponse) DecodeBody(body []byte) error {
	d := decoder{buf: body}
	token, err := d.u32()
	if err != nil {
		return err
	}
	status, err := d.u8()
	if err != nil {
		return err
	}
	goodbye, err := d.str(goodbyeField)
	if err != nil {
		return err
	}
	m.Token, m.Status, m.Goodbye = token, status, goodbye
	return nil
}

// ErrorMessage is the generic typed failure response for operations that
// have no dedicated failure kind.
type ErrorMessage struct {
	ErrorCode uint8
	ErrorMsg  string
}

func (m *ErrorMessage) Kind() Kind { return KindErrorMessage }

func (m *ErrorMessage) EncodeBody() []byte {
	var e encoder
	e.u8(m.ErrorCode)
	e.str(m.ErrorMsg, errorField)
	return e.buf
}

func (m *ErrorMessage) DecodeBody(body []byte) error {
	d := decoder{buf: body}
	code, err := d.u8()
	if err != nil {
		return err
	}
	msg, err := d.str(errorField)
	if err != nil {
		return err
	}
	m.ErrorCode, m.ErrorMsg = code, msg
	return nil
}

// RoomListRequest asks for the active room listing.
type RoomListRequest struct {
	Token uint32
}

func (m *RoomListRequest) Kind() Kind { return KindRoomListRequest }

func (m *RoomListRequest) EncodeBody() []byte {
	var e encoder
	e.u32(m.Token)
	return e.buf
}

func (m *RoomListRequest) DecodeBody(body []byte) error {
	d := decoder{buf: body}
	token, err := d.u32()
	if err != nil {
		return err
	}
	m.Token = token
	return nil
}

// RoomListEntry is one record in a room list response.
type RoomListEntry struct {
	RoomID      uint16
	Name        string
	UserCount   uint8
	HasPassword bool
}

// RoomListResponse carries a variable number of room records.
type RoomListResponse struct {
	Rooms []RoomListEntry
}

func (m *RoomListResponse) Kind() Kind { return KindRoomListResponse }

func (m *RoomListResponse) EncodeBody() []byte {
	var e encoder
	e.u8(uint8(len(m.Rooms)))
	for _, room := range m.Rooms {
		e.u16(room.RoomID)
		e.varStr(room.Name, MaxRoomNameLen)
		e.u8(room.UserCount)
		if room.HasPassword {
			e.u8(1)
		} else {
			e.u8(0)
		}
	}
	return e.buf
}

func (m *RoomListResponse) DecodeBody(body []byte) error {
	d := decoder{buf: body}
	count, err := d.u8()
	if err != nil {
		return err
	}
	rooms := make([]RoomListEntry, 0, count)
	for i := 0; i < int(count); i++ {
		roomID, err := d.u16()
		if err != nil {
			return err
		}
		name, err := d.varStr(MaxRoomNameLen)
		if err != nil {
			return err
		}
		users, err := d.u8()
		if err != nil {
			return err
		}
		hasPassword, err := d.u8()
		if err != nil {
			return err
		}
		rooms = append(rooms, RoomListEntry{
			RoomID:      roomID,
			Name:        name,
			UserCount:   users,
			HasPassword: hasPassword != 0,
		})
	}
	m.Rooms = rooms
	return nil
}

// UserListRequest asks for online users. RoomID 0 means all online users;
// a non-zero ID lists the members of that room.
type UserListRequest struct {
	Token  uint32
	RoomID uint16
}

func (m *UserListRequest) Kind() Kind { return KindUserListRequest }

func (m *UserListRequest) EncodeBody() []byte {
	var e encoder
	e.u32(m.Token)
	e.u16(m.RoomID)
	return e.buf
}

func (m *UserListRequest) DecodeBody(body []byte) error {
	d := decoder{buf: body}
	token, err := d.u32()
	if err != nil {
		return err
	}
	roomID, err := d.u16()
	if err != nil {
		return err
	}
	m.Token, m.RoomID = token, roomID
	return nil
}

// UserListResponse carries a variable number of usernames.
type UserListResponse struct {
	Users []string
}

func (m *UserListResponse) Kind() Kind { return KindUserListResponse }

func (m *UserListResponse) EncodeBody() []byte {
	var e encoder
	e.u8(uint8(len(m.Users)))
	for _, user := range m.Users {
		e.varStr(user, MaxUsernameLen)
	}
	return e.buf
}

func (m *UserListResponse) DecodeBody(body []byte) error {
	d := decoder{buf: body}
	count, err := d.u8()
	if err != nil {
		return err
	}
	users := make([]string, 0, count)
	for i := 0; i < int(count); i++ {
		user, err := d.varStr(MaxUsernameLen)
		if err != nil {
			return err
		}
		users = append(users, user)
	}
	m.Users = users
	return nil
}
