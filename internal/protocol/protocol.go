// Package protocol implements the chat service wire protocol.
//
// Protocol overview:
//   - TCP-based client-server control channel plus a UDP multicast data channel
//   - Every message has an 8-byte header: kind (2 bytes), total length including
//     the header (2 bytes), Unix timestamp (4 bytes)
//   - All numeric fields are big-endian
//   - Strings travel as a length prefix followed by a fixed-capacity byte field;
//     only the first len bytes are meaningful, trailing bytes are ignored
//
// The codec is pure: it holds no state and performs no I/O beyond the frame
// reader/writer in framing.go.
package protocol

// Kind identifies a message type on the wire.
type Kind uint16

// Message kinds. The numeric values are part of the wire format.
const (
	KindLoginRequest Kind = 0x0001
	KindLoginSuccess Kind = 0x0002
	KindLoginFailed  Kind = 0x0003

	KindJoinRoomRequest Kind = 0x0010
	KindJoinRoomSuccess Kind = 0x0011
	KindJoinRoomFailed  Kind = 0x0012

	KindLeaveRoomRequest  Kind = 0x0020
	KindLeaveRoomResponse Kind = 0x0021

	KindCreateRoomRequest Kind = 0x0030
	KindCreateRoomSuccess Kind = 0x0032
	KindCreateRoomFailed  Kind = 0x0033

	KindChatMessage    Kind = 0x0040
	KindPrivateMessage Kind = 0x0050

	KindUserJoinedRoom Kind = 0x0060
	KindUserLeftRoom   Kind = 0x0061

	KindKeepalive         Kind = 0x0070
	KindDisconnectRequest Kind = 0x0080
	KindDisconnectSuccess Kind = 0x0081

	KindErrorMessage Kind = 0x0090

	KindRoomListRequest  Kind = 0x00A0
	KindRoomListResponse Kind = 0x00A1
	KindUserListRequest  Kind = 0x00B0
	KindUserListResponse Kind = 0x00B1
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindLoginRequest:
		return "LOGIN_REQUEST"
	case KindLoginSuccess:
		return "LOGIN_SUCCESS"
	case KindLoginFailed:
		return "LOGIN_FAILED"
	case KindJoinRoomRequest:
		return "JOIN_ROOM_REQUEST"
	case KindJoinRoomSuccess:
		return "JOIN_ROOM_SUCCESS"
	case KindJoinRoomFailed:
		return "JOIN_ROOM_FAILED"
	case KindLeaveRoomRequest:
		return "LEAVE_ROOM_REQUEST"
	case KindLeaveRoomResponse:
		return "LEAVE_ROOM_RESPONSE"
	case KindCreateRoomRequest:
		return "CREATE_ROOM_REQUEST"
	case KindCreateRoomSuccess:
		return "CREATE_ROOM_SUCCESS"
	case KindCreateRoomFailed:
		return "CREATE_ROOM_FAILED"
	case KindChatMessage:
		return "CHAT_MESSAGE"
	case KindPrivateMessage:
		return "PRIVATE_MESSAGE"
	case KindUserJoinedRoom:
		return "USER_JOINED_ROOM"
	case KindUserLeftRoom:
		return "USER_LEFT_ROOM"
	case KindKeepalive:
		return "KEEPALIVE"
	case KindDisconnectRequest:
		return "DISCONNECT_REQUEST"
	case KindDisconnectSuccess:
		return "DISCONNECT_SUCCESS"
	case KindErrorMessage:
		return "ERROR_MESSAGE"
	case KindRoomListRequest:
		return "ROOM_LIST_REQUEST"
	case KindRoomListResponse:
		return "ROOM_LIST_RESPONSE"
	case KindUserListRequest:
		return "USER_LIST_REQUEST"
	case KindUserListResponse:
		return "USER_LIST_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// Header and frame geometry.
const (
	// HeaderSize is the fixed size of the message header in bytes.
	HeaderSize = 8

	// MaxFrameSize bounds the total length a header may declare. The largest
	// legal frame is a full room-list response (20 records), well under this.
	MaxFrameSize = 2048
)

// String bounds. Each bound is one less than its fixed field capacity so the
// terminating semantics of the original protocol are preserved exactly.
const (
	MaxUsernameLen = 31
	MaxPasswordLen = 63
	MaxRoomNameLen = 63
	MaxBodyLen     = 511
	MaxErrorLen    = 255
	// MaxShortErrorLen bounds the error text embedded in typed responses.
	MaxShortErrorLen = 127
	// MaxGoodbyeLen bounds the optional text in a disconnect response.
	MaxGoodbyeLen = 63

	usernameField  = MaxUsernameLen + 1
	passwordField  = MaxPasswordLen + 1
	roomNameField  = MaxRoomNameLen + 1
	bodyField      = MaxBodyLen + 1
	errorField     = MaxErrorLen + 1
	shortErrField  = MaxShortErrorLen + 1
	goodbyeField   = MaxGoodbyeLen + 1
	multicastField = 16
)

// InvalidToken is the reserved session-token value meaning "no session".
const InvalidToken uint32 = 0

// Login error codes carried in login responses.
const (
	LoginOK              = 0
	LoginServerFull      = 3
	LoginInvalidUsername = 4
)

// Room error codes carried in join/create/leave responses.
const (
	RoomOK            = 0
	RoomNotFound      = 1
	RoomWrongPassword = 2
	RoomFull          = 3
	RoomNameExists    = 4
)

// Generic error codes carried in ERROR_MESSAGE frames.
const (
	ErrCodeBadState    = 1
	ErrCodeRateLimited = 2
	ErrCodeBadToken    = 3
	ErrCodeNoSuchUser  = 4
)
