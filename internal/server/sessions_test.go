package server

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomerKal7/Chat-Room-Project/internal/protocol"
)

func TestSessionTableAllocatesUntilFull(t *testing.T) {
	table := NewSessionTable(2)

	first := table.allocate(nil, newRateLimiter(5, 0))
	require.NotNil(t, first)
	assert.Equal(t, StateAuthenticating, first.state)

	second := table.allocate(nil, newRateLimiter(5, 0))
	require.NotNil(t, second)
	assert.NotEqual(t, first.slot, second.slot)

	assert.Nil(t, table.allocate(nil, newRateLimiter(5, 0)), "full table must reject")

	table.free(first)
	assert.Equal(t, StateDisconnected, first.state)
	assert.NotNil(t, table.allocate(nil, newRateLimiter(5, 0)), "freed slot must be reusable")
}

func TestTokensAreNonZeroAndUnique(t *testing.T) {
	table := NewSessionTable(10)
	seen := make(map[uint32]bool)

	for i := 0; i < 10; i++ {
		sess := table.allocate(nil, newRateLimiter(5, 0))
		require.NotNil(t, sess)
		token, fail := table.authenticate(sess, "user")
		require.Nil(t, fail)
		assert.NotEqual(t, protocol.InvalidToken, token)
		assert.False(t, seen[token], "token %d issued twice", token)
		seen[token] = true
	}
}

func TestAuthenticateValidation(t *testing.T) {
	table := NewSessionTable(2)
	sess := table.allocate(nil, newRateLimiter(5, 0))

	_, fail := table.authenticate(sess, "")
	require.NotNil(t, fail)
	assert.Equal(t, uint8(protocol.LoginInvalidUsername), fail.Code)

	_, fail = table.authenticate(sess, strings.Repeat("x", protocol.MaxUsernameLen+1))
	require.NotNil(t, fail)

	_, fail = table.authenticate(sess, "alice")
	require.Nil(t, fail)
	assert.Equal(t, StateConnected, sess.state)

	// A second login on the same session is rejected.
	_, fail = table.authenticate(sess, "alice")
	require.NotNil(t, fail)
}

func TestUsersFiltering(t *testing.T) {
	table := NewSessionTable(5)

	alice := table.allocate(nil, newRateLimiter(5, 0))
	_, fail := table.authenticate(alice, "alice")
	require.Nil(t, fail)

	bob := table.allocate(nil, newRateLimiter(5, 0))
	_, fail = table.authenticate(bob, "bob")
	require.Nil(t, fail)

	// A session that never logged in is invisible.
	table.allocate(nil, newRateLimiter(5, 0))

	alice.state = StateInRoom
	alice.roomID = 3

	assert.ElementsMatch(t, []string{"alice", "bob"}, table.users(0))
	assert.Equal(t, []string{"alice"}, table.users(3))
	assert.Empty(t, table.users(9))
	assert.Equal(t, 1, table.membersOf(3))
}

func TestFindByUsernamePrefersLowestSlot(t *testing.T) {
	table := NewSessionTable(5)

	first := table.allocate(nil, newRateLimiter(5, 0))
	_, fail := table.authenticate(first, "dup")
	require.Nil(t, fail)

	second := table.allocate(nil, newRateLimiter(5, 0))
	_, fail = table.authenticate(second, "dup")
	require.Nil(t, fail)

	found := table.findByUsername("dup")
	require.NotNil(t, found)
	assert.Equal(t, first.slot, found.slot)

	assert.Nil(t, table.findByUsername("nobody"))
}

func TestSessionStateString(t *testing.T) {
	assert.Equal(t, "AUTHENTICATING", StateAuthenticating.String())
	assert.Equal(t, "CONNECTED", StateConnected.String())
	assert.Equal(t, "IN_ROOM", StateInRoom.String())
	assert.Equal(t, "DISCONNECTED", StateDisconnected.String())
}
