package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/comcore-chat/comcore/internal/mailer"
	"github.com/comcore-chat/comcore/internal/wire"
)

func TestConstructors(t *testing.T) {
	s := LoggedOut()
	assert.Equal(t, TagLoggedOut, s.Tag)

	s = ConfirmEmail("a@x", mailer.KindTwoFactor)
	assert.Equal(t, TagConfirmEmail, s.Tag)
	assert.Equal(t, "a@x", s.Email)
	assert.Equal(t, mailer.KindTwoFactor, s.CodeKind)

	s = ResetPassword("u1")
	assert.Equal(t, TagResetPassword, s.Tag)
	assert.Equal(t, "u1", s.UserID)

	s = LoggedIn("u1", "Alice", "tok")
	assert.Equal(t, TagLoggedIn, s.Tag)
	assert.Equal(t, "Alice", s.Name)
	assert.Equal(t, "tok", s.AuthToken)
}

func TestLogoutFirstSet(t *testing.T) {
	for _, kind := range []string{wire.KindLogin, wire.KindCreateAccount, wire.KindRequestReset, wire.KindLogout} {
		assert.True(t, LogoutFirst(kind), kind)
	}
	for _, kind := range []string{wire.KindConnect, wire.KindEnterCode, wire.KindSendMessage, wire.KindPing} {
		assert.False(t, LogoutFirst(kind), kind)
	}
}

func TestStatelessSet(t *testing.T) {
	assert.True(t, Stateless(wire.KindPing))
	assert.True(t, Stateless(wire.KindCheckInviteLink))
	assert.False(t, Stateless(wire.KindLogin))
}
