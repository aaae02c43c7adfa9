// Package statemachine holds the per-connection login state as a tagged
// value type. The connection pump owns the only mutable copy; the
// dispatcher reads it, decides which handler may run, and writes the
// successor state back through the session.
package statemachine

import (
	"github.com/comcore-chat/comcore/internal/mailer"
	"github.com/comcore-chat/comcore/internal/wire"
)

// Tag discriminates the login states.
type Tag int

const (
	TagLoggedOut Tag = iota
	TagConfirmEmail
	TagResetPassword
	TagLoggedIn
)

// String returns the tag name, for logs.
func (t Tag) String() string {
	switch t {
	case TagConfirmEmail:
		return "ConfirmEmail"
	case TagResetPassword:
		return "ResetPassword"
	case TagLoggedIn:
		return "LoggedIn"
	default:
		return "LoggedOut"
	}
}

// State is the sum of the four login states. Which fields are meaningful
// depends on Tag; the constructors below are the only intended way to
// build one.
type State struct {
	Tag Tag

	// ConfirmEmail
	Email    string
	CodeKind mailer.Kind

	// ResetPassword and LoggedIn
	UserID string

	// LoggedIn
	Name      string
	AuthToken string
}

// LoggedOut is the initial state of every connection.
func LoggedOut() State {
	return State{Tag: TagLoggedOut}
}

// ConfirmEmail awaits a confirmation code bound to email for the given kind.
func ConfirmEmail(email string, kind mailer.Kind) State {
	return State{Tag: TagConfirmEmail, Email: email, CodeKind: kind}
}

// ResetPassword awaits a replacement password for userID.
func ResetPassword(userID string) State {
	return State{Tag: TagResetPassword, UserID: userID}
}

// LoggedIn is the authenticated state.
func LoggedIn(userID, name, authToken string) State {
	return State{Tag: TagLoggedIn, UserID: userID, Name: name, AuthToken: authToken}
}

// logoutFirst is the static set of request kinds that force the logout
// transition before they are handled, whatever the current state.
var logoutFirst = map[string]struct{}{
	wire.KindLogin:         {},
	wire.KindCreateAccount: {},
	wire.KindRequestReset:  {},
	wire.KindLogout:        {},
}

// LogoutFirst reports whether kind forces a logout transition before dispatch.
func LogoutFirst(kind string) bool {
	_, ok := logoutFirst[kind]
	return ok
}

// Stateless reports whether kind is accepted in every state without
// altering it: PING and checkInviteLink.
func Stateless(kind string) bool {
	return kind == wire.KindPing || kind == wire.KindCheckInviteLink
}
