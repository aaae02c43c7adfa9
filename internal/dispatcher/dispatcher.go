// Package dispatcher is the request engine: given a connection's login
// state and one decoded request, it runs the matching handler,
// talks to the Store, and fans the side effects out to other live
// sessions through the registry.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/comcore-chat/comcore/internal/codemgr"
	"github.com/comcore-chat/comcore/internal/logger"
	"github.com/comcore-chat/comcore/internal/registry"
	"github.com/comcore-chat/comcore/internal/statemachine"
	"github.com/comcore-chat/comcore/internal/store"
	"github.com/comcore-chat/comcore/internal/wire"
)

// Session is the dispatcher's view of one connection: its login state and
// its outbound frame queue. The connection pump implements it.
type Session interface {
	registry.Conn
	State() statemachine.State
	SetState(statemachine.State)
}

// Dispatcher holds the collaborators every handler needs. One instance
// serves all connections; per-request state lives on the Session.
type Dispatcher struct {
	store     store.Store
	codes     *codemgr.Manager
	registry  *registry.Registry
	uploadDir string
	maxUpload int64
	log       *logger.Logger

	// now is replaceable so tests can pin timestamps.
	now func() time.Time
}

// New constructs a Dispatcher.
func New(st store.Store, codes *codemgr.Manager, reg *registry.Registry, uploadDir string, maxUpload int64) *Dispatcher {
	return &Dispatcher{
		store:     st,
		codes:     codes,
		registry:  reg,
		uploadDir: uploadDir,
		maxUpload: maxUpload,
		log:       logger.Global().WithPrefix("dispatcher"),
		now:       time.Now,
	}
}

// Handle runs one request to completion and returns the reply payload.
// State-independent kinds short-circuit; logout-first kinds force the
// logout transition before dispatch; everything else is admitted or
// rejected by the current login state.
func (d *Dispatcher) Handle(ctx context.Context, sess Session, kind string, data json.RawMessage) (any, error) {
	switch kind {
	case wire.KindPing:
		return d.handlePing(data), nil
	case wire.KindCheckInviteLink:
		return d.handleCheckInviteLink(ctx, data)
	}

	if statemachine.LogoutFirst(kind) {
		d.logout(sess)
	}

	state := sess.State()
	switch state.Tag {
	case statemachine.TagLoggedOut:
		switch kind {
		case wire.KindLogin:
			return d.handleLogin(ctx, sess, data)
		case wire.KindConnect:
			return d.handleConnect(ctx, sess, data)
		case wire.KindCreateAccount:
			return d.handleCreateAccount(ctx, sess, data)
		case wire.KindRequestReset:
			return d.handleRequestReset(ctx, sess, data)
		case wire.KindLogout:
			return struct{}{}, nil
		}

	case statemachine.TagConfirmEmail:
		if kind == wire.KindEnterCode {
			return d.handleEnterCode(ctx, sess, data)
		}

	case statemachine.TagResetPassword:
		if kind == wire.KindFinishReset {
			return d.handleFinishReset(ctx, sess, data)
		}

	case statemachine.TagLoggedIn:
		return d.handleAuthenticated(ctx, sess, kind, data)
	}

	return nil, errUnauthorized(kind)
}

// handleAuthenticated dispatches the LoggedIn vocabulary. An
// unrecognized kind is an ordinary error, not a forced logout.
func (d *Dispatcher) handleAuthenticated(ctx context.Context, sess Session, kind string, data json.RawMessage) (any, error) {
	switch kind {
	case wire.KindGetTwoFactor:
		return d.handleGetTwoFactor(ctx, sess)
	case wire.KindSetTwoFactor:
		return d.handleSetTwoFactor(ctx, sess, data)

	case wire.KindCreateGroup:
		return d.handleCreateGroup(ctx, sess, data)
	case wire.KindCreateSubGroup:
		return d.handleCreateSubGroup(ctx, sess, data)
	case wire.KindGetGroups:
		return d.handleGetGroups(ctx, sess)
	case wire.KindGetGroupInfo:
		return d.handleGetGroupInfo(ctx, sess, data)
	case wire.KindCreateModule:
		return d.handleCreateModule(ctx, sess, data)
	case wire.KindSetRequireApproval:
		return d.handleSetRequireApproval(ctx, sess, data)
	case wire.KindSetModuleEnabled:
		return d.handleSetModuleEnabled(ctx, sess, data)
	case wire.KindGetUsers:
		return d.handleGetUsers(ctx, sess, data)
	case wire.KindGetUserInfo:
		return d.handleGetUserInfo(ctx, sess, data)
	case wire.KindGetModules:
		return d.handleGetModules(ctx, sess, data)
	case wire.KindGetModuleInfo:
		return d.handleGetModuleInfo(ctx, sess, data)
	case wire.KindLeaveGroup:
		return d.handleLeaveGroup(ctx, sess, data)
	case wire.KindKick:
		return d.handleKick(ctx, sess, data)
	case wire.KindSetRole:
		return d.handleSetRole(ctx, sess, data)
	case wire.KindSetMuted:
		return d.handleSetMuted(ctx, sess, data)

	case wire.KindCreateInviteLink:
		return d.handleCreateInviteLink(ctx, sess, data)
	case wire.KindUseInviteLink:
		return d.handleUseInviteLink(ctx, sess, data)
	case wire.KindSendInvite:
		return d.handleSendInvite(ctx, sess, data)
	case wire.KindGetInvites:
		return d.handleGetInvites(ctx, sess)
	case wire.KindReplyToInvite:
		return d.handleReplyToInvite(ctx, sess, data)

	case wire.KindCreateDM:
		return d.handleCreateDirectMessage(ctx, sess, data)
	case wire.KindSendMessage:
		return d.handleSendMessage(ctx, sess, data)
	case wire.KindGetMessages:
		return d.handleGetMessages(ctx, sess, data)
	case wire.KindUpdateMessage:
		return d.handleUpdateMessage(ctx, sess, data)
	case wire.KindSetReaction:
		return d.handleSetReaction(ctx, sess, data)

	case wire.KindAddTask:
		return d.handleAddTask(ctx, sess, data)
	case wire.KindGetTasks:
		return d.handleGetTasks(ctx, sess, data)
	case wire.KindUpdateTaskStatus:
		return d.handleUpdateTaskStatus(ctx, sess, data)
	case wire.KindUpdateTaskDeadline:
		return d.handleUpdateTaskDeadline(ctx, sess, data)
	case wire.KindDeleteTask:
		return d.handleDeleteTask(ctx, sess, data)

	case wire.KindAddEvent:
		return d.handleAddEvent(ctx, sess, data)
	case wire.KindGetEvents:
		return d.handleGetEvents(ctx, sess, data)
	case wire.KindApproveEvent:
		return d.handleApproveEvent(ctx, sess, data)
	case wire.KindUpdateEvent:
		return d.handleUpdateEvent(ctx, sess, data)
	case wire.KindDeleteEvent:
		return d.handleDeleteEvent(ctx, sess, data)
	case wire.KindSetBulletin:
		return d.handleSetBulletin(ctx, sess, data)

	case wire.KindAddPoll:
		return d.handleAddPoll(ctx, sess, data)
	case wire.KindGetPolls:
		return d.handleGetPolls(ctx, sess, data)
	case wire.KindVoteOnPoll:
		return d.handleVoteOnPoll(ctx, sess, data)

	case wire.KindUploadFile:
		return d.handleUploadFile(ctx, sess, data)

	case wire.KindConnect, wire.KindEnterCode, wire.KindFinishReset:
		// Known kinds, but only meaningful in the pre-login states.
		return nil, errUnauthorized(kind)
	}

	return nil, Errorf("unknown request kind %q", kind)
}

// handlePing echoes the request payload back verbatim.
func (d *Dispatcher) handlePing(data json.RawMessage) any {
	if len(data) == 0 {
		return struct{}{}
	}
	return json.RawMessage(data)
}

// logout performs the logout transition: deregister from the registry if
// logged in, then reset to LoggedOut.
func (d *Dispatcher) logout(sess Session) {
	state := sess.State()
	if state.Tag == statemachine.TagLoggedIn {
		d.registry.LogoutConnection(state.UserID, sess)
	}
	sess.SetState(statemachine.LoggedOut())
}

// enterLoggedIn performs the login transition: set the state, register the
// session, and push the login frame to the connection itself.
func (d *Dispatcher) enterLoggedIn(sess Session, userID, name, token string) {
	sess.SetState(statemachine.LoggedIn(userID, name, token))
	d.registry.LoginConnection(userID, sess)
	sess.Push(wire.PushLogin, map[string]any{"id": userID, "name": name, "token": token})
}

// decode unmarshals request data into a handler's parameter struct.
func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return Errorf("missing request data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return Errorf("invalid request data")
	}
	return nil
}

// storeErr translates the Store's sentinel failures into caller-visible
// RequestErrors; anything else passes through as internal.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return Errorf("does not exist")
	case errors.Is(err, store.ErrDuplicate):
		return Errorf("already exists")
	case errors.Is(err, store.ErrInvalidModule):
		return Errorf("wrong module type")
	case errors.Is(err, store.ErrNotMember):
		return Errorf("not a member of this group")
	default:
		return err
	}
}
