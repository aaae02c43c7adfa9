// Unauthenticated handlers: the login state machine transitions, plus the
// two-factor toggles available once logged in.
package dispatcher

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"strings"

	"github.com/comcore-chat/comcore/internal/codemgr"
	"github.com/comcore-chat/comcore/internal/cryptoutil"
	"github.com/comcore-chat/comcore/internal/mailer"
	"github.com/comcore-chat/comcore/internal/statemachine"
	"github.com/comcore-chat/comcore/internal/store"
	"github.com/comcore-chat/comcore/internal/wire"
)

func (d *Dispatcher) handleLogin(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Email string `json:"email"`
		Pass  string `json:"pass"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	params.Email = strings.TrimSpace(params.Email)
	if params.Email == "" {
		return nil, Errorf("email must not be empty")
	}

	// A login matching a half-created account resumes the confirmation
	// flow instead of authenticating.
	if d.codes.ContinueCreation(ctx, params.Email, params.Pass) {
		sess.SetState(statemachine.ConfirmEmail(params.Email, mailer.KindNewAccount))
		return map[string]string{"status": wire.StatusEnterCode}, nil
	}

	acct, err := d.store.LookupAccount(ctx, params.Email)
	if errors.Is(err, store.ErrNotFound) {
		return map[string]string{"status": wire.StatusDoesNotExist}, nil
	}
	if err != nil {
		return nil, err
	}

	match, err := cryptoutil.CheckPassword(params.Pass, acct.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !match {
		return map[string]string{"status": wire.StatusInvalidPassword}, nil
	}

	if acct.TwoFactorEnabled {
		if err := d.codes.SendConfirmation(ctx, params.Email, mailer.KindTwoFactor, acct.ID); err != nil {
			return nil, err
		}
		sess.SetState(statemachine.ConfirmEmail(params.Email, mailer.KindTwoFactor))
		return map[string]string{"status": wire.StatusEnterCode}, nil
	}

	token, err := d.issueToken(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	d.enterLoggedIn(sess, acct.ID, acct.Name, token)
	return map[string]string{"status": wire.StatusSuccess}, nil
}

func (d *Dispatcher) handleConnect(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}

	stored, err := d.store.GetAuthToken(ctx, params.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if stored == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(params.Token)) != 1 {
		// Stale token: tell the device to forget it and log in afresh.
		sess.Push(wire.PushLogout, struct{}{})
		return map[string]bool{"connected": false}, nil
	}

	acct, err := d.store.LookupAccountByID(ctx, params.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	d.enterLoggedIn(sess, acct.ID, acct.Name, stored)
	return map[string]bool{"connected": true}, nil
}

func (d *Dispatcher) handleCreateAccount(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Pass  string `json:"pass"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	params.Name = strings.TrimSpace(params.Name)
	params.Email = strings.TrimSpace(params.Email)
	if params.Name == "" || params.Email == "" || params.Pass == "" {
		return nil, Errorf("name, email and pass must not be empty")
	}

	if _, err := d.store.LookupAccount(ctx, params.Email); err == nil {
		return map[string]bool{"created": false}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	err := d.codes.StartCreation(ctx, params.Name, params.Email, params.Pass)
	if errors.Is(err, codemgr.ErrAlreadyPending) {
		return map[string]bool{"created": false}, nil
	}
	if err != nil {
		return nil, err
	}

	sess.SetState(statemachine.ConfirmEmail(params.Email, mailer.KindNewAccount))
	return map[string]bool{"created": true}, nil
}

func (d *Dispatcher) handleRequestReset(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Email string `json:"email"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	params.Email = strings.TrimSpace(params.Email)

	acct, err := d.store.LookupAccount(ctx, params.Email)
	if errors.Is(err, store.ErrNotFound) {
		return map[string]bool{"sent": false}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := d.codes.SendConfirmation(ctx, params.Email, mailer.KindResetPassword, acct.ID); err != nil {
		return nil, err
	}
	sess.SetState(statemachine.ConfirmEmail(params.Email, mailer.KindResetPassword))
	return map[string]bool{"sent": true}, nil
}

func (d *Dispatcher) handleEnterCode(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Code string `json:"code"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}

	state := sess.State()
	bound, ok := d.codes.CheckCode(state.Email, state.CodeKind, params.Code)
	if !ok {
		return map[string]bool{"correct": false}, nil
	}

	switch state.CodeKind {
	case mailer.KindNewAccount:
		acct, err := d.codes.FinishCreation(ctx, state.Email, d.store)
		if err != nil {
			sess.SetState(statemachine.LoggedOut())
			return nil, Errorf("account creation failed")
		}
		token, err := d.issueToken(ctx, acct.ID)
		if err != nil {
			return nil, err
		}
		d.enterLoggedIn(sess, acct.ID, acct.Name, token)
		return map[string]bool{"correct": true}, nil

	case mailer.KindTwoFactor:
		acct, err := d.store.LookupAccountByID(ctx, bound)
		if err != nil {
			return nil, storeErr(err)
		}
		token, err := d.issueToken(ctx, acct.ID)
		if err != nil {
			return nil, err
		}
		d.enterLoggedIn(sess, acct.ID, acct.Name, token)
		return map[string]bool{"correct": true}, nil

	case mailer.KindResetPassword:
		sess.SetState(statemachine.ResetPassword(bound))
		return map[string]bool{"correct": true}, nil
	}

	return nil, Errorf("unknown confirmation kind")
}

func (d *Dispatcher) handleFinishReset(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Pass string `json:"pass"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if params.Pass == "" {
		return nil, Errorf("password must not be empty")
	}

	userID := sess.State().UserID
	hash, err := cryptoutil.HashPassword(params.Pass)
	if err != nil {
		return nil, err
	}
	if err := d.store.ResetPassword(ctx, userID, hash); err != nil {
		return nil, storeErr(err)
	}

	// Every other session of this user is riding the old credentials.
	d.registry.ForceLogout(userID, sess)

	acct, err := d.store.LookupAccountByID(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	token, err := d.issueToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	d.enterLoggedIn(sess, userID, acct.Name, token)
	return map[string]bool{"reset": true}, nil
}

func (d *Dispatcher) handleGetTwoFactor(ctx context.Context, sess Session) (any, error) {
	enabled, err := d.store.GetTwoFactor(ctx, sess.State().UserID)
	if err != nil {
		return nil, storeErr(err)
	}
	return map[string]bool{"enabled": enabled}, nil
}

func (d *Dispatcher) handleSetTwoFactor(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if params.Enabled == nil {
		return nil, Errorf("enabled must be a boolean")
	}
	if err := d.store.SetTwoFactor(ctx, sess.State().UserID, *params.Enabled); err != nil {
		return nil, storeErr(err)
	}
	return struct{}{}, nil
}

// issueToken rotates userID's auth token and returns the fresh value. A
// new token is issued on every successful login.
func (d *Dispatcher) issueToken(ctx context.Context, userID string) (string, error) {
	token, err := cryptoutil.RandomToken()
	if err != nil {
		return "", err
	}
	if err := d.store.SetAuthToken(ctx, userID, token); err != nil {
		return "", storeErr(err)
	}
	return token, nil
}
