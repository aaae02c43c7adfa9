// Package codemgr is the process-wide confirmation-code and pending-account
// manager: 6-digit single-use codes with a 1-hour lifetime and
// at most 3 failed guesses, plus the half-created accounts that exist
// between createAccount and the completing newAccount confirmation.
package codemgr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/comcore-chat/comcore/internal/consts"
	"github.com/comcore-chat/comcore/internal/cryptoutil"
	"github.com/comcore-chat/comcore/internal/logger"
	"github.com/comcore-chat/comcore/internal/mailer"
	"github.com/comcore-chat/comcore/internal/model"
	"github.com/comcore-chat/comcore/internal/securemem"
	"github.com/comcore-chat/comcore/internal/store"
)

// CodeDigits is the length of every confirmation code.
const CodeDigits = 6

// ErrAlreadyPending is returned by StartCreation when a pending account
// already exists for the email.
var ErrAlreadyPending = errors.New("account creation already pending")

type confirmation struct {
	kind     mailer.Kind
	code     string
	data     string // bound payload: the user id for twoFactor / resetPassword
	expireAt time.Time
	fails    int
}

type pendingAccount struct {
	name string
	hash *securemem.String
}

// Manager holds the two email-keyed maps behind a single lock each. Email
// delivery happens outside the locks so a slow SMTP round-trip never
// blocks unrelated connections.
type Manager struct {
	mail mailer.Mailer
	log  *logger.Logger

	// now is replaceable so tests can step the clock across expiry.
	now func() time.Time

	codesMu sync.Mutex
	codes   map[string]*confirmation

	accountsMu sync.Mutex
	accounts   map[string]*pendingAccount
}

// NewManager constructs a Manager delivering codes through mail.
func NewManager(mail mailer.Mailer) *Manager {
	return &Manager{
		mail:     mail,
		log:      logger.Global().WithPrefix("codemgr"),
		now:      time.Now,
		codes:    make(map[string]*confirmation),
		accounts: make(map[string]*pendingAccount),
	}
}

// SendConfirmation issues a confirmation code for email. A live entry of
// the same kind is left untouched; anything else is
// replaced by a fresh random code valid for one hour, delivered by mail.
func (m *Manager) SendConfirmation(ctx context.Context, email string, kind mailer.Kind, data string) error {
	now := m.now()

	m.codesMu.Lock()
	if entry, ok := m.codes[email]; ok && entry.kind == kind && now.Before(entry.expireAt) {
		m.codesMu.Unlock()
		return nil
	}

	code, err := cryptoutil.RandomCode(CodeDigits)
	if err != nil {
		m.codesMu.Unlock()
		return fmt.Errorf("send confirmation: %w", err)
	}
	m.codes[email] = &confirmation{
		kind:     kind,
		code:     code,
		data:     data,
		expireAt: now.Add(consts.CodeLifetime),
	}
	m.codesMu.Unlock()

	if err := m.mail.SendCode(ctx, email, kind, code); err != nil {
		return fmt.Errorf("send confirmation: %w", err)
	}
	m.log.Debug("confirmation code issued for %s (%s)", email, kind)
	return nil
}

// CheckCode validates a candidate code against the entry for email. On a
// match the entry is destroyed and its bound data returned: codes are single use.
// A mismatch counts toward the 3-attempt limit; the third wrong guess
// destroys the entry too.
func (m *Manager) CheckCode(email string, kind mailer.Kind, candidate string) (string, bool) {
	candidate = strings.TrimSpace(candidate)
	if len(candidate) != CodeDigits {
		return "", false
	}

	m.codesMu.Lock()
	defer m.codesMu.Unlock()

	entry, ok := m.codes[email]
	if !ok || entry.kind != kind {
		return "", false
	}
	if !m.now().Before(entry.expireAt) {
		delete(m.codes, email)
		return "", false
	}
	if candidate != entry.code {
		entry.fails++
		if entry.fails >= consts.MaxCodeAttempts {
			delete(m.codes, email)
			m.log.Warn("confirmation code for %s locked out after %d failed attempts", email, entry.fails)
		}
		return "", false
	}

	delete(m.codes, email)
	return entry.data, true
}

// StartCreation registers a half-created account and sends the newAccount
// confirmation code. The password is hashed immediately; the plaintext
// never outlives this call, and the hash sits in locked memory until
// FinishCreation moves it into the Store.
func (m *Manager) StartCreation(ctx context.Context, name, email, pass string) error {
	m.accountsMu.Lock()
	if _, ok := m.accounts[email]; ok {
		m.accountsMu.Unlock()
		return ErrAlreadyPending
	}
	m.accountsMu.Unlock()

	hash, err := cryptoutil.HashPassword(pass)
	if err != nil {
		return fmt.Errorf("start creation: %w", err)
	}

	m.accountsMu.Lock()
	if _, ok := m.accounts[email]; ok {
		m.accountsMu.Unlock()
		return ErrAlreadyPending
	}
	m.accounts[email] = &pendingAccount{name: name, hash: securemem.NewString(hash)}
	m.accountsMu.Unlock()

	return m.SendConfirmation(ctx, email, mailer.KindNewAccount, "")
}

// ContinueCreation reports whether a pending account exists for email
// whose stored hash matches pass. On a match SendConfirmation runs again:
// a code that is still live is left as it is and nothing is sent, while a
// user whose previous code expired gets a fresh one.
func (m *Manager) ContinueCreation(ctx context.Context, email, pass string) bool {
	m.accountsMu.Lock()
	pending, ok := m.accounts[email]
	if !ok {
		m.accountsMu.Unlock()
		return false
	}
	hash := pending.hash.String()
	m.accountsMu.Unlock()

	match, err := cryptoutil.CheckPassword(pass, hash)
	if err != nil || !match {
		return false
	}

	if err := m.SendConfirmation(ctx, email, mailer.KindNewAccount, ""); err != nil {
		m.log.Error("re-send confirmation for %s: %v", email, err)
	}
	return true
}

// FinishCreation pops the pending account for email and creates it in the
// Store. Fails if nothing is pending or the Store reports a duplicate.
func (m *Manager) FinishCreation(ctx context.Context, email string, st store.Store) (*model.Account, error) {
	m.accountsMu.Lock()
	pending, ok := m.accounts[email]
	if ok {
		delete(m.accounts, email)
	}
	m.accountsMu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no pending account for %s", email)
	}
	defer pending.hash.Destroy()

	acct, err := st.CreateAccount(ctx, pending.name, email, pending.hash.String())
	if err != nil {
		return nil, fmt.Errorf("finish creation: %w", err)
	}
	m.log.Info("account created for %s", email)
	return acct, nil
}

// HasPending reports whether an account creation is pending for email.
func (m *Manager) HasPending(email string) bool {
	m.accountsMu.Lock()
	defer m.accountsMu.Unlock()
	_, ok := m.accounts[email]
	return ok
}

// SetNowFunc replaces the clock, for tests that step across code expiry.
func (m *Manager) SetNowFunc(now func() time.Time) {
	m.now = now
}
