package codemgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comcore-chat/comcore/internal/consts"
	"github.com/comcore-chat/comcore/internal/cryptoutil"
	"github.com/comcore-chat/comcore/internal/mailer"
)

func newTestManager(t *testing.T) (*Manager, *mailer.RecordingMailer) {
	t.Helper()
	mail := mailer.NewRecordingMailer()
	return NewManager(mail), mail
}

func TestSendConfirmationDeliversSixDigitCode(t *testing.T) {
	m, mail := newTestManager(t)
	require.NoError(t, m.SendConfirmation(context.Background(), "a@x", mailer.KindTwoFactor, "uid"))

	require.Len(t, mail.Sent, 1)
	assert.Len(t, mail.Last().Code, CodeDigits)
	assert.Equal(t, mailer.KindTwoFactor, mail.Last().Kind)
}

func TestSendConfirmationReturnsLiveEntryUnchanged(t *testing.T) {
	m, mail := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.SendConfirmation(ctx, "a@x", mailer.KindTwoFactor, "uid"))
	first := mail.Last().Code

	// Same kind while live: no new code, no new delivery.
	require.NoError(t, m.SendConfirmation(ctx, "a@x", mailer.KindTwoFactor, "uid"))
	assert.Len(t, mail.Sent, 1)

	data, ok := m.CheckCode("a@x", mailer.KindTwoFactor, first)
	require.True(t, ok)
	assert.Equal(t, "uid", data)
}

func TestSendConfirmationDifferentKindReplaces(t *testing.T) {
	m, mail := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.SendConfirmation(ctx, "a@x", mailer.KindTwoFactor, "uid"))
	first := mail.Last().Code
	require.NoError(t, m.SendConfirmation(ctx, "a@x", mailer.KindResetPassword, "uid"))

	_, ok := m.CheckCode("a@x", mailer.KindTwoFactor, first)
	assert.False(t, ok)
	_, ok = m.CheckCode("a@x", mailer.KindResetPassword, mail.Last().Code)
	assert.True(t, ok)
}

func TestCheckCodeIsSingleUse(t *testing.T) {
	m, mail := newTestManager(t)
	require.NoError(t, m.SendConfirmation(context.Background(), "a@x", mailer.KindTwoFactor, "uid"))
	code := mail.Last().Code

	_, ok := m.CheckCode("a@x", mailer.KindTwoFactor, code)
	require.True(t, ok)
	_, ok = m.CheckCode("a@x", mailer.KindTwoFactor, code)
	assert.False(t, ok)
}

func TestCheckCodeRequiresExactLength(t *testing.T) {
	m, mail := newTestManager(t)
	require.NoError(t, m.SendConfirmation(context.Background(), "a@x", mailer.KindTwoFactor, "uid"))
	code := mail.Last().Code

	_, ok := m.CheckCode("a@x", mailer.KindTwoFactor, code+"0")
	assert.False(t, ok)
	_, ok = m.CheckCode("a@x", mailer.KindTwoFactor, code[:5])
	assert.False(t, ok)

	// Leading/trailing whitespace is tolerated.
	_, ok = m.CheckCode("a@x", mailer.KindTwoFactor, "  "+code+"\n")
	assert.True(t, ok)
}

func TestCheckCodeWrongKind(t *testing.T) {
	m, mail := newTestManager(t)
	require.NoError(t, m.SendConfirmation(context.Background(), "a@x", mailer.KindTwoFactor, "uid"))

	_, ok := m.CheckCode("a@x", mailer.KindResetPassword, mail.Last().Code)
	assert.False(t, ok)
}

func TestThreeFailedAttemptsLockOut(t *testing.T) {
	m, mail := newTestManager(t)
	require.NoError(t, m.SendConfirmation(context.Background(), "a@x", mailer.KindTwoFactor, "uid"))
	code := mail.Last().Code

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	for i := 0; i < consts.MaxCodeAttempts; i++ {
		_, ok := m.CheckCode("a@x", mailer.KindTwoFactor, wrong)
		assert.False(t, ok)
	}

	// The correct code is now unreachable.
	_, ok := m.CheckCode("a@x", mailer.KindTwoFactor, code)
	assert.False(t, ok)
}

func TestCodeRejectedExactlyAtExpiry(t *testing.T) {
	m, mail := newTestManager(t)

	now := time.Now()
	m.SetNowFunc(func() time.Time { return now })
	require.NoError(t, m.SendConfirmation(context.Background(), "a@x", mailer.KindTwoFactor, "uid"))
	code := mail.Last().Code

	m.SetNowFunc(func() time.Time { return now.Add(consts.CodeLifetime) })
	_, ok := m.CheckCode("a@x", mailer.KindTwoFactor, code)
	assert.False(t, ok)
}

func TestCodeAcceptedJustBeforeExpiry(t *testing.T) {
	m, mail := newTestManager(t)

	now := time.Now()
	m.SetNowFunc(func() time.Time { return now })
	require.NoError(t, m.SendConfirmation(context.Background(), "a@x", mailer.KindTwoFactor, "uid"))
	code := mail.Last().Code

	m.SetNowFunc(func() time.Time { return now.Add(consts.CodeLifetime - time.Second) })
	_, ok := m.CheckCode("a@x", mailer.KindTwoFactor, code)
	assert.True(t, ok)
}

func TestStartCreation(t *testing.T) {
	m, mail := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.StartCreation(ctx, "Alice", "alice@x", "p"))
	assert.True(t, m.HasPending("alice@x"))
	require.Len(t, mail.Sent, 1)
	assert.Equal(t, mailer.KindNewAccount, mail.Last().Kind)

	assert.ErrorIs(t, m.StartCreation(ctx, "Alice", "alice@x", "p"), ErrAlreadyPending)
}

func TestContinueCreationMatchesPassword(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.StartCreation(ctx, "Alice", "alice@x", "p"))

	assert.True(t, m.ContinueCreation(ctx, "alice@x", "p"))
	assert.False(t, m.ContinueCreation(ctx, "alice@x", "wrong"))
	assert.False(t, m.ContinueCreation(ctx, "nobody@x", "p"))
}

func TestContinueCreationResendsAfterExpiry(t *testing.T) {
	m, mail := newTestManager(t)
	ctx := context.Background()

	now := time.Now()
	m.SetNowFunc(func() time.Time { return now })
	require.NoError(t, m.StartCreation(ctx, "Alice", "alice@x", "p"))
	require.Len(t, mail.Sent, 1)

	m.SetNowFunc(func() time.Time { return now.Add(consts.CodeLifetime + time.Minute) })
	require.True(t, m.ContinueCreation(ctx, "alice@x", "p"))
	require.Len(t, mail.Sent, 2)
	assert.NotEqual(t, mail.Sent[0].Code, mail.Sent[1].Code)
}

func TestHashedPasswordRoundTrip(t *testing.T) {
	hash, err := cryptoutil.HashPassword("secret")
	require.NoError(t, err)

	ok, err := cryptoutil.CheckPassword("secret", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cryptoutil.CheckPassword("other", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}
