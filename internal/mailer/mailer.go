// Package mailer is the Email contract: delivering confirmation codes out
// of band. It is intentionally the thinnest adapter in the
// module — one method — because nothing in the pack carries a mail
// library to build on, and the server never needs more than "send this
// code to this address".
package mailer

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/comcore-chat/comcore/internal/logger"
)

// Kind mirrors the reason a code is being sent, so a real mailer can
// choose subject lines without the caller formatting prose.
type Kind string

const (
	KindNewAccount    Kind = "newAccount"
	KindTwoFactor     Kind = "twoFactor"
	KindResetPassword Kind = "resetPassword"
)

// Mailer delivers a confirmation code to an email address.
type Mailer interface {
	SendCode(ctx context.Context, email string, kind Kind, code string) error
}

// LogMailer logs codes instead of delivering them. It is the default
// adapter until an SMTP sender is configured.
type LogMailer struct {
	log *logger.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer() *LogMailer {
	return &LogMailer{log: logger.Global().WithPrefix("mailer")}
}

func (m *LogMailer) SendCode(ctx context.Context, email string, kind Kind, code string) error {
	m.log.Info("confirmation code for %s (%s): %s", email, kind, code)
	return nil
}

// SMTPMailer delivers codes through a configured SMTP relay using the
// stdlib client; the envelope is a short plain-text message.
type SMTPMailer struct {
	addr string
	from string
	log  *logger.Logger
}

// NewSMTPMailer constructs an SMTPMailer for host:port.
func NewSMTPMailer(host string, port int, from string) *SMTPMailer {
	return &SMTPMailer{
		addr: fmt.Sprintf("%s:%d", host, port),
		from: from,
		log:  logger.Global().WithPrefix("mailer"),
	}
}

func subjectFor(kind Kind) string {
	switch kind {
	case KindTwoFactor:
		return "Your Comcore login code"
	case KindResetPassword:
		return "Reset your Comcore password"
	default:
		return "Confirm your Comcore account"
	}
}

func (m *SMTPMailer) SendCode(ctx context.Context, email string, kind Kind, code string) error {
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\nYour confirmation code is %s\r\nIt expires in one hour.\r\n",
		m.from, email, subjectFor(kind), code)
	if err := smtp.SendMail(m.addr, nil, m.from, []string{email}, []byte(body)); err != nil {
		return fmt.Errorf("send code to %s: %w", email, err)
	}
	m.log.Debug("confirmation code sent to %s (%s)", email, kind)
	return nil
}

// RecordingMailer is a test double that captures every send instead of
// delivering it, so tests can assert on the exact code issued.
type RecordingMailer struct {
	Sent []SentCode
}

// SentCode is one recorded call to SendCode.
type SentCode struct {
	Email string
	Kind  Kind
	Code  string
}

// NewRecordingMailer constructs a RecordingMailer.
func NewRecordingMailer() *RecordingMailer {
	return &RecordingMailer{}
}

func (m *RecordingMailer) SendCode(ctx context.Context, email string, kind Kind, code string) error {
	m.Sent = append(m.Sent, SentCode{Email: email, Kind: kind, Code: code})
	return nil
}

// Last returns the most recently recorded send, or the zero value if none.
func (m *RecordingMailer) Last() SentCode {
	if len(m.Sent) == 0 {
		return SentCode{}
	}
	return m.Sent[len(m.Sent)-1]
}
