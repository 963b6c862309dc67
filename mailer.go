package commhub

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/IMQS/log"
)

// Mailer sends the transactional mails of the account system: signup
// confirmations, password resets, secondary email confirmations.
type Mailer interface {
	Send(from, to, subject, body string) error
}

// logMailer writes mails to the log instead of sending them. This is the
// default until a real Mailer is injected, and what the test suite runs with.
type logMailer struct {
	logger *log.Logger
}

func (x *logMailer) Send(from, to, subject, body string) error {
	if x.logger != nil {
		x.logger.Infof("mail (not sent): from=%v to=%v subject=%q body=%q", from, to, subject, body)
	}
	return nil
}

// smtpMailer delivers through a local or remote SMTP relay.
type smtpMailer struct {
	addr string // host:port
}

// NewSMTPMailer returns a Mailer that relays through the given SMTP server.
func NewSMTPMailer(addr string) Mailer {
	return &smtpMailer{addr: addr}
}

func (x *smtpMailer) Send(from, to, subject, body string) error {
	msg := strings.Join([]string{
		fmt.Sprintf("From: %v", from),
		fmt.Sprintf("To: %v", to),
		fmt.Sprintf("Subject: %v", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")
	return smtp.SendMail(x.addr, nil, from, []string{to}, []byte(msg))
}
