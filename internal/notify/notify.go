// Package notify delivers operator notifications about spikes and prolonged
// outages. Sends are fire-and-forget: a failed delivery is logged, never
// escalated.
package notify

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Notifier is the notification sink consumed by the update pipeline.
type Notifier interface {
	// Send delivers one message. Implementations never return an error;
	// delivery failures are handled internally.
	Send(subject, body string)
}

// Nop is a Notifier that discards everything.
type Nop struct{}

// Send implements Notifier.
func (Nop) Send(string, string) {}

var _ Notifier = Nop{}
var _ Notifier = (*Mailer)(nil)

// Mailer sends plain-text e-mail over SMTP.
type Mailer struct {
	addr          string
	auth          smtp.Auth
	from          string
	to            []string
	subjectPrefix string
	log           *slog.Logger

	// send is swappable for tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewMailer builds a Mailer. auth may require only host/port for an open
// relay; user may be empty in that case.
func NewMailer(host string, port int, user, password, from, to, subjectPrefix string, log *slog.Logger) *Mailer {
	var auth smtp.Auth
	if user != "" {
		auth = smtp.PlainAuth("", user, password, host)
	}
	return &Mailer{
		addr:          fmt.Sprintf("%s:%d", host, port),
		auth:          auth,
		from:          from,
		to:            strings.Split(to, ","),
		subjectPrefix: subjectPrefix,
		log:           log.With("component", "notify"),
		send:          smtp.SendMail,
	}
}

// Send implements Notifier.
func (m *Mailer) Send(subject, body string) {
	full := subject
	if m.subjectPrefix != "" {
		full = m.subjectPrefix + " " + subject
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		m.from, strings.Join(m.to, ", "), full, body)

	if err := m.send(m.addr, m.auth, m.from, m.to, []byte(msg)); err != nil {
		m.log.Warn("could not send notification", "subject", full, "err", err)
		return
	}
	m.log.Info("notification sent", "subject", full)
}
