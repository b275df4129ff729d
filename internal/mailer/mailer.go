// Package mailer delivers the transactional emails the application sends.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

type Mail struct {
	To      string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
}

// NewSMTPMailer returns a mailer for host:port. Authentication is skipped
// when username is empty.
func NewSMTPMailer(host string, port int, username, password, from string) *SMTPMailer {
	m := &SMTPMailer{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		from: from,
	}
	if username != "" {
		m.auth = smtp.PlainAuth("", username, password, host)
	}
	return m
}

func (s *SMTPMailer) Send(ctx context.Context, m Mail) error {
	msg, err := formatMessage(s.from, m, time.Now())
	if err != nil {
		return err
	}

	// smtp.SendMail takes no context, so the deadline is enforced here and
	// an abandoned attempt finishes in the background.
	errc := make(chan error, 1)
	go func() {
		errc <- smtp.SendMail(s.addr, s.auth, s.from, []string{m.To}, msg)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("send mail to %s: %w", m.To, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send mail to %s: %w", m.To, ctx.Err())
	}
}

func formatMessage(from string, m Mail, date time.Time) ([]byte, error) {
	for _, v := range []string{from, m.To, m.Subject} {
		if strings.ContainsAny(v, "\r\n") {
			return nil, fmt.Errorf("mail header contains a line break")
		}
	}
	if m.To == "" {
		return nil, fmt.Errorf("mail has no recipient")
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", m.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", m.Subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", date.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))

	return buf.Bytes(), nil
}

// LogMailer writes mail to the log instead of sending it. It is used when
// no SMTP host is configured.
type LogMailer struct {
	log *log.Logger
}

func NewLogMailer(logger *log.Logger) *LogMailer {
	return &LogMailer{log: logger}
}

func (l *LogMailer) Send(_ context.Context, m Mail) error {
	l.log.Printf("mail to=%q subject=%q body=%q", m.To, m.Subject, m.Body)
	return nil
}
