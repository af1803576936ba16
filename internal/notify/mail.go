package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	mailgun "github.com/mailgun/mailgun-go/v3"

	"github.com/kstaniek/go-rfid-alarm/internal/logging"
)

// DefaultSendTimeout bounds one mail delivery.
const DefaultSendTimeout = 10 * time.Second

// Message is one alert mail.
type Message struct {
	Subject     string
	Body        string
	Attachments []string // file paths
}

// Mailer delivers a Message.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// LogMailer only logs; used when no transport is configured.
type LogMailer struct{ Log *slog.Logger }

func (l LogMailer) Send(_ context.Context, m Message) error {
	logging.Or(l.Log).Warn("mail_not_configured", "subject", m.Subject, "attachments", len(m.Attachments))
	return nil
}

// Mailgun sends through the Mailgun HTTP API.
type Mailgun struct {
	mg         *mailgun.MailgunImpl
	sender     string
	recipients []string
	timeout    time.Duration
}

// NewMailgun builds a Mailgun mailer. apiBase may be empty (US region) or
// e.g. mailgun.APIBaseEU.
func NewMailgun(domain, apiKey, apiBase, sender string, recipients []string) *Mailgun {
	mg := mailgun.NewMailgun(domain, apiKey)
	if apiBase != "" {
		mg.SetAPIBase(apiBase)
	}
	return &Mailgun{mg: mg, sender: sender, recipients: recipients, timeout: DefaultSendTimeout}
}

func (m *Mailgun) Send(ctx context.Context, msg Message) error {
	message := m.mg.NewMessage(m.sender, msg.Subject, msg.Body, m.recipients...)
	for _, path := range msg.Attachments {
		message.AddAttachment(path)
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	resp, id, err := m.mg.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	if id == "" {
		return fmt.Errorf("mailgun send: no message id (%s)", resp)
	}
	return nil
}

// SMTP sends through a plain SMTP relay with optional PLAIN auth.
type SMTP struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients []string

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := buildMIME(s.From, s.Recipients, msg)
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	send := s.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	if err := send(addr, auth, s.From, s.Recipients, body); err != nil {
		return fmt.Errorf("smtp send via %s: %w", addr, err)
	}
	return nil
}

var errNoRecipients = errors.New("no mail recipients")

// buildMIME renders a multipart/mixed message with base64 attachments.
// RFC 5322 requires CRLF line endings.
func buildMIME(from string, to []string, msg Message) ([]byte, error) {
	if len(to) == 0 {
		return nil, errNoRecipients
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", w.Boundary())

	text, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := text.Write([]byte(msg.Body)); err != nil {
		return nil, err
	}
	for _, path := range msg.Attachments {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("attachment %s: %w", path, err)
		}
		name := filepath.Base(path)
		ctype := mime.TypeByExtension(filepath.Ext(name))
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		part, err := w.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {ctype},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", name)},
		})
		if err != nil {
			return nil, err
		}
		enc := base64.NewEncoder(base64.StdEncoding, &lineWrapper{w: part})
		if _, err := enc.Write(data); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// lineWrapper breaks base64 output into 76 column lines.
type lineWrapper struct {
	w   interface{ Write([]byte) (int, error) }
	col int
}

func (l *lineWrapper) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := 76 - l.col
		if n > len(p) {
			n = len(p)
		}
		if _, err := l.w.Write(p[:n]); err != nil {
			return written, err
		}
		written += n
		l.col += n
		p = p[n:]
		if l.col == 76 {
			if _, err := l.w.Write([]byte("\r\n")); err != nil {
				return written, err
			}
			l.col = 0
		}
	}
	return written, nil
}
