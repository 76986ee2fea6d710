package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"github.com/emersion/go-message/mail"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"
)

// Notifier delivers one message to one destination address
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

type MailerConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	Timeout  time.Duration
	// RequireTLS fails the send when the server does not offer STARTTLS
	RequireTLS bool
}

// Mailer sends plain-text mail over authenticated SMTP. Port 465 uses implicit TLS, other ports STARTTLS.
type Mailer struct {
	cfg MailerConfig
	now func() time.Time
}

func NewMailer(cfg MailerConfig) *Mailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	return &Mailer{cfg: cfg, now: time.Now}
}

func (m *Mailer) addr() string {
	return net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
}

func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	msg, err := buildMessage(m.cfg.From, to, subject, body, m.now())
	if err != nil {
		return errors.Wrap(err, "could not build message")
	}

	start := time.Now()
	logger := log.WithFields(log.Fields{"smtp_addr": m.addr(), "subject": subject})

	if err := m.deliver(ctx, to, msg); err != nil {
		logger.Debugf("smtp delivery failed: %v", err)
		return errors.Wrapf(err, "could not send mail via %s", m.addr())
	}

	logger.Debugf("email sent in %s", time.Since(start))
	return nil
}

func (m *Mailer) deliver(ctx context.Context, to string, msg []byte) error {
	deadline := time.Now().Add(m.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", m.addr())
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return errors.Wrap(err, "set deadline")
	}

	tlsConfig := &tls.Config{ServerName: m.cfg.Host}
	if m.cfg.Port == 465 {
		conn = tls.Client(conn, tlsConfig)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "smtp client")
	}
	defer c.Close()

	if m.cfg.Port != 465 {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return errors.Wrap(err, "starttls")
			}
		} else if m.cfg.RequireTLS {
			return errors.New("server does not support STARTTLS")
		}
	}

	if m.cfg.User != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)); err != nil {
				return errors.Wrap(err, "auth")
			}
		}
	}

	if err := c.Mail(envelopeAddress(m.cfg.From)); err != nil {
		return errors.Wrap(err, "MAIL FROM")
	}
	if err := c.Rcpt(envelopeAddress(to)); err != nil {
		return errors.Wrap(err, "RCPT TO")
	}

	w, err := c.Data()
	if err != nil {
		return errors.Wrap(err, "DATA")
	}
	if _, err := w.Write(msg); err != nil {
		return errors.Wrap(err, "write body")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "close body")
	}

	// the message is accepted once DATA is closed
	if err := c.Quit(); err != nil {
		log.Debugf("smtp quit: %v", err)
	}
	return nil
}

// envelopeAddress strips the display name, "Desk <a@b.c>" becomes "a@b.c"
func envelopeAddress(addr string) string {
	if a, err := mail.ParseAddress(addr); err == nil {
		return a.Address
	}
	return addr
}

func buildMessage(from, to, subject, body string, date time.Time) ([]byte, error) {
	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid sender %q", from)
	}
	toAddr, err := mail.ParseAddress(to)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid recipient %q", to)
	}

	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{fromAddr})
	h.SetAddressList("To", []*mail.Address{toAddr})
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
