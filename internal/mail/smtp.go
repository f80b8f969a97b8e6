package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	netmail "net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/storefront/authserver/config"
)

const defaultSMTPTimeout = 30 * time.Second

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// SMTPSender delivers messages to an SMTP relay. STARTTLS is used when the
// relay offers it and PLAIN auth when a username is configured. Every
// exchange is bounded by the caller's deadline or the configured timeout,
// whichever comes first.
type SMTPSender struct {
	addr         string
	host         string
	from         string
	envelopeFrom string
	auth         smtp.Auth
	timeout      time.Duration
	dial         dialFunc
	now          func() time.Time
}

// NewSMTPSender constructs an SMTP sender from mail config.
func NewSMTPSender(cfg config.MailConfig) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.SMTP.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.SMTP.Port <= 0 {
		return nil, errors.New("smtp port is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("mail from address is required")
	}
	sender, err := netmail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid mail from address %q: %w", cfg.From, err)
	}

	var auth smtp.Auth
	if cfg.SMTP.Username != "" {
		auth = smtp.PlainAuth("", cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.Host)
	}

	timeout := cfg.SMTP.Timeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}

	dialer := &net.Dialer{}
	return &SMTPSender{
		addr:         net.JoinHostPort(cfg.SMTP.Host, strconv.Itoa(cfg.SMTP.Port)),
		host:         cfg.SMTP.Host,
		from:         cfg.From,
		envelopeFrom: sender.Address,
		auth:         auth,
		timeout:      timeout,
		dial:         dialer.DialContext,
		now:          time.Now,
	}, nil
}

// Send renders the message and hands it to the relay. Messages that can
// never be rendered and 5xx replies from the relay are reported as
// permanent failures.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Render(s.from, msg, s.now())
	if err != nil {
		return Permanent(err)
	}
	rcpt, err := netmail.ParseAddress(msg.To)
	if err != nil {
		return Permanent(err)
	}
	if err := s.deliver(ctx, rcpt.Address, data); err != nil {
		return fmt.Errorf("smtp send to %s: %w", s.addr, err)
	}
	return nil
}

func (s *SMTPSender) deliver(ctx context.Context, to string, data []byte) error {
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	err := s.exchange(ctx, deadline, to, data)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func (s *SMTPSender) exchange(ctx context.Context, deadline time.Time, to string, data []byte) error {
	conn, err := s.dial(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}
	// Cancellation unblocks any pending read or write.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return err
		}
	}
	if s.auth != nil {
		if ok, _ := client.Extension("AUTH"); !ok {
			return errors.New("smtp server does not support AUTH")
		}
		if err := client.Auth(s.auth); err != nil {
			return err
		}
	}
	if err := client.Mail(s.envelopeFrom); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
