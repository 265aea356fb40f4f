// Package email sends magic-link messages over SMTP.
package email

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// Config holds SMTP transport settings. User and Pass are optional; when unset
// the client connects without authentication (local relay setups).
type Config struct {
	Host string
	Port string
	User string
	Pass string
	From string
}

type Client struct {
	cfg  Config
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

type Option func(*Client)

// WithSendFunc overrides the SMTP send function. Used by tests.
func WithSendFunc(fn func(addr string, a smtp.Auth, from string, to []string, msg []byte) error) Option {
	return func(c *Client) {
		c.send = fn
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:  cfg,
		send: smtp.SendMail,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if a transport host is set.
func (c *Client) Configured() bool {
	return c.cfg.Host != ""
}

// SendMagicLink mails the sign-in link to the address. The message is plain
// text; the link expires five minutes after issue.
func (c *Client) SendMagicLink(ctx context.Context, to, link string) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing SMTP host")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := c.cfg.From
	if from == "" {
		from = c.cfg.User
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	b.WriteString("Subject: Your Magic Link\r\n")
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Click the link to log in: %s\r\n\r\nThis link expires in 5 minutes. If you did not request it, ignore this email.\r\n", link)

	var auth smtp.Auth
	if c.cfg.User != "" {
		auth = smtp.PlainAuth("", c.cfg.User, c.cfg.Pass, c.cfg.Host)
	}

	addr := net.JoinHostPort(c.cfg.Host, c.cfg.Port)
	if err := c.send(addr, auth, from, []string{to}, []byte(b.String())); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
