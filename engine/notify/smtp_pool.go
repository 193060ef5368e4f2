package notify

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	smtpMaxIdleTime    = 5 * time.Minute
	smtpMinAuthInterval = 5 * time.Second
	smtpSocketTimeout  = 15 * time.Second
)

// SMTPConfig names the upstream mail relay.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// SMTPPool keeps one authenticated connection warm across sends, re-using it
// until it has been idle for smtpMaxIdleTime, and never re-authenticating
// more often than smtpMinAuthInterval even under a burst of sends.
type SMTPPool struct {
	cfg SMTPConfig
	log *zap.SugaredLogger

	mu         sync.Mutex
	client     *smtp.Client
	lastAuth   time.Time
	lastUsed   time.Time
}

// NewSMTPPool builds an idle pool; the first Send establishes the connection.
func NewSMTPPool(cfg SMTPConfig, log *zap.SugaredLogger) *SMTPPool {
	return &SMTPPool{cfg: cfg, log: log}
}

// Send delivers one message, reusing a warm connection where possible.
func (p *SMTPPool) Send(to []string, subject, htmlBody string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && time.Since(p.lastUsed) > smtpMaxIdleTime {
		p.log.Debugw("smtp connection idle too long, closing", "idle_for", time.Since(p.lastUsed))
		p.closeLocked()
	}

	if p.client == nil {
		if err := p.connectLocked(); err != nil {
			return err
		}
	}

	if err := p.sendLocked(to, subject, htmlBody); err != nil {
		p.log.Warnw("smtp send failed on warm connection, retrying once with a fresh one", "error", err)
		p.closeLocked()
		if err := p.connectLocked(); err != nil {
			return err
		}
		if err := p.sendLocked(to, subject, htmlBody); err != nil {
			return fmt.Errorf("smtp send after reconnect: %w", err)
		}
	}

	p.lastUsed = time.Now()
	return nil
}

func (p *SMTPPool) connectLocked() error {
	if wait := smtpMinAuthInterval - time.Since(p.lastAuth); wait > 0 && !p.lastAuth.IsZero() {
		time.Sleep(wait)
	}

	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
	conn, err := net.DialTimeout("tcp", addr, smtpSocketTimeout)
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	tlsConn := tls.Client(conn, &tls.Config{ServerName: p.cfg.Host})
	if err := tlsConn.SetDeadline(time.Now().Add(smtpSocketTimeout)); err != nil {
		return fmt.Errorf("set smtp deadline: %w", err)
	}

	client, err := smtp.NewClient(tlsConn, p.cfg.Host)
	if err != nil {
		return fmt.Errorf("smtp handshake with %s: %w", addr, err)
	}

	auth := smtp.PlainAuth("", p.cfg.User, p.cfg.Pass, p.cfg.Host)
	if err := client.Auth(auth); err != nil {
		client.Close()
		return fmt.Errorf("smtp auth as %s: %w", p.cfg.User, err)
	}

	p.client = client
	p.lastAuth = time.Now()
	return nil
}

func (p *SMTPPool) sendLocked(to []string, subject, htmlBody string) error {
	if err := p.client.Mail(p.cfg.From); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, addr := range to {
		if err := p.client.Rcpt(addr); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", addr, err)
		}
	}
	w, err := p.client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	msg := buildMIMEMessage(p.cfg.From, to, subject, htmlBody)
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("write message body: %w", err)
	}
	return w.Close()
}

func (p *SMTPPool) closeLocked() {
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
}

// Close tears down any warm connection; safe to call on a pool never used.
func (p *SMTPPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}

func buildMIMEMessage(from string, to []string, subject, htmlBody string) []byte {
	header := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n",
		from, joinAddrs(to), subject,
	)
	return []byte(header + htmlBody)
}

func joinAddrs(addrs []string) string {
	out := ""
	for i, a := range addrs {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}
