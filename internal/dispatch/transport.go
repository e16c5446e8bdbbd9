// internal/dispatch/transport.go
package dispatch

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/ecellhub/email-engine/internal/config"
)

// Message is one rendered email ready for the outbound transport.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Transport is the outbound mail collaborator consumed by the engine.
type Transport interface {
	Send(ctx context.Context, msg Message) error
	Ping(ctx context.Context) error
}

// SMTPTransport sends through an SMTP server. Connections are pooled
// and reused across the concurrent delivery units of one dispatch.
type SMTPTransport struct {
	dialer *gomail.Dialer
	from   string
	pool   chan gomail.SendCloser
}

func NewSMTPTransport(cfg config.SMTPConfig, poolSize int) *SMTPTransport {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.TLS
	if poolSize < 1 {
		poolSize = 1
	}
	return &SMTPTransport{
		dialer: d,
		from:   cfg.From,
		pool:   make(chan gomail.SendCloser, poolSize),
	}
}

func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	sc, err := t.acquire()
	if err != nil {
		return fmt.Errorf("smtp connect failed: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", t.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	} else {
		m.SetBody("text/html", msg.HTML)
	}

	done := make(chan error, 1)
	go func() { done <- gomail.Send(sc, m) }()

	select {
	case err := <-done:
		if err != nil {
			sc.Close()
			return err
		}
		t.release(sc)
		return nil
	case <-ctx.Done():
		// The in-flight SMTP exchange is abandoned, not aborted; the
		// connection stays out of the pool and is closed once the
		// send goroutine returns.
		go func() {
			<-done
			sc.Close()
		}()
		return ctx.Err()
	}
}

// Ping verifies the transport configuration by dialing and closing a
// connection. Used by the test-connection endpoint.
func (t *SMTPTransport) Ping(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		sc, err := t.dialer.Dial()
		if err == nil {
			sc.Close()
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *SMTPTransport) acquire() (gomail.SendCloser, error) {
	select {
	case sc := <-t.pool:
		return sc, nil
	default:
		return t.dialer.Dial()
	}
}

func (t *SMTPTransport) release(sc gomail.SendCloser) {
	select {
	case t.pool <- sc:
	default:
		sc.Close()
	}
}

// Close drains the connection pool.
func (t *SMTPTransport) Close() {
	for {
		select {
		case sc := <-t.pool:
			sc.Close()
		default:
			return
		}
	}
}

var _ Transport = (*SMTPTransport)(nil)
