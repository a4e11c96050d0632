// Package smtp provides a send-only backend: adding a message submits
// it to an SMTP server, addressed to the recipients named in its
// headers. Every other operation reports ErrNotSupported.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/nhle/mailmirror/internal/backend"
	"github.com/nhle/mailmirror/internal/model"
)

// Config holds the SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// TLS selects implicit TLS; otherwise the connection upgrades via
	// STARTTLS.
	TLS bool
}

// Backend submits messages over SMTP. It dials per send; submission is
// rare enough that holding a session open buys nothing.
type Backend struct {
	name string
	cfg  Config
}

func New(name string, cfg Config) *Backend {
	return &Backend{name: name, cfg: cfg}
}

func (b *Backend) Name() string       { return b.name }
func (b *Backend) Kind() backend.Kind { return backend.KindSMTP }

func (b *Backend) Capabilities() backend.CapabilitySet {
	return backend.NewCapabilitySet(backend.CanAddMessage)
}

func (b *Backend) Close() error { return nil }

// AddMessage sends body to the recipients listed in its To, Cc and Bcc
// headers. The folder argument is ignored and the returned ID is empty;
// SMTP offers no handle to a sent message.
func (b *Backend) AddMessage(_ context.Context, _ string, body []byte, _ model.FlagSet) (string, error) {
	from, rcpts, err := extractAddresses(body)
	if err != nil {
		return "", err
	}
	if len(rcpts) == 0 {
		return "", fmt.Errorf("message has no recipients")
	}

	client, err := b.dial()
	if err != nil {
		return "", err
	}
	defer client.Close()

	if b.cfg.Username != "" {
		auth := sasl.NewPlainClient("", b.cfg.Username, b.cfg.Password)
		if err := client.Auth(auth); err != nil {
			return "", &backend.AuthError{Backend: b.name, Message: err.Error()}
		}
	}

	if err := client.SendMail(from, rcpts, bytes.NewReader(body)); err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	return "", client.Quit()
}

func (b *Backend) dial() (*gosmtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", b.cfg.Host, b.cfg.Port)
	tlsConfig := &tls.Config{ServerName: b.cfg.Host}

	var (
		client *gosmtp.Client
		err    error
	)
	if b.cfg.TLS {
		client, err = gosmtp.DialTLS(addr, tlsConfig)
	} else {
		client, err = gosmtp.DialStartTLS(addr, tlsConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return client, nil
}

// extractAddresses pulls the envelope sender and recipients out of the
// message headers.
func extractAddresses(body []byte) (from string, rcpts []string, err error) {
	mr, err := mail.CreateReader(bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("parsing message headers: %w", err)
	}
	defer mr.Close()

	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		from = addrs[0].Address
	}
	if from == "" {
		return "", nil, fmt.Errorf("message has no From address")
	}

	seen := make(map[string]bool)
	for _, field := range []string{"To", "Cc", "Bcc"} {
		addrs, err := mr.Header.AddressList(field)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			lower := strings.ToLower(a.Address)
			if !seen[lower] {
				seen[lower] = true
				rcpts = append(rcpts, a.Address)
			}
		}
	}
	return from, rcpts, nil
}

func (b *Backend) ListFolders(context.Context) ([]model.Folder, error) {
	return nil, backend.ErrNotSupported
}

func (b *Backend) AddFolder(context.Context, string) error {
	return backend.ErrNotSupported
}

func (b *Backend) DeleteFolder(context.Context, string) error {
	return backend.ErrNotSupported
}

func (b *Backend) ExpungeFolder(context.Context, string) error {
	return backend.ErrNotSupported
}

func (b *Backend) ListEnvelopes(context.Context, string, backend.Page) ([]model.Envelope, error) {
	return nil, backend.ErrNotSupported
}

func (b *Backend) GetMessage(context.Context, string, string) (*model.Message, error) {
	return nil, backend.ErrNotSupported
}

func (b *Backend) SetFlags(context.Context, string, string, model.FlagSet) error {
	return backend.ErrNotSupported
}

func (b *Backend) AddFlags(context.Context, string, string, model.FlagSet) error {
	return backend.ErrNotSupported
}

func (b *Backend) RemoveFlags(context.Context, string, string, model.FlagSet) error {
	return backend.ErrNotSupported
}

func (b *Backend) CopyMessage(context.Context, string, string, string) (string, error) {
	return "", backend.ErrNotSupported
}

func (b *Backend) MoveMessage(context.Context, string, string, string) (string, error) {
	return "", backend.ErrNotSupported
}

func (b *Backend) DeleteMessage(context.Context, string, string) error {
	return backend.ErrNotSupported
}
