package outbound

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/jhillyerd/enmime"
	"github.com/microcosm-cc/bluemonday"

	"github.com/maildesk/backend/internal/models"
	"github.com/maildesk/backend/internal/vault"
)

// Configuration errors surfaced to the caller before a send is attempted.
// None of them are retried.
var (
	ErrNoTenantConfig     = errors.New("no enabled mailbox config for tenant")
	ErrMissingSMTPServer  = errors.New("mailbox config is missing SMTP host or port")
	ErrMissingCredentials = errors.New("mailbox config is missing SMTP username or password")
)

// ConfigSource resolves a tenant's enabled mailbox config; nil means the
// tenant has none. *store.Store satisfies it.
type ConfigSource interface {
	FindEnabledConfigForTenant(ctx context.Context, tenantID string) (*models.MailboxConfig, error)
}

// AttachmentRef points at already-uploaded media to attach by URL. The
// content is fetched at send time, never re-uploaded.
type AttachmentRef struct {
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// Message is one outbound reply. MessageID must be pre-generated by the
// caller so stored threading headers stay consistent; the transport's own
// identifier is not used.
type Message struct {
	To          string
	Subject     string
	HTMLBody    string
	TextBody    string
	MessageID   string
	InReplyTo   string
	References  []string
	Attachments []AttachmentRef
}

// Dispatcher sends agent replies through each tenant's configured SMTP relay.
// Send failures are surfaced to the caller; there is no automatic retry.
type Dispatcher struct {
	configs    ConfigSource
	vault      *vault.Vault
	logger     *slog.Logger
	httpClient *http.Client
	stripper   *bluemonday.Policy
}

// NewDispatcher creates a Dispatcher over the given config source.
func NewDispatcher(configs ConfigSource, v *vault.Vault, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		configs:    configs,
		vault:      v,
		logger:     logger.With("component", "outbound_dispatcher"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		stripper:   bluemonday.StrictPolicy(),
	}
}

// Send resolves the tenant's SMTP credentials and dispatches one
// correctly-threaded email.
func (d *Dispatcher) Send(ctx context.Context, tenantID string, msg *Message) error {
	cfg, err := d.configs.FindEnabledConfigForTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("%w: %s", ErrNoTenantConfig, tenantID)
	}
	if cfg.SMTPHost == "" || cfg.SMTPPort == 0 {
		return ErrMissingSMTPServer
	}

	username := cfg.SMTPUsername
	password := d.vault.Decrypt(cfg.SMTPPassword)
	if username == "" || password == "" {
		return ErrMissingCredentials
	}

	part, err := d.build(ctx, cfg, msg)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	if err := d.transmit(cfg, username, password, cfg.Address, msg.To, &buf); err != nil {
		return fmt.Errorf("failed to send via %s:%d: %w", cfg.SMTPHost, cfg.SMTPPort, err)
	}

	d.logger.Info("reply sent",
		"tenant_id", tenantID, "to", msg.To, "message_id", msg.MessageID)
	return nil
}

// build assembles the MIME message with threading headers preserved verbatim.
func (d *Dispatcher) build(ctx context.Context, cfg *models.MailboxConfig, msg *Message) (*enmime.Part, error) {
	text := msg.TextBody
	if text == "" && msg.HTMLBody != "" {
		text = html.UnescapeString(d.stripper.Sanitize(msg.HTMLBody))
	}

	builder := enmime.Builder().
		From(cfg.SMTPFromName, cfg.Address).
		To("", msg.To).
		Subject(msg.Subject).
		Date(time.Now()).
		Text([]byte(text))

	if msg.HTMLBody != "" {
		builder = builder.HTML([]byte(msg.HTMLBody))
	}
	if msg.MessageID != "" {
		builder = builder.Header("Message-Id", msg.MessageID)
	}
	if msg.InReplyTo != "" {
		builder = builder.Header("In-Reply-To", msg.InReplyTo)
	}
	if len(msg.References) > 0 {
		builder = builder.Header("References", strings.Join(msg.References, " "))
	}

	// Attachment fetch is best-effort: a dead URL loses that attachment,
	// logged, and the reply still goes out.
	for _, ref := range msg.Attachments {
		data, err := d.fetchAttachment(ctx, ref.URL)
		if err != nil {
			d.logger.Warn("skipping unfetchable attachment", "url", ref.URL, "error", err)
			continue
		}
		builder = builder.AddAttachment(data, ref.ContentType, ref.Filename)
	}

	part, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}
	return part, nil
}

func (d *Dispatcher) fetchAttachment(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// transmit speaks SMTP to the tenant's relay. Port 465 or the secure flag
// selects implicit TLS; otherwise STARTTLS is used when the server offers it.
func (d *Dispatcher) transmit(cfg *models.MailboxConfig, username, password, from, to string, body io.Reader) error {
	addr := net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort))

	var c *smtp.Client
	var err error
	if cfg.SMTPSecure || cfg.SMTPPort == 465 {
		c, err = smtp.DialTLS(addr, nil)
	} else {
		c, err = smtp.Dial(addr)
		if err == nil {
			if ok, _ := c.Extension("STARTTLS"); ok {
				_ = c.Close()
				c, err = smtp.DialStartTLS(addr, nil)
			}
		}
	}
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.Auth(sasl.NewPlainClient("", username, password)); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	if err := c.Mail(from, nil); err != nil {
		return err
	}
	if err := c.Rcpt(to, nil); err != nil {
		return err
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return c.Quit()
}
