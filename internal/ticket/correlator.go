package ticket

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/maildesk/backend/internal/models"
	"github.com/maildesk/backend/internal/store"
)

// Marker headers stamped on the system's own outbound ticket notifications.
// The notification-loop guard relies on at least one of the header pair or
// the notification subject being present.
const (
	MarkerTicketHeader = "X-Maildesk-Ticket"
	MarkerSourceHeader = "X-Maildesk-Source"
	MarkerSourceWidget = "widget"
)

// notificationSubjectPattern recognizes the subject of our own widget-ticket
// notifications so replies to (or loops of) them are never ingested as new
// customer tickets.
var notificationSubjectPattern = regexp.MustCompile(`(?i)^(?:(?:re|fwd?):\s*)*new ticket\s+#?(EML-\d{8}-\d{4})?`)

// recentWidgetWindow is how far back the recency fallback looks for a
// non-closed widget ticket from the same sender.
const recentWidgetWindow = 6 * time.Hour

// InboundEmail is a parsed inbound message handed to the Correlator.
type InboundEmail struct {
	FromAddress string
	FromName    string
	Subject     string
	MessageID   string
	InReplyTo   string
	References  []string
	Text        string
	HTML        string
	Attachments []models.Attachment
	Date        time.Time

	// Marker header values, empty unless the message is one of our own
	// notifications.
	MarkerTicket string
	MarkerSource string
}

// Store is the persistence contract the Correlator needs. Find* methods
// return (nil, nil) when nothing matches. *store.Store satisfies it.
type Store interface {
	FindMessageByExternalID(ctx context.Context, tenantID, externalID string) (*models.TicketMessage, error)
	FindTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	FindTicketByNumber(ctx context.Context, tenantID, number string) (*models.Ticket, error)
	FindTicketByNumberForSender(ctx context.Context, tenantID, number, email string) (*models.Ticket, error)
	FindRecentWidgetTicket(ctx context.Context, tenantID, email string, since time.Time) (*models.Ticket, error)
	HighestTicketSuffix(ctx context.Context, tenantID, prefix string) (int, error)
	CreateTicket(ctx context.Context, t *models.Ticket) error
	AppendMessage(ctx context.Context, m *models.TicketMessage) error
	TouchTicket(ctx context.Context, id string, at time.Time) error
}

// Correlator maps an inbound email to exactly one ticket and appends a thread
// message to it. It provides no transactional guarantee across its lookup and
// create steps; each tenant mailbox has exactly one watcher, so concurrent
// deliveries of the same message are not expected.
type Correlator struct {
	store     Store
	logger    *slog.Logger
	sanitizer *bluemonday.Policy
	now       func() time.Time
}

// NewCorrelator creates a Correlator over the given store.
func NewCorrelator(s Store, logger *slog.Logger) *Correlator {
	return &Correlator{
		store:     s,
		logger:    logger.With("component", "correlator"),
		sanitizer: bluemonday.UGCPolicy(),
		now:       time.Now,
	}
}

// Ingest decides which ticket an inbound email belongs to and appends it as a
// thread message, creating a new ticket when nothing matches. Notification
// loops resolve to their referenced ticket (possibly nil) without creating a
// message. Re-processing a message with a known external Message-ID returns
// its ticket unmodified.
func (c *Correlator) Ingest(ctx context.Context, tenantID string, msg *InboundEmail) (*models.Ticket, error) {
	receivedAt := msg.Date
	if receivedAt.IsZero() {
		receivedAt = c.now()
	}

	// 1. Notification-loop guard.
	if t, handled, err := c.resolveNotification(ctx, tenantID, msg); handled {
		return t, err
	}

	// 2. Exact duplicate by external Message-ID.
	if msg.MessageID != "" {
		existing, err := c.store.FindMessageByExternalID(ctx, tenantID, msg.MessageID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			c.logger.Debug("duplicate message, returning existing ticket",
				"tenant_id", tenantID, "message_id", msg.MessageID)
			return c.store.FindTicketByID(ctx, existing.TicketID)
		}
	}

	// 3. In-Reply-To matches a stored message.
	if msg.InReplyTo != "" {
		parent, err := c.store.FindMessageByExternalID(ctx, tenantID, msg.InReplyTo)
		if err != nil {
			return nil, err
		}
		if parent != nil {
			t, err := c.store.FindTicketByID(ctx, parent.TicketID)
			if err != nil {
				return nil, err
			}
			if t != nil {
				c.logger.Debug("matched by in-reply-to",
					"tenant_id", tenantID, "ticket", t.Number)
				return c.append(ctx, t, msg, receivedAt)
			}
		}
	}

	// 4. Ticket number embedded in the subject, sender must match.
	if number := NumberFromSubject(msg.Subject); number != "" && msg.FromAddress != "" {
		t, err := c.store.FindTicketByNumberForSender(ctx, tenantID, number, msg.FromAddress)
		if err != nil {
			return nil, err
		}
		if t != nil {
			c.logger.Debug("matched by subject ticket number",
				"tenant_id", tenantID, "ticket", t.Number)
			return c.append(ctx, t, msg, receivedAt)
		}
	}

	// 5. Recency fallback: the sender's latest open widget ticket. Covers
	// customers replying from clients that drop threading headers.
	if msg.FromAddress != "" {
		t, err := c.store.FindRecentWidgetTicket(ctx, tenantID, msg.FromAddress, receivedAt.Add(-recentWidgetWindow))
		if err != nil {
			return nil, err
		}
		if t != nil {
			c.logger.Debug("matched by recent widget ticket",
				"tenant_id", tenantID, "ticket", t.Number)
			return c.append(ctx, t, msg, receivedAt)
		}
	}

	// 6. Nothing matched: open a new ticket.
	return c.create(ctx, tenantID, msg, receivedAt)
}

// resolveNotification handles messages that are our own ticket notifications.
// The second return value reports whether the message was handled here.
func (c *Correlator) resolveNotification(ctx context.Context, tenantID string, msg *InboundEmail) (*models.Ticket, bool, error) {
	number := ""
	switch {
	case msg.MarkerTicket != "" && msg.MarkerSource == MarkerSourceWidget:
		number = msg.MarkerTicket
	case notificationSubjectPattern.MatchString(msg.Subject):
		number = NumberFromSubject(msg.Subject)
	default:
		return nil, false, nil
	}

	if number == "" {
		c.logger.Warn("notification message without resolvable ticket number",
			"tenant_id", tenantID, "subject", msg.Subject)
		return nil, true, nil
	}

	t, err := c.store.FindTicketByNumber(ctx, tenantID, number)
	if err != nil {
		return nil, true, err
	}
	c.logger.Debug("suppressed notification loop",
		"tenant_id", tenantID, "ticket_number", number, "found", t != nil)
	return t, true, nil
}

// append records the email as a customer message on an existing ticket.
// Appending reopens a closed ticket and always refreshes last activity.
func (c *Correlator) append(ctx context.Context, t *models.Ticket, msg *InboundEmail, receivedAt time.Time) (*models.Ticket, error) {
	m := c.buildMessage(t, msg, receivedAt)
	if err := c.store.AppendMessage(ctx, m); err != nil {
		if errors.Is(err, store.ErrDuplicateMessage) {
			// Lost a race with another delivery of the same message.
			return t, nil
		}
		return nil, fmt.Errorf("failed to append message to ticket %s: %w", t.Number, err)
	}

	if err := c.store.TouchTicket(ctx, t.ID, receivedAt); err != nil {
		return nil, err
	}
	if t.Status == models.TicketStatusClosed {
		t.Status = models.TicketStatusOpen
	}
	t.LastActivityAt = receivedAt
	return t, nil
}

// create allocates a fresh per-day ticket number and opens a new email-channel
// ticket with this message as its thread root. The number allocation is not
// atomic under concurrent creation; the store's unique index surfaces the
// collision as an error.
func (c *Correlator) create(ctx context.Context, tenantID string, msg *InboundEmail, receivedAt time.Time) (*models.Ticket, error) {
	prefix := DayPrefix(receivedAt)
	highest, err := c.store.HighestTicketSuffix(ctx, tenantID, prefix)
	if err != nil {
		return nil, err
	}

	t := &models.Ticket{
		TenantID:       tenantID,
		Number:         FormatNumber(prefix, highest+1),
		Subject:        msg.Subject,
		CustomerName:   msg.FromName,
		CustomerEmail:  msg.FromAddress,
		Channel:        models.ChannelEmail,
		Status:         models.TicketStatusPending,
		Priority:       "normal",
		ThreadRootID:   msg.MessageID,
		LastActivityAt: receivedAt,
	}
	if err := c.store.CreateTicket(ctx, t); err != nil {
		return nil, err
	}

	if err := c.store.AppendMessage(ctx, c.buildMessage(t, msg, receivedAt)); err != nil {
		return nil, fmt.Errorf("failed to append first message to ticket %s: %w", t.Number, err)
	}

	c.logger.Info("created ticket from email",
		"tenant_id", tenantID, "ticket", t.Number, "from", msg.FromAddress)
	return t, nil
}

func (c *Correlator) buildMessage(t *models.Ticket, msg *InboundEmail, receivedAt time.Time) *models.TicketMessage {
	bodyHTML := msg.HTML
	if bodyHTML == "" && msg.Text != "" {
		bodyHTML = strings.ReplaceAll(html.EscapeString(msg.Text), "\n", "<br>")
	}

	sentAt := receivedAt
	return &models.TicketMessage{
		TicketID:          t.ID,
		TenantID:          t.TenantID,
		SenderType:        models.SenderCustomer,
		SenderName:        msg.FromName,
		SenderEmail:       msg.FromAddress,
		BodyText:          msg.Text,
		BodyHTML:          c.sanitizer.Sanitize(bodyHTML),
		ExternalMessageID: msg.MessageID,
		InReplyTo:         msg.InReplyTo,
		References:        msg.References,
		FromAddress:       msg.FromAddress,
		SentAt:            &sentAt,
		Attachments:       msg.Attachments,
	}
}
