package mailbox

import (
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"

	"github.com/maildesk/backend/internal/models"
	"github.com/maildesk/backend/internal/ticket"
)

// parseInbound converts a fetched IMAP message into the correlator's inbound
// shape. Header metadata comes from the IMAP envelope; body, attachments, and
// extension headers come from the MIME payload.
func parseInbound(imapMsg *imap.Message, section *imap.BodySectionName) (*ticket.InboundEmail, error) {
	if imapMsg == nil {
		return nil, fmt.Errorf("imap message is nil")
	}

	msg := &ticket.InboundEmail{}

	if env := imapMsg.Envelope; env != nil {
		msg.Subject = env.Subject
		msg.MessageID = env.MessageId
		msg.InReplyTo = env.InReplyTo
		if !env.Date.IsZero() {
			msg.Date = env.Date
		}
		if len(env.From) > 0 && env.From[0] != nil {
			msg.FromName = env.From[0].PersonalName
			msg.FromAddress = env.From[0].Address()
		}
	}

	bodyReader := imapMsg.GetBody(section)
	if bodyReader == nil {
		return msg, nil
	}

	envelope, err := enmime.ReadEnvelope(bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message body: %w", err)
	}

	msg.Text = envelope.Text
	msg.HTML = envelope.HTML

	if msg.MessageID == "" {
		msg.MessageID = envelope.GetHeader("Message-Id")
	}
	if msg.InReplyTo == "" {
		msg.InReplyTo = envelope.GetHeader("In-Reply-To")
	}
	msg.References = strings.Fields(envelope.GetHeader("References"))
	msg.MarkerTicket = envelope.GetHeader(ticket.MarkerTicketHeader)
	msg.MarkerSource = envelope.GetHeader(ticket.MarkerSourceHeader)

	for _, part := range envelope.Attachments {
		att := models.Attachment{
			Filename:  part.FileName,
			MimeType:  part.ContentType,
			SizeBytes: int64(len(part.Content)),
		}
		if part.ContentID != "" {
			att.ContentID = part.ContentID
			att.IsInline = true
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	return msg, nil
}
