package mailbox

import (
	"bytes"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maildesk/backend/internal/ticket"
)

func fetchedMessage(envelope *imap.Envelope, raw string) (*imap.Message, *imap.BodySectionName) {
	section := &imap.BodySectionName{}
	msg := &imap.Message{
		Envelope: envelope,
		Body: map[*imap.BodySectionName]imap.Literal{
			section: bytes.NewBufferString(raw),
		},
	}
	return msg, section
}

func TestParseInbound(t *testing.T) {
	date := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	envelope := &imap.Envelope{
		Subject:   "Need help",
		MessageId: "<m1@b.com>",
		InReplyTo: "<root@b.com>",
		Date:      date,
		From: []*imap.Address{
			{PersonalName: "Alice", MailboxName: "a", HostName: "b.com"},
		},
	}
	raw := "Message-ID: <m1@b.com>\r\n" +
		"From: Alice <a@b.com>\r\n" +
		"Subject: Need help\r\n" +
		"References: <root@b.com> <mid@b.com>\r\n" +
		"Content-Type: multipart/alternative; boundary=xyz\r\n" +
		"\r\n" +
		"--xyz\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Plain body\r\n" +
		"--xyz\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>HTML body</p>\r\n" +
		"--xyz--\r\n"

	msg, section := fetchedMessage(envelope, raw)
	inbound, err := parseInbound(msg, section)
	require.NoError(t, err)

	assert.Equal(t, "Need help", inbound.Subject)
	assert.Equal(t, "<m1@b.com>", inbound.MessageID)
	assert.Equal(t, "<root@b.com>", inbound.InReplyTo)
	assert.Equal(t, date, inbound.Date)
	assert.Equal(t, "Alice", inbound.FromName)
	assert.Equal(t, "a@b.com", inbound.FromAddress)
	assert.Equal(t, "Plain body", inbound.Text)
	assert.Contains(t, inbound.HTML, "<p>HTML body</p>")
	assert.Equal(t, []string{"<root@b.com>", "<mid@b.com>"}, inbound.References)
	assert.Empty(t, inbound.MarkerTicket)
}

func TestParseInboundMarkerHeaders(t *testing.T) {
	raw := "Message-ID: <n1@maildesk>\r\n" +
		"Subject: New ticket #EML-20250101-0001\r\n" +
		ticket.MarkerTicketHeader + ": tk-1\r\n" +
		ticket.MarkerSourceHeader + ": widget\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Notification body\r\n"

	msg, section := fetchedMessage(&imap.Envelope{
		Subject:   "New ticket #EML-20250101-0001",
		MessageId: "<n1@maildesk>",
	}, raw)

	inbound, err := parseInbound(msg, section)
	require.NoError(t, err)
	assert.Equal(t, "tk-1", inbound.MarkerTicket)
	assert.Equal(t, "widget", inbound.MarkerSource)
}

func TestParseInboundAttachments(t *testing.T) {
	raw := "Message-ID: <m2@b.com>\r\n" +
		"Subject: With attachment\r\n" +
		"Content-Type: multipart/mixed; boundary=abc\r\n" +
		"\r\n" +
		"--abc\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"See attached\r\n" +
		"--abc\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"invoice.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"JVBERi0xLjQ=\r\n" +
		"--abc--\r\n"

	msg, section := fetchedMessage(&imap.Envelope{MessageId: "<m2@b.com>"}, raw)
	inbound, err := parseInbound(msg, section)
	require.NoError(t, err)

	require.Len(t, inbound.Attachments, 1)
	att := inbound.Attachments[0]
	assert.Equal(t, "invoice.pdf", att.Filename)
	assert.Equal(t, "application/pdf", att.MimeType)
	assert.Greater(t, att.SizeBytes, int64(0))
	assert.False(t, att.IsInline)
}

func TestParseInboundWithoutBody(t *testing.T) {
	section := &imap.BodySectionName{}
	msg := &imap.Message{
		Envelope: &imap.Envelope{Subject: "Header only", MessageId: "<m3@b.com>"},
	}

	inbound, err := parseInbound(msg, section)
	require.NoError(t, err)
	assert.Equal(t, "Header only", inbound.Subject)
	assert.Empty(t, inbound.Text)

	_, err = parseInbound(nil, section)
	assert.Error(t, err)
}
