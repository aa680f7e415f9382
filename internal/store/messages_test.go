package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maildesk/backend/internal/models"
)

func createTicketForMessages(t *testing.T, s *Store, tenantID string) *models.Ticket {
	t.Helper()
	ticket := sampleTicket(tenantID, "EML-20250101-0001", "a@b.com")
	require.NoError(t, s.CreateTicket(context.Background(), ticket))
	return ticket
}

func sampleMessage(ticket *models.Ticket, externalID string) *models.TicketMessage {
	sentAt := time.Now().UTC()
	return &models.TicketMessage{
		TicketID:          ticket.ID,
		TenantID:          ticket.TenantID,
		SenderType:        models.SenderCustomer,
		SenderName:        "Alice",
		SenderEmail:       "a@b.com",
		BodyText:          "Hello",
		BodyHTML:          "<p>Hello</p>",
		ExternalMessageID: externalID,
		InReplyTo:         "",
		References:        []string{"<root@b.com>"},
		FromAddress:       "a@b.com",
		ToAddresses:       []string{"support@t1.com"},
		SentAt:            &sentAt,
	}
}

func TestAppendMessageWithAttachments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ticket := createTicketForMessages(t, s, "t1")

	msg := sampleMessage(ticket, "<m1@b.com>")
	msg.Attachments = []models.Attachment{
		{Filename: "invoice.pdf", MimeType: "application/pdf", SizeBytes: 1024},
		{Filename: "logo.png", MimeType: "image/png", SizeBytes: 256, IsInline: true, ContentID: "logo"},
	}
	require.NoError(t, s.AppendMessage(ctx, msg))
	assert.NotEmpty(t, msg.ID)
	assert.NotEmpty(t, msg.Attachments[0].ID)

	messages, err := s.ListMessagesForTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	got := messages[0]
	assert.Equal(t, "<m1@b.com>", got.ExternalMessageID)
	assert.Equal(t, []string{"<root@b.com>"}, got.References)
	assert.Equal(t, []string{"support@t1.com"}, got.ToAddresses)
	require.Len(t, got.Attachments, 2)
	assert.Equal(t, "invoice.pdf", got.Attachments[0].Filename)
	assert.True(t, got.Attachments[1].IsInline)
}

func TestAppendMessageDuplicateExternalID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ticket := createTicketForMessages(t, s, "t1")

	require.NoError(t, s.AppendMessage(ctx, sampleMessage(ticket, "<m1@b.com>")))
	err := s.AppendMessage(ctx, sampleMessage(ticket, "<m1@b.com>"))
	assert.ErrorIs(t, err, ErrDuplicateMessage)

	// Messages without an external id never collide.
	require.NoError(t, s.AppendMessage(ctx, sampleMessage(ticket, "")))
	require.NoError(t, s.AppendMessage(ctx, sampleMessage(ticket, "")))
}

func TestFindMessageByExternalID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ticket := createTicketForMessages(t, s, "t1")

	msg := sampleMessage(ticket, "<m1@b.com>")
	require.NoError(t, s.AppendMessage(ctx, msg))

	got, err := s.FindMessageByExternalID(ctx, "t1", "<m1@b.com>")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, msg.ID, got.ID)

	// Tenant-scoped.
	got, err = s.FindMessageByExternalID(ctx, "t2", "<m1@b.com>")
	require.NoError(t, err)
	assert.Nil(t, got)

	// An empty external id never matches the unstamped rows.
	require.NoError(t, s.AppendMessage(ctx, sampleMessage(ticket, "")))
	got, err = s.FindMessageByExternalID(ctx, "t1", "")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSetMessageExternalID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ticket := createTicketForMessages(t, s, "t1")

	msg := sampleMessage(ticket, "")
	msg.SenderType = models.SenderAgent
	require.NoError(t, s.AppendMessage(ctx, msg))

	require.NoError(t, s.SetMessageExternalID(ctx, msg.ID, "<out-1@maildesk>"))

	got, err := s.FindMessageByExternalID(ctx, "t1", "<out-1@maildesk>")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, models.SenderAgent, got.SenderType)
}

func TestListMessagesOrderedOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ticket := createTicketForMessages(t, s, "t1")

	for _, id := range []string{"<m1@b.com>", "<m2@b.com>", "<m3@b.com>"} {
		require.NoError(t, s.AppendMessage(ctx, sampleMessage(ticket, id)))
	}

	messages, err := s.ListMessagesForTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "<m1@b.com>", messages[0].ExternalMessageID)
	assert.Equal(t, "<m3@b.com>", messages[2].ExternalMessageID)
}
