package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maildesk/backend/internal/models"
	"github.com/maildesk/backend/internal/outbound"
)

type fakeTicketStore struct {
	tickets  map[string]*models.Ticket
	messages []*models.TicketMessage
	touched  []string
	nextID   int
}

func newFakeTicketStore() *fakeTicketStore {
	return &fakeTicketStore{tickets: make(map[string]*models.Ticket)}
}

func (f *fakeTicketStore) addTicket(t *models.Ticket) {
	f.tickets[t.TenantID+"/"+t.Number] = t
}

func (f *fakeTicketStore) FindTicketByNumber(_ context.Context, tenantID, number string) (*models.Ticket, error) {
	return f.tickets[tenantID+"/"+number], nil
}

func (f *fakeTicketStore) ListMessagesForTicket(_ context.Context, ticketID string) ([]*models.TicketMessage, error) {
	var out []*models.TicketMessage
	for _, m := range f.messages {
		if m.TicketID == ticketID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeTicketStore) AppendMessage(_ context.Context, m *models.TicketMessage) error {
	f.nextID++
	m.ID = fmt.Sprintf("msg-%d", f.nextID)
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeTicketStore) SetMessageExternalID(_ context.Context, messageID, externalID string) error {
	for _, m := range f.messages {
		if m.ID == messageID {
			m.ExternalMessageID = externalID
			return nil
		}
	}
	return errors.New("message not found")
}

func (f *fakeTicketStore) TouchTicket(_ context.Context, id string, _ time.Time) error {
	f.touched = append(f.touched, id)
	return nil
}

type fakeSender struct {
	sent []*outbound.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, _ string, msg *outbound.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func newTestReplyHandler() (*ReplyHandler, *fakeTicketStore, *fakeSender) {
	tickets := newFakeTicketStore()
	sender := &fakeSender{}
	handler := NewReplyHandler(tickets, sender, slog.New(slog.DiscardHandler))
	return handler, tickets, sender
}

func seedTicket(tickets *fakeTicketStore) *models.Ticket {
	ticket := &models.Ticket{
		ID:            "tk-1",
		TenantID:      "t1",
		Number:        "EML-20250101-0001",
		Subject:       "Need help",
		CustomerEmail: "a@b.com",
		Channel:       models.ChannelEmail,
		Status:        models.TicketStatusOpen,
	}
	tickets.addTicket(ticket)
	tickets.messages = append(tickets.messages, &models.TicketMessage{
		ID:                "msg-seed",
		TicketID:          ticket.ID,
		TenantID:          "t1",
		SenderType:        models.SenderCustomer,
		ExternalMessageID: "<root@b.com>",
	})
	return ticket
}

func replyBody() map[string]any {
	return map[string]any{
		"tenant_id":    "t1",
		"body_html":    "<p>On it!</p>",
		"sender_name":  "Agent Smith",
		"sender_email": "agent@t1.com",
	}
}

func TestReplyHandler_Reply(t *testing.T) {
	t.Run("stores, sends and stamps the external id", func(t *testing.T) {
		handler, tickets, sender := newTestReplyHandler()
		ticket := seedTicket(tickets)

		rr := doJSON(t, handler, "POST", "/api/v1/tickets/EML-20250101-0001/reply", replyBody())
		assert.Equal(t, http.StatusOK, rr.Code)

		var resp replyResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.True(t, resp.Success)
		require.NotNil(t, resp.Message)
		assert.Equal(t, models.SenderAgent, resp.Message.SenderType)
		assert.True(t, strings.HasPrefix(resp.Message.ExternalMessageID, "<"))

		require.Len(t, sender.sent, 1)
		out := sender.sent[0]
		assert.Equal(t, "a@b.com", out.To)
		assert.Equal(t, "Re: [Ticket #EML-20250101-0001] Need help", out.Subject)
		assert.Equal(t, "<root@b.com>", out.InReplyTo)
		assert.Equal(t, []string{"<root@b.com>"}, out.References)
		assert.Equal(t, resp.Message.ExternalMessageID, out.MessageID)

		assert.Contains(t, tickets.touched, ticket.ID)
	})

	t.Run("returns 404 for unknown ticket", func(t *testing.T) {
		handler, _, _ := newTestReplyHandler()

		rr := doJSON(t, handler, "POST", "/api/v1/tickets/EML-20250101-9999/reply", replyBody())
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("rejects missing tenant and empty body", func(t *testing.T) {
		handler, tickets, _ := newTestReplyHandler()
		seedTicket(tickets)

		body := replyBody()
		delete(body, "tenant_id")
		rr := doJSON(t, handler, "POST", "/api/v1/tickets/EML-20250101-0001/reply", body)
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		body = replyBody()
		delete(body, "body_html")
		rr = doJSON(t, handler, "POST", "/api/v1/tickets/EML-20250101-0001/reply", body)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("maps dispatcher config errors to 400", func(t *testing.T) {
		handler, tickets, sender := newTestReplyHandler()
		seedTicket(tickets)
		sender.err = outbound.ErrMissingCredentials

		rr := doJSON(t, handler, "POST", "/api/v1/tickets/EML-20250101-0001/reply", replyBody())
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("send failure leaves the message unstamped", func(t *testing.T) {
		handler, tickets, sender := newTestReplyHandler()
		seedTicket(tickets)
		sender.err = errors.New("relay unreachable")

		rr := doJSON(t, handler, "POST", "/api/v1/tickets/EML-20250101-0001/reply", replyBody())
		assert.Equal(t, http.StatusBadGateway, rr.Code)

		require.Len(t, tickets.messages, 2)
		assert.Empty(t, tickets.messages[1].ExternalMessageID)
		assert.Empty(t, tickets.touched)
	})

	t.Run("explicit recipient overrides the customer email", func(t *testing.T) {
		handler, tickets, sender := newTestReplyHandler()
		seedTicket(tickets)

		body := replyBody()
		body["to"] = "other@b.com"
		rr := doJSON(t, handler, "POST", "/api/v1/tickets/EML-20250101-0001/reply", body)
		assert.Equal(t, http.StatusOK, rr.Code)

		require.Len(t, sender.sent, 1)
		assert.Equal(t, "other@b.com", sender.sent[0].To)
	})

	t.Run("rejects non-POST and malformed paths", func(t *testing.T) {
		handler, _, _ := newTestReplyHandler()

		rr := doJSON(t, handler, "GET", "/api/v1/tickets/EML-20250101-0001/reply", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

		rr = doJSON(t, handler, "POST", "/api/v1/tickets/EML-20250101-0001/close", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
