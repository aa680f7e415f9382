package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maildesk/backend/internal/models"
	"github.com/maildesk/backend/internal/outbound"
)

// TicketStore is the ticket persistence the reply handler needs. *store.Store
// satisfies it.
type TicketStore interface {
	FindTicketByNumber(ctx context.Context, tenantID, number string) (*models.Ticket, error)
	ListMessagesForTicket(ctx context.Context, ticketID string) ([]*models.TicketMessage, error)
	AppendMessage(ctx context.Context, m *models.TicketMessage) error
	SetMessageExternalID(ctx context.Context, messageID, externalID string) error
	TouchTicket(ctx context.Context, id string, at time.Time) error
}

// Sender dispatches one outbound reply. *outbound.Dispatcher satisfies it.
type Sender interface {
	Send(ctx context.Context, tenantID string, msg *outbound.Message) error
}

// ReplyHandler handles agent replies on ticket threads.
type ReplyHandler struct {
	tickets    TicketStore
	dispatcher Sender
	logger     *slog.Logger
}

// NewReplyHandler creates a new ReplyHandler instance.
func NewReplyHandler(tickets TicketStore, dispatcher Sender, logger *slog.Logger) *ReplyHandler {
	return &ReplyHandler{
		tickets:    tickets,
		dispatcher: dispatcher,
		logger:     logger.With("component", "reply_handler"),
	}
}

type replyRequest struct {
	TenantID    string                   `json:"tenant_id"`
	To          string                   `json:"to"`
	HTMLBody    string                   `json:"body_html"`
	TextBody    string                   `json:"body_text"`
	SenderName  string                   `json:"sender_name"`
	SenderEmail string                   `json:"sender_email"`
	Attachments []outbound.AttachmentRef `json:"attachments"`
}

type replyResponse struct {
	Success bool                  `json:"success"`
	Message *models.TicketMessage `json:"message"`
}

// ServeHTTP handles POST /api/v1/tickets/{number}/reply.
func (h *ReplyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/tickets/")
	number, action, _ := strings.Cut(strings.Trim(rest, "/"), "/")
	if number == "" || action != "reply" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	h.reply(w, r, number)
}

func (h *ReplyHandler) reply(w http.ResponseWriter, r *http.Request, number string) {
	ctx := r.Context()

	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.TenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}
	if req.HTMLBody == "" && req.TextBody == "" {
		http.Error(w, "body_html or body_text is required", http.StatusBadRequest)
		return
	}

	ticket, err := h.tickets.FindTicketByNumber(ctx, req.TenantID, number)
	if err != nil {
		h.logger.Error("failed to look up ticket", "number", number, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if ticket == nil {
		http.Error(w, "Ticket not found", http.StatusNotFound)
		return
	}

	to := req.To
	if to == "" {
		to = ticket.CustomerEmail
	}

	inReplyTo, references, err := h.threading(ctx, ticket.ID)
	if err != nil {
		h.logger.Error("failed to resolve threading headers", "ticket_id", ticket.ID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// The message id is generated here, not taken from the SMTP relay, so the
	// stored headers match what recipients see.
	messageID := fmt.Sprintf("<%s@maildesk>", uuid.New().String())
	now := time.Now().UTC()

	msg := &models.TicketMessage{
		TicketID:    ticket.ID,
		TenantID:    req.TenantID,
		SenderType:  models.SenderAgent,
		SenderName:  req.SenderName,
		SenderEmail: req.SenderEmail,
		BodyText:    req.TextBody,
		BodyHTML:    req.HTMLBody,
		InReplyTo:   inReplyTo,
		References:  references,
		ToAddresses: []string{to},
		SentAt:      &now,
	}
	for _, ref := range req.Attachments {
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Filename: ref.Filename,
			MimeType: ref.ContentType,
			URL:      ref.URL,
		})
	}

	if err := h.tickets.AppendMessage(ctx, msg); err != nil {
		h.logger.Error("failed to store reply", "ticket_id", ticket.ID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	err = h.dispatcher.Send(ctx, req.TenantID, &outbound.Message{
		To:          to,
		Subject:     fmt.Sprintf("Re: [Ticket #%s] %s", ticket.Number, ticket.Subject),
		HTMLBody:    req.HTMLBody,
		TextBody:    req.TextBody,
		MessageID:   messageID,
		InReplyTo:   inReplyTo,
		References:  references,
		Attachments: req.Attachments,
	})
	if err != nil {
		if errors.Is(err, outbound.ErrNoTenantConfig) ||
			errors.Is(err, outbound.ErrMissingSMTPServer) ||
			errors.Is(err, outbound.ErrMissingCredentials) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to send reply", "ticket_id", ticket.ID, "error", err)
		http.Error(w, "Failed to send reply", http.StatusBadGateway)
		return
	}

	// Stamp the external id only after the send succeeds, so a failed send
	// leaves the stored message resendable without a duplicate-id conflict.
	if err := h.tickets.SetMessageExternalID(ctx, msg.ID, messageID); err != nil {
		h.logger.Error("failed to stamp external message id", "message_id", msg.ID, "error", err)
	} else {
		msg.ExternalMessageID = messageID
	}
	if err := h.tickets.TouchTicket(ctx, ticket.ID, now); err != nil {
		h.logger.Error("failed to touch ticket", "ticket_id", ticket.ID, "error", err)
	}

	writeJSON(w, h.logger, http.StatusOK, replyResponse{Success: true, Message: msg})
}

// threading derives In-Reply-To and References for a reply: the last message
// with an external id is the parent, and the reference chain is every external
// id on the thread in order.
func (h *ReplyHandler) threading(ctx context.Context, ticketID string) (string, []string, error) {
	messages, err := h.tickets.ListMessagesForTicket(ctx, ticketID)
	if err != nil {
		return "", nil, err
	}

	var inReplyTo string
	var references []string
	for _, m := range messages {
		if m.ExternalMessageID == "" {
			continue
		}
		inReplyTo = m.ExternalMessageID
		references = append(references, m.ExternalMessageID)
	}
	return inReplyTo, references, nil
}
