package models

import "time"

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketStatusOpen    TicketStatus = "open"
	TicketStatusPending TicketStatus = "pending"
	TicketStatusClosed  TicketStatus = "closed"
)

// TicketChannel identifies where a ticket originated.
type TicketChannel string

const (
	ChannelEmail    TicketChannel = "email"
	ChannelInternal TicketChannel = "internal"
	ChannelWidget   TicketChannel = "widget"
)

// SenderType identifies who authored a ticket message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
	SenderQA       SenderType = "qa"
	SenderTL       SenderType = "tl"
	SenderSystem   SenderType = "system"
)

// Ticket is one support conversation. The number is unique per tenant and
// monotonically increasing per day (EML-YYYYMMDD-NNNN).
type Ticket struct {
	ID             string        `json:"id"`
	TenantID       string        `json:"tenant_id"`
	Number         string        `json:"number"`
	Subject        string        `json:"subject"`
	CustomerName   string        `json:"customer_name"`
	CustomerEmail  string        `json:"customer_email"`
	Channel        TicketChannel `json:"channel"`
	Status         TicketStatus  `json:"status"`
	Priority       string        `json:"priority"`
	TeamInbox      string        `json:"team_inbox"`
	AssigneeID     string        `json:"assignee_id"`
	AssignerID     string        `json:"assigner_id"`
	AssignedAt     *time.Time    `json:"assigned_at"`
	Tags           []string      `json:"tags"`
	ThreadRootID   string        `json:"thread_root_id"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	CreatedAt      time.Time     `json:"created_at"`
}

// TicketMessage is one inbound or outbound message within a ticket thread.
// ExternalMessageID is the email Message-ID; when present it is unique per
// tenant and serves as the de-duplication key. A message is immutable after
// creation except for the deferred external-ID stamp on outbound sends.
type TicketMessage struct {
	ID                string       `json:"id"`
	TicketID          string       `json:"ticket_id"`
	TenantID          string       `json:"tenant_id"`
	SenderType        SenderType   `json:"sender_type"`
	SenderName        string       `json:"sender_name"`
	SenderEmail       string       `json:"sender_email"`
	BodyText          string       `json:"body_text"`
	BodyHTML          string       `json:"body_html"`
	ExternalMessageID string       `json:"external_message_id"`
	InReplyTo         string       `json:"in_reply_to"`
	References        []string     `json:"references"`
	FromAddress       string       `json:"from_address"`
	ToAddresses       []string     `json:"to_addresses"`
	CCAddresses       []string     `json:"cc_addresses"`
	SentAt            *time.Time   `json:"sent_at"`
	CreatedAt         time.Time    `json:"created_at"`
	Attachments       []Attachment `json:"attachments,omitempty"`
}

// Attachment describes one attachment of a ticket message. Inbound
// attachments carry MIME metadata; outbound ones reference uploaded media by
// URL.
type Attachment struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	IsInline  bool   `json:"is_inline"`
	ContentID string `json:"content_id,omitempty"`
	URL       string `json:"url,omitempty"`
}
