package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/maildesk/backend/internal/models"
)

const messageColumns = `
	id,
	ticket_id,
	tenant_id,
	sender_type,
	sender_name,
	sender_email,
	body_text,
	body_html,
	external_message_id,
	in_reply_to,
	references_ids,
	from_address,
	to_addresses,
	cc_addresses,
	sent_at,
	created_at`

func scanMessage(row pgx.Row) (*models.TicketMessage, error) {
	var m models.TicketMessage
	err := row.Scan(
		&m.ID,
		&m.TicketID,
		&m.TenantID,
		&m.SenderType,
		&m.SenderName,
		&m.SenderEmail,
		&m.BodyText,
		&m.BodyHTML,
		&m.ExternalMessageID,
		&m.InReplyTo,
		&m.References,
		&m.FromAddress,
		&m.ToAddresses,
		&m.CCAddresses,
		&m.SentAt,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// AppendMessage inserts a thread message and its attachments in one
// transaction. Returns ErrDuplicateMessage if the external message ID already
// exists for the tenant.
func (s *Store) AppendMessage(ctx context.Context, m *models.TicketMessage) error {
	if m.References == nil {
		m.References = []string{}
	}
	if m.ToAddresses == nil {
		m.ToAddresses = []string{}
	}
	if m.CCAddresses == nil {
		m.CCAddresses = []string{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO ticket_messages (
			ticket_id,
			tenant_id,
			sender_type,
			sender_name,
			sender_email,
			body_text,
			body_html,
			external_message_id,
			in_reply_to,
			references_ids,
			from_address,
			to_addresses,
			cc_addresses,
			sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at
	`,
		m.TicketID,
		m.TenantID,
		m.SenderType,
		m.SenderName,
		m.SenderEmail,
		m.BodyText,
		m.BodyHTML,
		m.ExternalMessageID,
		m.InReplyTo,
		m.References,
		m.FromAddress,
		m.ToAddresses,
		m.CCAddresses,
		m.SentAt,
	).Scan(&m.ID, &m.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("failed to insert ticket message: %w", err)
	}

	for i := range m.Attachments {
		att := &m.Attachments[i]
		att.MessageID = m.ID
		err := tx.QueryRow(ctx, `
			INSERT INTO ticket_attachments (
				message_id, filename, mime_type, size_bytes, is_inline, content_id, url
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, att.MessageID, att.Filename, att.MimeType, att.SizeBytes, att.IsInline, att.ContentID, att.URL).Scan(&att.ID)
		if err != nil {
			return fmt.Errorf("failed to insert attachment: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	return nil
}

// FindMessageByExternalID returns a tenant's message by its external
// Message-ID, or nil if no such message exists.
func (s *Store) FindMessageByExternalID(ctx context.Context, tenantID, externalID string) (*models.TicketMessage, error) {
	if externalID == "" {
		return nil, nil
	}
	m, err := scanMessage(s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM ticket_messages
		WHERE tenant_id = $1 AND external_message_id = $2
	`, tenantID, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message by external id: %w", err)
	}
	return m, nil
}

// SetMessageExternalID stamps the external Message-ID on a stored message
// after an outbound send succeeds, making later threading lookups possible.
func (s *Store) SetMessageExternalID(ctx context.Context, messageID, externalID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE ticket_messages SET external_message_id = $2 WHERE id = $1`,
		messageID, externalID)
	if err != nil {
		return fmt.Errorf("failed to set external message id: %w", err)
	}
	return nil
}

// ListMessagesForTicket returns a ticket's messages with their attachments,
// oldest first.
func (s *Store) ListMessagesForTicket(ctx context.Context, ticketID string) ([]*models.TicketMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM ticket_messages
		WHERE ticket_id = $1
		ORDER BY created_at
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ticket messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.TicketMessage
	byID := make(map[string]*models.TicketMessage)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket message: %w", err)
		}
		messages = append(messages, m)
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ticket messages: %w", err)
	}

	if len(messages) == 0 {
		return messages, nil
	}

	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}

	attRows, err := s.pool.Query(ctx, `
		SELECT id, message_id, filename, mime_type, size_bytes, is_inline, content_id, url
		FROM ticket_attachments
		WHERE message_id = ANY($1)
		ORDER BY message_id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer attRows.Close()

	for attRows.Next() {
		var att models.Attachment
		if err := attRows.Scan(
			&att.ID,
			&att.MessageID,
			&att.Filename,
			&att.MimeType,
			&att.SizeBytes,
			&att.IsInline,
			&att.ContentID,
			&att.URL,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		if m, ok := byID[att.MessageID]; ok {
			m.Attachments = append(m.Attachments, att)
		}
	}
	if err := attRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attachments: %w", err)
	}

	return messages, nil
}
