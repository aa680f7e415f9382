package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maildesk/backend/internal/models"
)

const ticketColumns = `
	id,
	tenant_id,
	number,
	subject,
	customer_name,
	customer_email,
	channel,
	status,
	priority,
	team_inbox,
	assignee_id,
	assigner_id,
	assigned_at,
	tags,
	thread_root_id,
	last_activity_at,
	created_at`

func scanTicket(row pgx.Row) (*models.Ticket, error) {
	var t models.Ticket
	err := row.Scan(
		&t.ID,
		&t.TenantID,
		&t.Number,
		&t.Subject,
		&t.CustomerName,
		&t.CustomerEmail,
		&t.Channel,
		&t.Status,
		&t.Priority,
		&t.TeamInbox,
		&t.AssigneeID,
		&t.AssignerID,
		&t.AssignedAt,
		&t.Tags,
		&t.ThreadRootID,
		&t.LastActivityAt,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTicket inserts a ticket and populates its generated ID. The unique
// (tenant_id, number) index surfaces per-day sequence collisions as an error.
func (s *Store) CreateTicket(ctx context.Context, t *models.Ticket) error {
	if t.Tags == nil {
		t.Tags = []string{}
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tickets (
			tenant_id,
			number,
			subject,
			customer_name,
			customer_email,
			channel,
			status,
			priority,
			team_inbox,
			tags,
			thread_root_id,
			last_activity_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
	`,
		t.TenantID,
		t.Number,
		t.Subject,
		t.CustomerName,
		t.CustomerEmail,
		t.Channel,
		t.Status,
		t.Priority,
		t.TeamInbox,
		t.Tags,
		t.ThreadRootID,
		t.LastActivityAt,
	).Scan(&t.ID, &t.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}

// FindTicketByID returns a ticket by primary key, or nil if it doesn't exist.
func (s *Store) FindTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ticket: %w", err)
	}
	return t, nil
}

// FindTicketByNumber returns a tenant's ticket by its public number, or nil.
func (s *Store) FindTicketByNumber(ctx context.Context, tenantID, number string) (*models.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE tenant_id = $1 AND number = $2`,
		tenantID, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ticket by number: %w", err)
	}
	return t, nil
}

// FindTicketByNumberForSender returns a tenant's ticket by number if its
// customer email matches the sender. An exact match is tried first, then a
// case-insensitive one.
func (s *Store) FindTicketByNumberForSender(ctx context.Context, tenantID, number, email string) (*models.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE tenant_id = $1 AND number = $2 AND customer_email = $3
	`, tenantID, number, email))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to find ticket for sender: %w", err)
	}

	t, err = scanTicket(s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE tenant_id = $1 AND number = $2 AND lower(customer_email) = lower($3)
	`, tenantID, number, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ticket for sender: %w", err)
	}
	return t, nil
}

// FindRecentWidgetTicket returns the sender's most recent non-closed
// widget-channel ticket created at or after the given time, or nil.
func (s *Store) FindRecentWidgetTicket(ctx context.Context, tenantID, email string, since time.Time) (*models.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE tenant_id = $1
			AND lower(customer_email) = lower($2)
			AND channel = 'widget'
			AND status <> 'closed'
			AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1
	`, tenantID, email, since))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find recent widget ticket: %w", err)
	}
	return t, nil
}

// HighestTicketSuffix returns the highest numeric suffix among the tenant's
// ticket numbers starting with the given day prefix, or 0 if there are none.
// Zero-padded 4-digit suffixes sort lexicographically, so MAX(number) works.
func (s *Store) HighestTicketSuffix(ctx context.Context, tenantID, prefix string) (int, error) {
	var number *string
	err := s.pool.QueryRow(ctx, `
		SELECT MAX(number) FROM tickets WHERE tenant_id = $1 AND number LIKE $2
	`, tenantID, prefix+"%").Scan(&number)
	if err != nil {
		return 0, fmt.Errorf("failed to get highest ticket suffix: %w", err)
	}
	if number == nil {
		return 0, nil
	}

	suffix, err := strconv.Atoi(strings.TrimPrefix(*number, prefix))
	if err != nil {
		return 0, fmt.Errorf("malformed ticket number %q: %w", *number, err)
	}
	return suffix, nil
}

// TouchTicket refreshes a ticket's last-activity timestamp and reopens it if
// it was closed. Called on every message append.
func (s *Store) TouchTicket(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tickets SET
			status = CASE WHEN status = 'closed' THEN 'open' ELSE status END,
			last_activity_at = $2
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to touch ticket: %w", err)
	}
	return nil
}
