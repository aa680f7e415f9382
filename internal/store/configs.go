package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/maildesk/backend/internal/models"
)

const configColumns = `
	id,
	tenant_id,
	mailbox_address,
	imap_host,
	imap_port,
	imap_secure,
	imap_username,
	imap_password,
	smtp_host,
	smtp_port,
	smtp_secure,
	smtp_username,
	smtp_password,
	smtp_from_name,
	enabled,
	created_at,
	updated_at`

func scanConfig(row pgx.Row) (*models.MailboxConfig, error) {
	var cfg models.MailboxConfig
	err := row.Scan(
		&cfg.ID,
		&cfg.TenantID,
		&cfg.Address,
		&cfg.IMAPHost,
		&cfg.IMAPPort,
		&cfg.IMAPSecure,
		&cfg.IMAPUsername,
		&cfg.IMAPPassword,
		&cfg.SMTPHost,
		&cfg.SMTPPort,
		&cfg.SMTPSecure,
		&cfg.SMTPUsername,
		&cfg.SMTPPassword,
		&cfg.SMTPFromName,
		&cfg.Enabled,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CreateConfig inserts a mailbox config and populates its generated fields.
func (s *Store) CreateConfig(ctx context.Context, cfg *models.MailboxConfig) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO mailbox_configs (
			tenant_id,
			mailbox_address,
			imap_host,
			imap_port,
			imap_secure,
			imap_username,
			imap_password,
			smtp_host,
			smtp_port,
			smtp_secure,
			smtp_username,
			smtp_password,
			smtp_from_name,
			enabled
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at
	`,
		cfg.TenantID,
		cfg.Address,
		cfg.IMAPHost,
		cfg.IMAPPort,
		cfg.IMAPSecure,
		cfg.IMAPUsername,
		cfg.IMAPPassword,
		cfg.SMTPHost,
		cfg.SMTPPort,
		cfg.SMTPSecure,
		cfg.SMTPUsername,
		cfg.SMTPPassword,
		cfg.SMTPFromName,
		cfg.Enabled,
	).Scan(&cfg.ID, &cfg.CreatedAt, &cfg.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create mailbox config: %w", err)
	}
	return nil
}

// UpdateConfig updates all mutable fields of a mailbox config.
func (s *Store) UpdateConfig(ctx context.Context, cfg *models.MailboxConfig) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mailbox_configs SET
			mailbox_address = $2,
			imap_host = $3,
			imap_port = $4,
			imap_secure = $5,
			imap_username = $6,
			imap_password = $7,
			smtp_host = $8,
			smtp_port = $9,
			smtp_secure = $10,
			smtp_username = $11,
			smtp_password = $12,
			smtp_from_name = $13,
			enabled = $14,
			updated_at = now()
		WHERE id = $1
	`,
		cfg.ID,
		cfg.Address,
		cfg.IMAPHost,
		cfg.IMAPPort,
		cfg.IMAPSecure,
		cfg.IMAPUsername,
		cfg.IMAPPassword,
		cfg.SMTPHost,
		cfg.SMTPPort,
		cfg.SMTPSecure,
		cfg.SMTPUsername,
		cfg.SMTPPassword,
		cfg.SMTPFromName,
		cfg.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to update mailbox config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConfigNotFound
	}
	return nil
}

// DeleteConfig removes a mailbox config. The caller is responsible for
// stopping any running watcher for it first.
func (s *Store) DeleteConfig(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM mailbox_configs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete mailbox config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConfigNotFound
	}
	return nil
}

// GetConfig returns one mailbox config by ID.
func (s *Store) GetConfig(ctx context.Context, id string) (*models.MailboxConfig, error) {
	cfg, err := scanConfig(s.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM mailbox_configs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mailbox config: %w", err)
	}
	return cfg, nil
}

// SetConfigEnabled toggles the enabled flag of a mailbox config.
func (s *Store) SetConfigEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE mailbox_configs SET enabled = $2, updated_at = now() WHERE id = $1`,
		id, enabled)
	if err != nil {
		return fmt.Errorf("failed to toggle mailbox config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConfigNotFound
	}
	return nil
}

// ListConfigs returns all mailbox configs.
func (s *Store) ListConfigs(ctx context.Context) ([]*models.MailboxConfig, error) {
	return s.listConfigs(ctx,
		`SELECT `+configColumns+` FROM mailbox_configs ORDER BY created_at`)
}

// ListEnabledConfigs returns all enabled mailbox configs.
func (s *Store) ListEnabledConfigs(ctx context.Context) ([]*models.MailboxConfig, error) {
	return s.listConfigs(ctx,
		`SELECT `+configColumns+` FROM mailbox_configs WHERE enabled ORDER BY created_at`)
}

func (s *Store) listConfigs(ctx context.Context, query string) ([]*models.MailboxConfig, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list mailbox configs: %w", err)
	}
	defer rows.Close()

	var configs []*models.MailboxConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mailbox config: %w", err)
		}
		configs = append(configs, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mailbox configs: %w", err)
	}
	return configs, nil
}

// FindEnabledConfigForTenant returns the tenant's enabled mailbox config, or
// nil if the tenant has none.
func (s *Store) FindEnabledConfigForTenant(ctx context.Context, tenantID string) (*models.MailboxConfig, error) {
	cfg, err := scanConfig(s.pool.QueryRow(ctx, `
		SELECT `+configColumns+`
		FROM mailbox_configs
		WHERE tenant_id = $1 AND enabled
		ORDER BY created_at
		LIMIT 1
	`, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find enabled config: %w", err)
	}
	return cfg, nil
}
