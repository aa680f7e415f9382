package models

import "time"

// MailboxConfig holds one tenant's mailbox credentials. (tenant_id,
// mailbox_address) is unique. Passwords are stored in the vault token format
// or as legacy plaintext; they are never serialized back to API clients.
type MailboxConfig struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Address      string    `json:"mailbox_address"`
	IMAPHost     string    `json:"imap_host"`
	IMAPPort     int       `json:"imap_port"`
	IMAPSecure   bool      `json:"imap_secure"`
	IMAPUsername string    `json:"imap_username"`
	IMAPPassword string    `json:"-"`
	SMTPHost     string    `json:"smtp_host"`
	SMTPPort     int       `json:"smtp_port"`
	SMTPSecure   bool      `json:"smtp_secure"`
	SMTPUsername string    `json:"smtp_username"`
	SMTPPassword string    `json:"-"`
	SMTPFromName string    `json:"smtp_from_name"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ConnState is the watcher connection state for one mailbox.
type ConnState string

const (
	ConnConnecting ConnState = "connecting"
	ConnConnected  ConnState = "connected"
	ConnError      ConnState = "error"
	ConnEnded      ConnState = "ended"
	ConnStopped    ConnState = "stopped"
	ConnUnknown    ConnState = "unknown"
)

// ConnectionStatus is the last observed state of one mailbox watcher. It is
// process-local, rebuilt on restart, and overwritten on every transition.
type ConnectionStatus struct {
	ConfigID  string    `json:"config_id"`
	TenantID  string    `json:"tenant_id"`
	Address   string    `json:"mailbox_address"`
	State     ConnState `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
