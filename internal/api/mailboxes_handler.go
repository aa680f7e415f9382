package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/maildesk/backend/internal/models"
	"github.com/maildesk/backend/internal/store"
	"github.com/maildesk/backend/internal/vault"
)

// ConfigStore is the mailbox-config persistence the handler needs.
// *store.Store satisfies it.
type ConfigStore interface {
	CreateConfig(ctx context.Context, cfg *models.MailboxConfig) error
	UpdateConfig(ctx context.Context, cfg *models.MailboxConfig) error
	DeleteConfig(ctx context.Context, id string) error
	GetConfig(ctx context.Context, id string) (*models.MailboxConfig, error)
	SetConfigEnabled(ctx context.Context, id string, enabled bool) error
	ListConfigs(ctx context.Context) ([]*models.MailboxConfig, error)
}

// WatcherController is the registry surface the handler drives after config
// mutations. *mailbox.Registry satisfies it.
type WatcherController interface {
	ReloadAll(ctx context.Context) error
	StartOne(ctx context.Context, configID string) (bool, error)
	StopOne(configID string) bool
	Statuses() []models.ConnectionStatus
}

// MailboxesHandler handles mailbox-config CRUD and watcher control requests.
type MailboxesHandler struct {
	store    ConfigStore
	vault    *vault.Vault
	registry WatcherController
	logger   *slog.Logger
}

// NewMailboxesHandler creates a new MailboxesHandler instance.
func NewMailboxesHandler(s ConfigStore, v *vault.Vault, registry WatcherController, logger *slog.Logger) *MailboxesHandler {
	return &MailboxesHandler{
		store:    s,
		vault:    v,
		registry: registry,
		logger:   logger.With("component", "mailboxes_handler"),
	}
}

// mailboxRequest is the create/update payload. Passwords are optional on
// update; empty values preserve the stored credentials.
type mailboxRequest struct {
	TenantID     string `json:"tenant_id"`
	Address      string `json:"mailbox_address"`
	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port"`
	IMAPSecure   bool   `json:"imap_secure"`
	IMAPUsername string `json:"imap_username"`
	IMAPPassword string `json:"imap_password"`
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPSecure   bool   `json:"smtp_secure"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"smtp_password"`
	SMTPFromName string `json:"smtp_from_name"`
	Enabled      bool   `json:"enabled"`
}

// ServeHTTP routes everything under /api/v1/mailboxes.
func (h *MailboxesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/mailboxes")
	rest = strings.Trim(rest, "/")

	switch {
	case rest == "":
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case rest == "status":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.status(w, r)
	default:
		h.item(w, r, rest)
	}
}

// item dispatches /{id} and /{id}/enable|disable.
func (h *MailboxesHandler) item(w http.ResponseWriter, r *http.Request, rest string) {
	id, action, _ := strings.Cut(rest, "/")

	switch action {
	case "":
		switch r.Method {
		case http.MethodPut:
			h.update(w, r, id)
		case http.MethodDelete:
			h.delete(w, r, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "enable", "disable":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.setEnabled(w, r, id, action == "enable")
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (h *MailboxesHandler) list(w http.ResponseWriter, r *http.Request) {
	configs, err := h.store.ListConfigs(r.Context())
	if err != nil {
		h.logger.Error("failed to list mailbox configs", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if configs == nil {
		configs = []*models.MailboxConfig{}
	}
	writeJSON(w, h.logger, http.StatusOK, configs)
}

func (h *MailboxesHandler) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req mailboxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validateMailboxRequest(&req, true); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	imapPassword, err := h.vault.Encrypt(req.IMAPPassword)
	if err != nil {
		h.logger.Error("failed to encrypt IMAP password", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	smtpPassword, err := h.vault.Encrypt(req.SMTPPassword)
	if err != nil {
		h.logger.Error("failed to encrypt SMTP password", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	cfg := &models.MailboxConfig{
		TenantID:     req.TenantID,
		Address:      req.Address,
		IMAPHost:     req.IMAPHost,
		IMAPPort:     req.IMAPPort,
		IMAPSecure:   req.IMAPSecure,
		IMAPUsername: req.IMAPUsername,
		IMAPPassword: imapPassword,
		SMTPHost:     req.SMTPHost,
		SMTPPort:     req.SMTPPort,
		SMTPSecure:   req.SMTPSecure,
		SMTPUsername: req.SMTPUsername,
		SMTPPassword: smtpPassword,
		SMTPFromName: req.SMTPFromName,
		Enabled:      req.Enabled,
	}

	if err := h.store.CreateConfig(ctx, cfg); err != nil {
		h.logger.Error("failed to create mailbox config", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.registry.ReloadAll(ctx); err != nil {
		h.logger.Error("failed to reload watchers after create", "error", err)
	}

	writeJSON(w, h.logger, http.StatusCreated, cfg)
}

func (h *MailboxesHandler) update(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()

	var req mailboxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validateMailboxRequest(&req, false); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	existing, err := h.store.GetConfig(ctx, id)
	if errors.Is(err, store.ErrConfigNotFound) {
		http.Error(w, "Mailbox config not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to get mailbox config", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Empty passwords preserve the stored credentials so admins can update
	// other fields without re-entering them.
	imapPassword := existing.IMAPPassword
	if req.IMAPPassword != "" {
		if imapPassword, err = h.vault.Encrypt(req.IMAPPassword); err != nil {
			h.logger.Error("failed to encrypt IMAP password", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}
	smtpPassword := existing.SMTPPassword
	if req.SMTPPassword != "" {
		if smtpPassword, err = h.vault.Encrypt(req.SMTPPassword); err != nil {
			h.logger.Error("failed to encrypt SMTP password", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}

	cfg := &models.MailboxConfig{
		ID:           id,
		TenantID:     existing.TenantID,
		Address:      req.Address,
		IMAPHost:     req.IMAPHost,
		IMAPPort:     req.IMAPPort,
		IMAPSecure:   req.IMAPSecure,
		IMAPUsername: req.IMAPUsername,
		IMAPPassword: imapPassword,
		SMTPHost:     req.SMTPHost,
		SMTPPort:     req.SMTPPort,
		SMTPSecure:   req.SMTPSecure,
		SMTPUsername: req.SMTPUsername,
		SMTPPassword: smtpPassword,
		SMTPFromName: req.SMTPFromName,
		Enabled:      req.Enabled,
	}

	if err := h.store.UpdateConfig(ctx, cfg); err != nil {
		if errors.Is(err, store.ErrConfigNotFound) {
			http.Error(w, "Mailbox config not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to update mailbox config", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.registry.ReloadAll(ctx); err != nil {
		h.logger.Error("failed to reload watchers after update", "error", err)
	}

	writeJSON(w, h.logger, http.StatusOK, cfg)
}

func (h *MailboxesHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	// Stop the watcher before removing its config.
	h.registry.StopOne(id)

	if err := h.store.DeleteConfig(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrConfigNotFound) {
			http.Error(w, "Mailbox config not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to delete mailbox config", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, successResponse{Success: true})
}

func (h *MailboxesHandler) setEnabled(w http.ResponseWriter, r *http.Request, id string, enabled bool) {
	ctx := r.Context()

	if err := h.store.SetConfigEnabled(ctx, id, enabled); err != nil {
		if errors.Is(err, store.ErrConfigNotFound) {
			http.Error(w, "Mailbox config not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to toggle mailbox config", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	running := false
	if enabled {
		var err error
		if running, err = h.registry.StartOne(ctx, id); err != nil {
			h.logger.Error("failed to start watcher", "config_id", id, "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	} else {
		h.registry.StopOne(id)
	}

	writeJSON(w, h.logger, http.StatusOK, struct {
		Success bool `json:"success"`
		Running bool `json:"running"`
	}{Success: true, Running: running})
}

func (h *MailboxesHandler) status(w http.ResponseWriter, r *http.Request) {
	statuses := h.registry.Statuses()
	if statuses == nil {
		statuses = []models.ConnectionStatus{}
	}
	writeJSON(w, h.logger, http.StatusOK, statuses)
}

// validateMailboxRequest checks required fields. Passwords are required only
// on create; on update empty passwords keep the stored values.
func validateMailboxRequest(req *mailboxRequest, create bool) error {
	if create && req.TenantID == "" {
		return errors.New("tenant_id is required")
	}
	if req.Address == "" {
		return errors.New("mailbox_address is required")
	}
	if req.IMAPHost == "" {
		return errors.New("imap_host is required")
	}
	if req.IMAPPort <= 0 || req.IMAPPort > 65535 {
		return fmt.Errorf("imap_port %d is not a valid port number", req.IMAPPort)
	}
	if req.IMAPUsername == "" {
		return errors.New("imap_username is required")
	}
	if create && req.IMAPPassword == "" {
		return errors.New("imap_password is required")
	}
	if req.SMTPHost == "" {
		return errors.New("smtp_host is required")
	}
	if req.SMTPPort <= 0 || req.SMTPPort > 65535 {
		return fmt.Errorf("smtp_port %d is not a valid port number", req.SMTPPort)
	}
	if req.SMTPUsername == "" {
		return errors.New("smtp_username is required")
	}
	if create && req.SMTPPassword == "" {
		return errors.New("smtp_password is required")
	}
	return nil
}
