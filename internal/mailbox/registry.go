package mailbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/maildesk/backend/internal/models"
	"github.com/maildesk/backend/internal/vault"
)

const (
	// defaultReconnectDelay is the fixed backoff between watcher reconnect
	// attempts. There is no cap and no jitter.
	defaultReconnectDelay = 15 * time.Second
	// defaultPollInterval is the IDLE fallback polling interval.
	defaultPollInterval = time.Minute
)

// ConfigStore loads mailbox configs for the registry. *store.Store satisfies
// it.
type ConfigStore interface {
	ListEnabledConfigs(ctx context.Context) ([]*models.MailboxConfig, error)
	GetConfig(ctx context.Context, id string) (*models.MailboxConfig, error)
}

// Options tune registry timing; zero values pick the defaults.
type Options struct {
	ReconnectDelay time.Duration
	PollInterval   time.Duration
}

// Registry supervises one mailbox watcher per enabled config and is the only
// component allowed to start or stop watchers. Start/stop operations for the
// same config must not be called concurrently; administrative traffic is
// expected to be infrequent.
type Registry struct {
	mu       sync.Mutex
	watchers map[string]*watcher

	configs ConfigStore
	vault   *vault.Vault
	ingest  Ingestor
	status  *StatusTable
	seen    *SeenSet
	logger  *slog.Logger
	opts    Options
}

// NewRegistry creates an empty registry.
func NewRegistry(configs ConfigStore, v *vault.Vault, ingest Ingestor, logger *slog.Logger, opts Options) *Registry {
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Registry{
		watchers: make(map[string]*watcher),
		configs:  configs,
		vault:    v,
		ingest:   ingest,
		status:   NewStatusTable(),
		seen:     NewSeenSet(),
		logger:   logger.With("component", "mailbox_registry"),
		opts:     opts,
	}
}

// StartAll starts a watcher for every enabled config that is not already
// running. Already-running watchers are left alone.
func (r *Registry) StartAll(ctx context.Context) error {
	configs, err := r.configs.ListEnabledConfigs(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	started := 0
	for _, cfg := range configs {
		if r.startLocked(cfg) {
			started++
		}
	}
	r.logger.Info("mailbox watchers started", "enabled", len(configs), "started", started)
	return nil
}

// StopAll cancels every running watcher and clears the registry.
// Best-effort: watchers wind down on their own; in-flight fetches complete or
// fail naturally.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, w := range r.watchers {
		w.cancel()
		w.setStatus(models.ConnStopped, "stopped")
		delete(r.watchers, id)
	}
	r.logger.Info("all mailbox watchers stopped")
}

// ReloadAll stops everything and starts over from the current configs. Used
// after any config change; no per-field diffing is attempted.
func (r *Registry) ReloadAll(ctx context.Context) error {
	r.StopAll()
	return r.StartAll(ctx)
}

// StartOne starts the watcher for a single config. Returns whether a watcher
// is now running: false if the config is disabled, true if it was already
// running or was just started.
func (r *Registry) StartOne(ctx context.Context, configID string) (bool, error) {
	cfg, err := r.configs.GetConfig(ctx, configID)
	if err != nil {
		return false, err
	}
	if !cfg.Enabled {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, running := r.watchers[cfg.ID]; running {
		return true, nil
	}
	return r.startLocked(cfg), nil
}

// StopOne cancels the watcher for a single config and records a stopped
// status. Returns false if no watcher was running.
func (r *Registry) StopOne(configID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.watchers[configID]
	if !ok {
		return false
	}
	w.cancel()
	w.setStatus(models.ConnStopped, "stopped")
	delete(r.watchers, configID)
	r.logger.Info("mailbox watcher stopped", "config_id", configID, "mailbox", w.cfg.Address)
	return true
}

// Running reports whether a watcher is registered for the config.
func (r *Registry) Running(configID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.watchers[configID]
	return ok
}

// Status returns the last recorded connection status for one config.
func (r *Registry) Status(configID string) models.ConnectionStatus {
	return r.status.Get(configID)
}

// Statuses returns the connection status of every known mailbox.
func (r *Registry) Statuses() []models.ConnectionStatus {
	return r.status.Snapshot()
}

// startLocked launches a watcher for the config. Caller holds r.mu. A config
// whose password decrypts to empty never connects: retrying without a
// credential cannot succeed, so it fails fast with an error status.
func (r *Registry) startLocked(cfg *models.MailboxConfig) bool {
	if _, running := r.watchers[cfg.ID]; running {
		return false
	}

	logger := r.logger.With("tenant_id", cfg.TenantID, "mailbox", cfg.Address)

	password := r.vault.Decrypt(cfg.IMAPPassword)
	if password == "" {
		logger.Error("cannot start watcher: IMAP password is missing")
		r.status.Set(models.ConnectionStatus{
			ConfigID: cfg.ID,
			TenantID: cfg.TenantID,
			Address:  cfg.Address,
			State:    models.ConnError,
			Detail:   "missing IMAP password",
		})
		return false
	}

	// Watcher lifetime is owned by the registry, not by the caller's
	// request context.
	ctx, cancel := context.WithCancel(context.Background())
	w := &watcher{
		cfg:       cfg,
		password:  password,
		ingest:    r.ingest,
		status:    r.status,
		seen:      r.seen,
		logger:    logger,
		backoff:   r.opts.ReconnectDelay,
		pollEvery: r.opts.PollInterval,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	r.watchers[cfg.ID] = w
	go w.run(ctx)

	logger.Info("mailbox watcher started")
	return true
}
