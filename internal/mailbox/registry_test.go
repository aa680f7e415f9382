package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maildesk/backend/internal/models"
	"github.com/maildesk/backend/internal/testutil"
	"github.com/maildesk/backend/internal/ticket"
	"github.com/maildesk/backend/internal/vault"
)

type staticConfigStore struct {
	mu      sync.Mutex
	configs []*models.MailboxConfig
}

func (f *staticConfigStore) add(cfg *models.MailboxConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
}

func (f *staticConfigStore) ListEnabledConfigs(context.Context) ([]*models.MailboxConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.MailboxConfig
	for _, cfg := range f.configs {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (f *staticConfigStore) GetConfig(_ context.Context, id string) (*models.MailboxConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cfg := range f.configs {
		if cfg.ID == id {
			return cfg, nil
		}
	}
	return nil, fmt.Errorf("config %s not found", id)
}

type captureIngestor struct {
	inbound chan *ticket.InboundEmail
}

func newCaptureIngestor() *captureIngestor {
	return &captureIngestor{inbound: make(chan *ticket.InboundEmail, 16)}
}

func (c *captureIngestor) Ingest(_ context.Context, _ string, msg *ticket.InboundEmail) (*models.Ticket, error) {
	c.inbound <- msg
	return &models.Ticket{}, nil
}

func imapConfig(t *testing.T, srv *testutil.TestIMAPServer, id string) *models.MailboxConfig {
	t.Helper()
	host, port := srv.HostPort(t)
	return &models.MailboxConfig{
		ID:           id,
		TenantID:     "t1",
		Address:      "support@t1.com",
		IMAPHost:     host,
		IMAPPort:     port,
		IMAPSecure:   false,
		IMAPUsername: srv.Username(),
		IMAPPassword: srv.Password(),
		Enabled:      true,
	}
}

func newTestRegistry(configs ConfigStore, ingest Ingestor) *Registry {
	return NewRegistry(configs, vault.New(""), ingest, slog.New(slog.DiscardHandler), Options{
		ReconnectDelay: 50 * time.Millisecond,
		PollInterval:   100 * time.Millisecond,
	})
}

func TestRegistryStartStopIdempotence(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	defer srv.Close()

	configs := &staticConfigStore{}
	configs.add(imapConfig(t, srv, "cfg-1"))
	registry := newTestRegistry(configs, newCaptureIngestor())
	defer registry.StopAll()

	ctx := context.Background()

	running, err := registry.StartOne(ctx, "cfg-1")
	require.NoError(t, err)
	assert.True(t, running)
	assert.True(t, registry.Running("cfg-1"))

	// A second start is a no-op, not a second watcher.
	running, err = registry.StartOne(ctx, "cfg-1")
	require.NoError(t, err)
	assert.True(t, running)
	assert.Len(t, registry.Statuses(), 1)

	assert.True(t, registry.StopOne("cfg-1"))
	assert.False(t, registry.Running("cfg-1"))
	assert.Equal(t, models.ConnStopped, registry.Status("cfg-1").State)

	// Stopping a non-running config returns false and changes nothing.
	assert.False(t, registry.StopOne("cfg-1"))
}

func TestRegistryStartOneDisabled(t *testing.T) {
	configs := &staticConfigStore{}
	configs.add(&models.MailboxConfig{ID: "cfg-1", TenantID: "t1", Enabled: false})
	registry := newTestRegistry(configs, newCaptureIngestor())

	running, err := registry.StartOne(context.Background(), "cfg-1")
	require.NoError(t, err)
	assert.False(t, running)
	assert.False(t, registry.Running("cfg-1"))
}

func TestRegistryMissingPasswordFailsFast(t *testing.T) {
	configs := &staticConfigStore{}
	configs.add(&models.MailboxConfig{
		ID:       "cfg-1",
		TenantID: "t1",
		Address:  "support@t1.com",
		IMAPHost: "imap.example.com",
		IMAPPort: 993,
		Enabled:  true,
	})
	registry := newTestRegistry(configs, newCaptureIngestor())

	require.NoError(t, registry.StartAll(context.Background()))

	// No watcher, no retry loop: a missing credential cannot heal itself.
	assert.False(t, registry.Running("cfg-1"))
	status := registry.Status("cfg-1")
	assert.Equal(t, models.ConnError, status.State)
	assert.Contains(t, status.Detail, "missing IMAP password")
}

func TestRegistryIngestsUnseenMail(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	defer srv.Close()

	srv.AddMessage(t, testutil.TestMessage{
		MessageID: "<m1@b.com>",
		Subject:   "Need help",
		From:      "Alice <a@b.com>",
		To:        "support@t1.com",
		Body:      "My login is broken.",
	})

	configs := &staticConfigStore{}
	configs.add(imapConfig(t, srv, "cfg-1"))
	ingest := newCaptureIngestor()
	registry := newTestRegistry(configs, ingest)
	defer registry.StopAll()

	require.NoError(t, registry.StartAll(context.Background()))

	select {
	case inbound := <-ingest.inbound:
		assert.Equal(t, "<m1@b.com>", inbound.MessageID)
		assert.Equal(t, "Need help", inbound.Subject)
		assert.Equal(t, "a@b.com", inbound.FromAddress)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for message ingestion")
	}

	require.Eventually(t, func() bool {
		return registry.Status("cfg-1").State == models.ConnConnected
	}, 10*time.Second, 50*time.Millisecond)
}

func TestRegistryReloadAll(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	defer srv.Close()

	configs := &staticConfigStore{}
	configs.add(imapConfig(t, srv, "cfg-1"))
	registry := newTestRegistry(configs, newCaptureIngestor())
	defer registry.StopAll()

	ctx := context.Background()
	require.NoError(t, registry.StartAll(ctx))
	assert.True(t, registry.Running("cfg-1"))

	// A config added later is picked up by the reload.
	second := imapConfig(t, srv, "cfg-2")
	configs.add(second)

	require.NoError(t, registry.ReloadAll(ctx))
	assert.True(t, registry.Running("cfg-1"))
	assert.True(t, registry.Running("cfg-2"))

	registry.StopAll()
	assert.False(t, registry.Running("cfg-1"))
	assert.False(t, registry.Running("cfg-2"))
}
