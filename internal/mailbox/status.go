package mailbox

import (
	"sync"
	"time"

	"github.com/maildesk/backend/internal/models"
)

// StatusTable is the process-wide table of watcher connection states, keyed
// by config ID. It is rebuilt on process restart and every transition
// overwrites the previous entry (last-write-wins, no history).
type StatusTable struct {
	mu      sync.RWMutex
	entries map[string]models.ConnectionStatus
}

// NewStatusTable creates an empty status table.
func NewStatusTable() *StatusTable {
	return &StatusTable{entries: make(map[string]models.ConnectionStatus)}
}

// Set records the state of one watcher, stamping the update time.
func (t *StatusTable) Set(status models.ConnectionStatus) {
	status.UpdatedAt = time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[status.ConfigID] = status
}

// Get returns the last recorded status for a config, with state "unknown" if
// nothing was ever recorded.
func (t *StatusTable) Get(configID string) models.ConnectionStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if status, ok := t.entries[configID]; ok {
		return status
	}
	return models.ConnectionStatus{ConfigID: configID, State: models.ConnUnknown}
}

// Snapshot returns a copy of all recorded statuses.
func (t *StatusTable) Snapshot() []models.ConnectionStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	statuses := make([]models.ConnectionStatus, 0, len(t.entries))
	for _, status := range t.entries {
		statuses = append(statuses, status)
	}
	return statuses
}
