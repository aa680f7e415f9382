package mailbox

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maildesk/backend/internal/models"
)

func TestStatusTableLastWriteWins(t *testing.T) {
	table := NewStatusTable()

	table.Set(models.ConnectionStatus{ConfigID: "cfg-1", State: models.ConnConnecting})
	table.Set(models.ConnectionStatus{ConfigID: "cfg-1", State: models.ConnConnected, Detail: "imap.example.com:993"})

	got := table.Get("cfg-1")
	assert.Equal(t, models.ConnConnected, got.State)
	assert.Equal(t, "imap.example.com:993", got.Detail)
	assert.False(t, got.UpdatedAt.IsZero())

	assert.Len(t, table.Snapshot(), 1)
}

func TestStatusTableUnknownDefault(t *testing.T) {
	table := NewStatusTable()

	got := table.Get("never-seen")
	assert.Equal(t, models.ConnUnknown, got.State)
	assert.Equal(t, "never-seen", got.ConfigID)
}

func TestStatusTableConcurrentWriters(t *testing.T) {
	table := NewStatusTable()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				table.Set(models.ConnectionStatus{ConfigID: "cfg-1", State: models.ConnConnected})
				_ = table.Get("cfg-1")
				_ = table.Snapshot()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, models.ConnConnected, table.Get("cfg-1").State)
}
