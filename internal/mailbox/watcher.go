package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-imap"
	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/client"

	"github.com/maildesk/backend/internal/models"
	"github.com/maildesk/backend/internal/ticket"
)

// Ingestor is the correlator contract the watcher hands parsed messages to.
type Ingestor interface {
	Ingest(ctx context.Context, tenantID string, msg *ticket.InboundEmail) (*models.Ticket, error)
}

// watcher owns one long-lived IMAP connection for one enabled mailbox config.
// Its lifecycle is connecting → connected → {error, ended}; both terminal
// states schedule a reconnect after a fixed backoff, forever, until the
// registry cancels the watcher's context. A permanently-misconfigured mailbox
// therefore retries until StopOne.
type watcher struct {
	cfg       *models.MailboxConfig
	password  string
	ingest    Ingestor
	status    *StatusTable
	seen      *SeenSet
	logger    *slog.Logger
	backoff   time.Duration
	pollEvery time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func (w *watcher) setStatus(state models.ConnState, detail string) {
	w.status.Set(models.ConnectionStatus{
		ConfigID: w.cfg.ID,
		TenantID: w.cfg.TenantID,
		Address:  w.cfg.Address,
		State:    state,
		Detail:   detail,
	})
}

// run is the supervised reconnect loop. It restarts session with identical
// parameters after each end or error.
func (w *watcher) run(ctx context.Context) {
	defer close(w.done)

	for {
		w.setStatus(models.ConnConnecting, fmt.Sprintf("%s:%d", w.cfg.IMAPHost, w.cfg.IMAPPort))

		err := w.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.logger.Warn("mailbox session failed", "error", err)
			w.setStatus(models.ConnError, err.Error())
		} else {
			w.logger.Info("mailbox session ended")
			w.setStatus(models.ConnEnded, "connection ended")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.backoff):
		}
	}
}

// session runs one connection: login, initial unseen sweep, then IDLE with
// re-sweeps on each new-mail notification. Returns nil on a clean end.
func (w *watcher) session(ctx context.Context) error {
	c, err := connectIMAP(w.cfg.IMAPHost, w.cfg.IMAPPort, w.cfg.IMAPSecure, w.cfg.IMAPUsername, w.password)
	if err != nil {
		return err
	}
	defer func() { _ = c.Logout() }()

	if _, err := c.Select("INBOX", false); err != nil {
		return fmt.Errorf("failed to select INBOX: %w", err)
	}

	w.setStatus(models.ConnConnected, fmt.Sprintf("%s:%d", w.cfg.IMAPHost, w.cfg.IMAPPort))
	w.logger.Info("mailbox connected")

	if err := w.processUnseen(ctx, c); err != nil {
		return err
	}

	updates := make(chan client.Update, 16)
	c.Updates = updates
	idleClient := idle.NewClient(c)

	for {
		stop := make(chan struct{})
		idleDone := make(chan error, 1)
		go func() {
			idleDone <- idleClient.IdleWithFallback(stop, w.pollEvery)
		}()

		newMail := false
		for !newMail {
			select {
			case <-ctx.Done():
				close(stop)
				<-idleDone
				return nil
			case err := <-idleDone:
				// Idle ended on its own: connection gone or server bailed.
				return err
			case update := <-updates:
				mbox, ok := update.(*client.MailboxUpdate)
				if ok && mbox.Mailbox != nil && mbox.Mailbox.Messages > 0 {
					newMail = true
				}
			}
		}

		// Stop idling before issuing commands on the connection.
		close(stop)
		if err := <-idleDone; err != nil {
			return err
		}

		// Coalesce bursts: drain queued notifications, then run one search
		// that picks up every currently-unseen message.
		for draining := true; draining; {
			select {
			case <-updates:
			default:
				draining = false
			}
		}

		if err := w.processUnseen(ctx, c); err != nil {
			return err
		}
	}
}

// processUnseen searches for unseen messages, fetches the ones not recently
// handled, and feeds them to the correlator. Per-message parse or ingest
// failures are logged and do not abort the batch.
func (w *watcher) processUnseen(ctx context.Context, c *client.Client) error {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return fmt.Errorf("failed to search unseen messages: %w", err)
	}

	seqSet := new(imap.SeqSet)
	fresh := 0
	for _, uid := range uids {
		if w.seen.MarkSeen(fmt.Sprintf("%s:%d", w.cfg.IMAPUsername, uid)) {
			seqSet.AddNum(uid)
			fresh++
		}
	}
	if fresh == 0 {
		return nil
	}

	// Fetching BODY[] without PEEK marks the messages \Seen on the server.
	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, fresh)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	for imapMsg := range messages {
		inbound, err := parseInbound(imapMsg, section)
		if err != nil {
			w.logger.Warn("failed to parse message", "uid", imapMsg.Uid, "error", err)
			w.setStatus(models.ConnError, fmt.Sprintf("parse failure for UID %d: %v", imapMsg.Uid, err))
			continue
		}

		if _, err := w.ingest.Ingest(ctx, w.cfg.TenantID, inbound); err != nil {
			w.logger.Error("failed to ingest message",
				"uid", imapMsg.Uid, "message_id", inbound.MessageID, "error", err)
			w.setStatus(models.ConnError, fmt.Sprintf("ingest failure for UID %d: %v", imapMsg.Uid, err))
			continue
		}
	}

	if err := <-done; err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}

	w.setStatus(models.ConnConnected, fmt.Sprintf("%s:%d", w.cfg.IMAPHost, w.cfg.IMAPPort))
	return nil
}
