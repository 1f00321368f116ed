package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Notifier fans out prescription-ready events over Postgres LISTEN/NOTIFY.
// The transport layer notifies after a prescription is first persisted;
// dashboards or other processes can listen on the same channel.
type Notifier struct {
	DB      *sql.DB
	ConnStr string
	Channel string
}

// NewNotifier constructs a Notifier for the given channel.  The connection
// string is needed because pq listeners use their own dedicated connection.
func NewNotifier(db *sql.DB, connStr, channel string) *Notifier {
	return &Notifier{DB: db, ConnStr: connStr, Channel: channel}
}

// Notify publishes the session id on the channel.  pg_notify is used
// instead of the NOTIFY statement so the payload can be parameterized.
func (n *Notifier) Notify(ctx context.Context, sessionID string) error {
	_, err := n.DB.ExecContext(ctx, `SELECT pg_notify($1, $2)`, n.Channel, sessionID)
	return errors.Wrap(err, "notify prescription ready")
}

// Listen yields session ids as they arrive on the channel until the
// context is cancelled.
func (n *Notifier) Listen(ctx context.Context) (<-chan string, error) {
	listener := pq.NewListener(n.ConnStr, 5*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn().Err(err).Int("event", int(ev)).Msg("postgres listener event")
		}
	})
	if err := listener.Listen(n.Channel); err != nil {
		_ = listener.Close()
		return nil, errors.Wrapf(err, "listen on %s", n.Channel)
	}

	ch := make(chan string)
	go func() {
		defer func() {
			_ = listener.Close()
			close(ch)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case notification, ok := <-listener.Notify:
				if !ok {
					return
				}
				if notification == nil {
					// Reconnect marker from pq; nothing to deliver.
					continue
				}
				select {
				case ch <- notification.Extra:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
