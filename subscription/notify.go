package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"
)

// ListenNotifications relays event envelopes sent with pg_notify on channel to
// the broker until ctx is done, reconnecting after backoff when the
// connection drops.
func ListenNotifications(
	ctx context.Context,
	logger *log.Logger,
	databaseURL string,
	channel string,
	backoff time.Duration,
	pub Publisher,
) {
	entry := logger.WithField("channel", channel)
	for {
		err := listenOnce(ctx, entry, databaseURL, channel, pub)
		if ctx.Err() != nil {
			return
		}
		entry.WithError(err).Error("notification listener stopped, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func listenOnce(ctx context.Context, entry *log.Entry, databaseURL, channel string, pub Publisher) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}
	entry.Info("listening for notifications")
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		env, err := dispatch(pub, []byte(n.Payload))
		if err != nil {
			entry.WithError(err).Error("unable to parse notification")
			continue
		}
		entry.WithFields(log.Fields{"kind": env.Kind, "client_id": env.ClientID}).Debug("relayed notification")
	}
}
