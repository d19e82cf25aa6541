package subscription

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/woozar/prophecy-sub003/domain"
)

// Publisher is the producer side of the event broker.
type Publisher interface {
	Broadcast(ev domain.Event)
	SendToClient(id string, ev domain.Event)
}

const resubscribeDelay = time.Second

// SubscribeUpdates relays event envelopes published on a Redis channel to the
// broker until ctx is done. The subscription is re-opened whenever its
// channel closes.
func SubscribeUpdates(
	ctx context.Context,
	logger *log.Logger,
	rc *redis.Client,
	channel string,
	pub Publisher,
) {
	entry := logger.WithField("channel", channel)
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
		entry.Info("subscribed to event relay")
	recv:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				env, err := dispatch(pub, []byte(msg.Payload))
				if err != nil {
					entry.WithError(err).Error("unable to parse relayed event")
					continue
				}
				entry.WithFields(log.Fields{"kind": env.Kind, "client_id": env.ClientID}).Debug("relayed event")
			}
		}
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		entry.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

// dispatch decodes an envelope and hands it to the broker: targeted when it
// names a client, broadcast otherwise.
func dispatch(pub Publisher, payload []byte) (domain.Envelope, error) {
	env, err := domain.ParseEnvelope(payload)
	if err != nil {
		return env, err
	}
	if env.ClientID != "" {
		pub.SendToClient(env.ClientID, env.Event())
	} else {
		pub.Broadcast(env.Event())
	}
	return env, nil
}
