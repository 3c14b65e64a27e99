package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisRelay shares events between API instances over a Redis Pub/Sub channel. Each instance tags
// what it publishes with its own id and ignores its own echoes.
type RedisRelay struct {
	rc         *redis.Client
	channel    string
	instanceID string
	logger     *logrus.Logger
	retryDelay time.Duration
}

func NewRedisRelay(rc *redis.Client, channel, instanceID string, logger *logrus.Logger) *RedisRelay {
	return &RedisRelay{rc: rc, channel: channel, instanceID: instanceID, logger: logger, retryDelay: time.Second}
}

type relayEnvelope struct {
	Origin    string                 `json:"origin"`
	BoardID   string                 `json:"boardId"`
	Event     string                 `json:"event"`
	Data      sonic.NoCopyRawMessage `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

func (r *RedisRelay) Publish(ctx context.Context, msg Message) error {
	data, err := sonic.Marshal(msg.Data)
	if err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}
	payload, err := sonic.Marshal(relayEnvelope{
		Origin:    r.instanceID,
		BoardID:   msg.BoardID,
		Event:     msg.Event,
		Data:      data,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("encode relay envelope: %w", err)
	}
	if err := r.rc.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", r.channel, err)
	}
	return nil
}

// Run subscribes to the channel and calls deliver for every event published by another instance.
// It resubscribes when the connection drops and returns when ctx is done.
func (r *RedisRelay) Run(ctx context.Context, deliver func(Message)) error {
	for {
		err := r.consume(ctx, deliver)
		if ctx.Err() != nil {
			return nil
		}
		r.logger.WithError(err).WithField("channel", r.channel).Error("relay subscription lost, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.retryDelay):
		}
	}
}

func (r *RedisRelay) consume(ctx context.Context, deliver func(Message)) error {
	sub := r.rc.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.WithField("channel", r.channel).Debug("relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			var env relayEnvelope
			if err := sonic.UnmarshalString(m.Payload, &env); err != nil {
				r.logger.WithError(err).Warn("unable to parse relayed event")
				continue
			}
			if env.Origin == r.instanceID {
				continue
			}
			deliver(Message{
				Event:     env.Event,
				BoardID:   env.BoardID,
				Data:      env.Data,
				Timestamp: env.Timestamp,
				Origin:    env.Origin,
			})
		}
	}
}
