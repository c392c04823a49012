package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type RedisRelayOptions struct {
	Addr          string
	DB            int
	ChannelPrefix string
}

// RedisRelay shares room frames over Redis pub/sub, one channel per room.
type RedisRelay struct {
	rdb    *redis.Client
	prefix string
	log    logrus.FieldLogger
}

// NewRedisRelay connects to Redis and verifies connectivity.
func NewRedisRelay(ctx context.Context, opts RedisRelayOptions, log logrus.FieldLogger) (*RedisRelay, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: opts.Addr,
		DB:   opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return &RedisRelay{rdb: rdb, prefix: opts.ChannelPrefix, log: log}, nil
}

func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return r.rdb.Publish(ctx, r.channel(env.Room), raw).Err()
}

func (r *RedisRelay) Subscribe(ctx context.Context, fn func(Envelope)) error {
	pubsub := r.rdb.PSubscribe(ctx, r.channel("*"))
	defer pubsub.Close()
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("relay subscription closed")
			}
			env, err := decodeEnvelope(msg.Payload)
			if err != nil {
				r.log.WithFields(logrus.Fields{
					"channel": msg.Channel,
					"error":   err.Error(),
				}).Warn("dropping undecodable relay envelope")
				continue
			}
			fn(env)
		}
	}
}

func (r *RedisRelay) Close() error { return r.rdb.Close() }

func (r *RedisRelay) channel(room string) string { return r.prefix + ":" + room }

func decodeEnvelope(payload string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return Envelope{}, err
	}
	if env.Origin == "" || env.Room == "" || len(env.Frame) == 0 {
		return Envelope{}, errors.New("envelope is missing origin, room or frame")
	}
	return env, nil
}
