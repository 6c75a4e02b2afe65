package relay

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tezgah/backend/internal/domain"
)

const DefaultPresenceTTL = 15 * time.Minute

// RedisPresence keeps one hash per device heartbeat, expiring after ttl.
type RedisPresence struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

var _ Presence = (*RedisPresence)(nil)

func NewRedisPresence(addr string, password string, db int, ttl time.Duration) *RedisPresence {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &RedisPresence{client: client, ttl: ttl, prefix: "tezgah:presence"}
}

func (p *RedisPresence) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPresence) Close() error {
	return p.client.Close()
}

func (p *RedisPresence) key(dealerID, deviceID string) string {
	return fmt.Sprintf("%s:%s:%s", p.prefix, dealerID, deviceID)
}

func (p *RedisPresence) Touch(ctx context.Context, dealerID string, hb domain.HeartbeatRequest, at time.Time) error {
	key := p.key(dealerID, hb.DeviceIdentifier)
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"device_identifier": hb.DeviceIdentifier,
			"device_name":       hb.DeviceName,
			"pending_count":     hb.PendingCount,
			"last_seen_at":      at.UTC().Format(time.RFC3339Nano),
		})
		pipe.Expire(ctx, key, p.ttl)
		return nil
	})
	return err
}

func (p *RedisPresence) Devices(ctx context.Context, dealerID string) ([]domain.DeviceStatus, error) {
	var keys []string
	iter := p.client.Scan(ctx, 0, p.key(dealerID, "*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []domain.DeviceStatus{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(ctx, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.DeviceStatus, 0, len(keys))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// expired between SCAN and HGETALL
			continue
		}
		pending, _ := strconv.Atoi(fields["pending_count"])
		seen, _ := time.Parse(time.RFC3339Nano, fields["last_seen_at"])
		out = append(out, domain.DeviceStatus{
			DealerID:         dealerID,
			DeviceIdentifier: fields["device_identifier"],
			DeviceName:       fields["device_name"],
			PendingCount:     pending,
			LastSeenAt:       seen,
		})
	}
	sortDevices(out)
	return out, nil
}
