package relay

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tezgah/backend/internal/domain"
)

func TestRedisPresence(t *testing.T) {
	addr := os.Getenv("TEZGAH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEZGAH_TEST_REDIS_ADDR to run redis presence test")
	}

	ctx := context.Background()
	p := NewRedisPresence(addr, os.Getenv("TEZGAH_TEST_REDIS_PASSWORD"), 0, time.Minute)
	t.Cleanup(func() { _ = p.Close() })
	require.NoError(t, p.Ping(ctx))

	dealerID := fmt.Sprintf("dealer-it-%d", time.Now().UnixNano())
	at := time.Now().UTC().Truncate(time.Millisecond)
	t.Cleanup(func() {
		_ = p.client.Del(ctx, p.key(dealerID, "dev-a"), p.key(dealerID, "dev-b")).Err()
	})

	require.NoError(t, p.Touch(ctx, dealerID, domain.HeartbeatRequest{DeviceIdentifier: "dev-b", DeviceName: "B", PendingCount: 3}, at))
	require.NoError(t, p.Touch(ctx, dealerID, domain.HeartbeatRequest{DeviceIdentifier: "dev-a", DeviceName: "A"}, at))

	devices, err := p.Devices(ctx, dealerID)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "dev-a", devices[0].DeviceIdentifier)
	assert.Equal(t, 3, devices[1].PendingCount)
	assert.True(t, devices[1].LastSeenAt.Equal(at))

	ttl, err := p.client.TTL(ctx, p.key(dealerID, "dev-a")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
