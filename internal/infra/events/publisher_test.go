package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/boddenberg/account-manager-go/internal/domain"
)

func sampleEvent() domain.AccountEvent {
	return domain.AccountEvent{
		Type:          domain.EventAccountRegistered,
		UserID:        12,
		AccountNumber: "1000000000",
		At:            time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Format(time.RFC3339),
	}
}

func TestLogging_Publish(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	pub := Logging{Logger: zap.New(core)}

	require.NoError(t, pub.Publish(context.Background(), sampleEvent()))

	entries := logs.FilterMessage("account event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "1000000000", entries[0].ContextMap()["account_number"])
}

func TestNop_Publish(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), sampleEvent()))
}

func TestRedisPublisher_Publish(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	stream := "account-events-test-" + time.Now().Format("150405.000000")
	t.Cleanup(func() { client.Del(ctx, stream) })

	pub := NewRedisPublisher(client, stream, 100)
	require.NoError(t, pub.Publish(ctx, sampleEvent()))

	msgs, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.EventAccountRegistered, msgs[0].Values["type"])

	var got domain.AccountEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["event"].(string)), &got))
	assert.Equal(t, sampleEvent(), got)
}

func TestRedisPublisher_DefaultStream(t *testing.T) {
	pub := NewRedisPublisher(nil, "", 0)
	assert.Equal(t, DefaultStream, pub.stream)
}
