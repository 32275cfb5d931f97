package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"featureworker/internal/config"
	"featureworker/internal/queue"
)

type flakyPinger struct {
	calls     int
	failUntil int
}

func (p *flakyPinger) PingContext(ctx context.Context) error {
	p.calls++
	if p.calls <= p.failUntil {
		return errors.New("connection refused")
	}
	return nil
}

func TestPingWithRetry_Success(t *testing.T) {
	p := &flakyPinger{}
	require.NoError(t, PingWithRetry(context.Background(), p, 1, time.Millisecond))
	assert.Equal(t, 1, p.calls)
}

func TestPingWithRetry_Retries(t *testing.T) {
	p := &flakyPinger{failUntil: 2}
	require.NoError(t, PingWithRetry(context.Background(), p, 5, time.Millisecond))
	assert.Equal(t, 3, p.calls)
}

func TestPingWithRetry_Fail(t *testing.T) {
	p := &flakyPinger{failUntil: 100}
	err := PingWithRetry(context.Background(), p, 3, time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, 3, p.calls)
}

func TestPingWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &flakyPinger{failUntil: 100}
	err := PingWithRetry(ctx, p, 10, time.Hour)
	assert.Error(t, err)
	assert.LessOrEqual(t, p.calls, 1)
}

func TestBootstrap_DBDown(t *testing.T) {
	cfg := &config.Config{
		DBHost:                     "localhost",
		DBPort:                     54322,
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "test",
		BootstrapRetryAttempts:     1,
		BootstrapRetryDelaySeconds: 0,
	}

	start := time.Now()
	deps, err := Bootstrap(context.Background(), cfg)

	assert.Error(t, err)
	assert.Nil(t, deps)
	assert.Contains(t, err.Error(), "failed to ping db")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOpenTransport(t *testing.T) {
	d := &Dependencies{}
	require.NoError(t, d.openTransport(context.Background(), &config.Config{Transport: config.TransportMemory, LeaseDuration: time.Minute}))
	assert.IsType(t, &queue.MemoryTransport{}, d.Transport)
	assert.NoError(t, d.StartConsuming(&config.Config{}))
	d.Close()

	d = &Dependencies{}
	err := d.openTransport(context.Background(), &config.Config{Transport: "kafka"})
	assert.ErrorIs(t, err, config.ErrInvalid)
}
