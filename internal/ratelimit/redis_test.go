package ratelimit

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Интеграционные тесты RedisLimiter поверх настоящего Redis (redis:7-alpine).
//
// Запуск локально:
//   GO_TEST_INTEGRATION=1 go test ./internal/ratelimit -v -race -count=1

// startRedis — поднимает временный Redis и возвращает лимитер и функцию очистки.
// Если переменная окружения GO_TEST_INTEGRATION не установлена — тест пропускается.
func startRedis(t *testing.T) (*RedisLimiter, func()) {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)

	host, _ := c.Host(ctx)
	port, _ := c.MappedPort(ctx, "6379/tcp")

	l, err := NewRedisLimiter(ctx, fmt.Sprintf("redis://%s:%s/0", host, port.Port()), "test:rl:")
	require.NoError(t, err)

	cleanup := func() {
		_ = l.Close()
		_ = c.Terminate(context.Background())
	}
	return l, cleanup
}

func TestIntegration_RedisLimiter_Exhaustion(t *testing.T) {
	l, cleanup := startRedis(t)
	defer cleanup()

	ctx := context.Background()
	p := Policy{Name: "auth", Points: 3, Window: 30 * time.Second}

	for i := 0; i < p.Points; i++ {
		res, err := l.Consume(ctx, "9.9.9.9", p)
		require.NoError(t, err)
		require.True(t, res.Allowed)
		require.Equal(t, p.Points-i-1, res.Remaining)
	}

	res, err := l.Consume(ctx, "9.9.9.9", p)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Greater(t, res.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, res.RetryAfter, p.Window)

	res, err = l.Consume(ctx, "8.8.8.8", p)
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestIntegration_RedisLimiter_WindowExpires(t *testing.T) {
	l, cleanup := startRedis(t)
	defer cleanup()

	ctx := context.Background()
	p := Policy{Name: "short", Points: 1, Window: 300 * time.Millisecond}

	res, err := l.Consume(ctx, "k", p)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Consume(ctx, "k", p)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	require.Eventually(t, func() bool {
		res, err := l.Consume(ctx, "k", p)
		return err == nil && res.Allowed
	}, 3*time.Second, 100*time.Millisecond)
}

func TestIntegration_RedisLimiter_SharedAcrossInstances(t *testing.T) {
	l, cleanup := startRedis(t)
	defer cleanup()

	second := NewRedisLimiterFromClient(redis.NewClient(l.rdb.Options()), "test:rl:")
	defer second.Close()

	ctx := context.Background()
	p := Policy{Name: "api", Points: 20, Window: time.Minute}

	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		lim := l
		if i%2 == 1 {
			lim = second
		}
		go func(lim *RedisLimiter) {
			defer wg.Done()
			res, err := lim.Consume(ctx, "shared", p)
			if err == nil && res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}(lim)
	}
	wg.Wait()

	require.Equal(t, p.Points, allowed)
}

func TestRedisLimiter_BackendDown(t *testing.T) {
	t.Parallel()

	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	l := NewRedisLimiterFromClient(rdb, "")
	defer l.Close()

	_, err := l.Consume(context.Background(), "k", General)
	require.Error(t, err)
}
