package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	tests := []struct {
		name          string
		env           string
		rdb           *redis.Client
		calls         int
		expectedAllow bool
		expectErr     bool
	}{
		{name: "Test Environment Bypass", env: "test", calls: 5, expectedAllow: true},
		{name: "Development Environment Bypass", env: "development", calls: 5, expectedAllow: true},
		{name: "Nil Redis In Production", env: "production", calls: 1, expectErr: true},
		{name: "Within Limit", env: "production", rdb: rdb, calls: 2, expectedAllow: true},
		{name: "Over Limit", env: "production", rdb: rdb, calls: 3, expectedAllow: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("APP_ENV", tt.env)
			mr.FlushAll()

			var (
				allowed bool
				err     error
			)
			for i := 0; i < tt.calls; i++ {
				allowed, _, err = CheckRateLimit(context.Background(), tt.rdb, "submissions", "user:1", 2, time.Minute)
			}
			if tt.expectErr {
				assert.Error(t, err)
				assert.False(t, allowed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedAllow, allowed)
		})
	}
}

func TestCheckRateLimitWindowExpires(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	ctx := context.Background()
	allowed, remaining, err := CheckRateLimit(ctx, rdb, "submissions", "user:7", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, remaining)
	assert.Equal(t, time.Minute, mr.TTL("fanvault:rl:submissions:user:7"))

	allowed, _, err = CheckRateLimit(ctx, rdb, "submissions", "user:7", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	mr.FastForward(61 * time.Second)
	allowed, _, err = CheckRateLimit(ctx, rdb, "submissions", "user:7", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("Bypass in test mode", func(t *testing.T) {
		app := fiber.New()
		t.Setenv("APP_ENV", "test")
		app.Get("/test", RateLimit(nil, 1, time.Minute), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		resp, err := app.Test(req)
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("FailOpen with nil redis in production", func(t *testing.T) {
		app := fiber.New()
		t.Setenv("APP_ENV", "production")
		app.Get("/test", RateLimit(nil, 1, time.Minute), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		resp, err := app.Test(req)
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("FailClosed with nil redis in production", func(t *testing.T) {
		app := fiber.New()
		t.Setenv("APP_ENV", "production")
		app.Get("/sensitive", RateLimitWithPolicy(nil, 1, time.Minute, FailClosed), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/sensitive", nil)
		resp, err := app.Test(req)
		assert.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("Per user limit in production", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer func() { _ = rdb.Close() }()

		app := fiber.New()
		setUser := func(id uint) fiber.Handler {
			return func(c *fiber.Ctx) error {
				c.Locals(LocalUserID, id)
				return c.Next()
			}
		}
		app.Post("/a", setUser(1), RateLimit(rdb, 1, time.Hour, "submissions"), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusCreated)
		})
		app.Post("/b", setUser(2), RateLimit(rdb, 1, time.Hour, "submissions"), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusCreated)
		})

		do := func(path string) *http.Response {
			resp, err := app.Test(httptest.NewRequest(http.MethodPost, path, nil))
			require.NoError(t, err)
			_ = resp.Body.Close()
			return resp
		}

		assert.Equal(t, http.StatusCreated, do("/a").StatusCode)
		second := do("/a")
		assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
		assert.Equal(t, "3600", second.Header.Get(fiber.HeaderRetryAfter))
		assert.Equal(t, http.StatusCreated, do("/b").StatusCode, "limits are per user")
	})
}
