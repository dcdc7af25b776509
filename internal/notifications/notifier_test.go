package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"fanvault/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_NilRedisIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	sub := &models.PendingSubmission{ID: 1, SubmitterID: 2, Title: "x"}
	assert.NoError(t, n.NotifyApproved(context.Background(), sub))
	assert.NoError(t, n.NotifyRejected(context.Background(), sub, "nope"))
	assert.NoError(t, n.PublishUser(context.Background(), 1, "test payload"))
}

func TestUserChannel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		userID   uint
		expected string
	}{
		{1, "notifications:user:1"},
		{100, "notifications:user:100"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, UserChannel(tt.userID))
	}
}

func TestNotifier_NotifyRejectedPublishesOnUserChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	ctx := context.Background()
	ps := rdb.Subscribe(ctx, UserChannel(42))
	defer func() { _ = ps.Close() }()
	_, err := ps.Receive(ctx)
	require.NoError(t, err)

	n := NewNotifier(rdb)
	sub := &models.PendingSubmission{ID: 9, SubmitterID: 42, Title: "Sunset"}
	require.NoError(t, n.NotifyRejected(ctx, sub, "blurry"))

	select {
	case m := <-ps.Channel():
		assert.Equal(t, "notifications:user:42", m.Channel)
		var p Payload
		require.NoError(t, json.Unmarshal([]byte(m.Payload), &p))
		assert.Equal(t, TypeSubmissionRejected, p.Type)
		assert.Equal(t, "Sunset", p.Title)
		assert.Equal(t, "blurry", p.Reason)
		assert.Equal(t, uint(9), p.SubmissionID)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}
