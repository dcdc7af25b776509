// Package notifications publishes moderation outcomes to submitters over
// Redis pub/sub.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"fanvault/internal/models"
	"fanvault/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	TypeSubmissionApproved = "submission_approved"
	TypeSubmissionRejected = "submission_rejected"
)

// Payload is the JSON body published on a user's channel.
type Payload struct {
	Type         string `json:"type"`
	SubmissionID uint   `json:"submission_id"`
	Title        string `json:"title"`
	Reason       string `json:"reason,omitempty"`
	URL          string `json:"url,omitempty"`
}

// Notifier provides helpers to publish notifications into Redis channels
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
// A nil client turns every publish into a no-op.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// NotifyApproved tells the submitter their item is published.
func (n *Notifier) NotifyApproved(ctx context.Context, sub *models.PendingSubmission) error {
	return n.publishPayload(ctx, sub.SubmitterID, Payload{
		Type:         TypeSubmissionApproved,
		SubmissionID: sub.ID,
		Title:        sub.Title,
		URL:          sub.PublicURL,
	})
}

// NotifyRejected tells the submitter their item was declined and why.
func (n *Notifier) NotifyRejected(ctx context.Context, sub *models.PendingSubmission, reason string) error {
	return n.publishPayload(ctx, sub.SubmitterID, Payload{
		Type:         TypeSubmissionRejected,
		SubmissionID: sub.ID,
		Title:        sub.Title,
		Reason:       reason,
	})
}

func (n *Notifier) publishPayload(ctx context.Context, userID uint, p Payload) error {
	if n.rdb == nil {
		return nil
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return n.PublishUser(ctx, userID, string(body))
}

// PublishUser sends a notification payload to a user's channel.
func (n *Notifier) PublishUser(
	ctx context.Context, userID uint, payload string,
) error {
	if n.rdb == nil {
		return nil
	}
	ctx, span := observability.TraceRedisOperation(ctx, "publish")
	defer span.End()
	return n.rdb.Publish(ctx, UserChannel(userID), payload).Err()
}

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID uint) string {
	return "notifications:user:" + strconv.FormatUint(uint64(userID), 10)
}
