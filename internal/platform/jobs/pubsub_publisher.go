package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/iryastone/storefront/internal/services"
)

// PubSubSyncPublisher publishes login sync outcomes to a Pub/Sub topic.
type PubSubSyncPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubSyncPublisher constructs a Pub/Sub backed sync outcome publisher.
func NewPubSubSyncPublisher(topic *pubsub.Topic) (*PubSubSyncPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub sync publisher: topic is required")
	}
	return &PubSubSyncPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishSyncOutcome sends the outcome and blocks until the server acknowledges it.
func (p *PubSubSyncPublisher) PublishSyncOutcome(ctx context.Context, message services.SyncOutcomeMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub sync publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal sync outcome: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "jobId", message.JobID)
	setAttr(attrs, "userId", message.UserID)
	setAttr(attrs, "status", string(message.Status))
	if failed := message.CartFailed + message.WishlistFailed; failed > 0 {
		attrs["failedItems"] = strconv.Itoa(failed)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
		// Outcomes for one user stay ordered when the topic has ordering enabled.
		OrderingKey: orderingKey(p.topic, message.UserID),
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish sync outcome: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages and releases the topic's goroutines.
func (p *PubSubSyncPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func orderingKey(topic *pubsub.Topic, userID string) string {
	if !topic.EnableMessageOrdering {
		return ""
	}
	return strings.TrimSpace(userID)
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
