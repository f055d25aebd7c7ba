package main

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
)

// topicSink is the publishing side of the relay.
type topicSink interface {
	Ping(ctx context.Context) error
	Publish(ctx context.Context, topic string, msg *gcppubsub.Message) error
}

type pubsubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

// gcpTopics publishes through one cached ordered publisher per topic.
type gcpTopics struct {
	client pubsubClient

	mu         sync.Mutex
	publishers map[string]*gcppubsub.Publisher
}

func newGCPTopics(client pubsubClient) *gcpTopics {
	return &gcpTopics{client: client, publishers: map[string]*gcppubsub.Publisher{}}
}

func (g *gcpTopics) Ping(ctx context.Context) error {
	return g.client.Ping(ctx)
}

func (g *gcpTopics) Publish(ctx context.Context, topic string, msg *gcppubsub.Message) error {
	pub := g.publisher(topic)
	if pub == nil {
		return registry.Permanent(fmt.Errorf("publisher not configured for topic %s", topic))
	}
	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if _, err := pub.Publish(publishCtx, msg).Get(publishCtx); err != nil {
		// An ordered publisher pauses the key after a failure.
		if msg.OrderingKey != "" {
			pub.ResumePublish(msg.OrderingKey)
		}
		return err
	}
	return nil
}

// Stop flushes and stops every publisher handed out so far.
func (g *gcpTopics) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, pub := range g.publishers {
		pub.Stop()
	}
}

func (g *gcpTopics) publisher(topic string) *gcppubsub.Publisher {
	g.mu.Lock()
	defer g.mu.Unlock()
	if pub, ok := g.publishers[topic]; ok {
		return pub
	}
	pub := g.client.Publisher(topic)
	if pub == nil {
		return nil
	}
	pub.EnableMessageOrdering = true
	g.publishers[topic] = pub
	return pub
}

// outboundMessage carries the stored envelope as-is. The order id doubles as
// the ordering key so subscribers see one order's events in commit order.
func outboundMessage(row models.OutboxEvent, envelope outbox.Envelope) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       envelope.EventID,
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"order_id":       row.AggregateID.String(),
		"created_at":     row.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if envelope.Version > 0 {
		attrs["schema_version"] = strconv.Itoa(envelope.Version)
	}
	return &gcppubsub.Message{
		Data:        row.Payload,
		Attributes:  attrs,
		OrderingKey: row.AggregateID.String(),
	}
}
