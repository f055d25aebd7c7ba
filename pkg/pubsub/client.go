// Package pubsub wraps the Cloud Pub/Sub v2 client used to publish outbox
// events.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Client publishes to a fixed set of topics, all of which must exist when it
// is created. Topics are never created here; infrastructure owns them.
type Client struct {
	client  *pubsub.Client
	project string
	topics  []string
}

// NewClient connects to gcp.ProjectID and checks that every topic exists.
// PUBSUB_EMULATOR_HOST, when set, is honoured by the underlying client.
func NewClient(ctx context.Context, gcp config.GCPConfig, topics []string, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errors.New("gcp project id is required")
	}

	resources := make([]string, 0, len(topics))
	for _, topic := range topics {
		name, err := topicResourceName(project, topic)
		if err != nil {
			return nil, err
		}
		resources = append(resources, name)
	}
	if len(resources) == 0 {
		return nil, errors.New("at least one pubsub topic is required")
	}

	var opts []option.ClientOption
	if creds := strings.TrimSpace(gcp.CredentialsJSON); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	ps, err := pubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{client: ps, project: project, topics: resources}
	if err := c.Ping(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	logg.Info(logg.WithFields(ctx, map[string]any{"project": project, "topics": resources}), "pubsub client ready")
	return c, nil
}

// Ping confirms each configured topic still exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	for _, topic := range c.topics {
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: topic})
		switch {
		case status.Code(err) == codes.NotFound:
			return fmt.Errorf("topic %s does not exist", topic)
		case err != nil:
			return fmt.Errorf("checking topic %s: %w", topic, err)
		}
	}
	return nil
}

// Publisher returns a publisher for topic, given as a short id or a full
// resource name, or nil when topic is not one the client was built for.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	name, err := topicResourceName(c.project, topic)
	if err != nil {
		return nil
	}
	for _, known := range c.topics {
		if known == name {
			return c.client.Publisher(name)
		}
	}
	return nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func topicResourceName(project, topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	switch {
	case topic == "":
		return "", errors.New("blank pubsub topic")
	case strings.HasPrefix(topic, "projects/"):
		parts := strings.Split(topic, "/")
		if len(parts) != 4 || parts[2] != "topics" || parts[1] == "" || parts[3] == "" {
			return "", fmt.Errorf("malformed topic resource name %q", topic)
		}
		return topic, nil
	case strings.Contains(topic, "/"):
		return "", fmt.Errorf("malformed topic id %q", topic)
	}
	return "projects/" + project + "/topics/" + topic, nil
}
