// Package pubsub wraps the Pub/Sub v2 client used to fan out order events.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/payflow/pkg/config"
	"github.com/angelmondragon/payflow/pkg/logger"
)

var (
	ErrNoProject  = errors.New("gcp project id is required")
	ErrNoTopic    = errors.New("pubsub orders topic is required")
	errNotStarted = errors.New("pubsub client not initialized")
	errEmptyTopic = errors.New("topic name is empty")
)

// Client keeps one publisher per topic for the life of the process.
type Client struct {
	api     *pubsub.Client
	project string
	orders  string

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient dials Pub/Sub and fails fast when the orders topic is missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, ErrNoProject
	}
	orders := strings.TrimSpace(cfg.OrdersTopic)
	if orders == "" {
		return nil, ErrNoTopic
	}
	api, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("pubsub dial: %w", err)
	}
	c := &Client{api: api, project: project, orders: orders, publishers: map[string]*pubsub.Publisher{}}
	if err := c.Ping(ctx); err != nil {
		_ = api.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", orders), "pubsub client ready")
	}
	return c, nil
}

// Ping looks up the orders topic.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.api == nil {
		return errNotStarted
	}
	name := TopicPath(c.project, c.orders)
	_, err := c.api.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("topic %s not found", name)
	default:
		return fmt.Errorf("get topic %s: %w", name, err)
	}
}

// Send publishes msg on topic and waits for the server ack.
func (c *Client) Send(ctx context.Context, topic string, msg *pubsub.Message) (string, error) {
	pub, err := c.publisher(topic)
	if err != nil {
		return "", err
	}
	return pub.Publish(ctx, msg).Get(ctx)
}

func (c *Client) publisher(topic string) (*pubsub.Publisher, error) {
	if c == nil || c.api == nil {
		return nil, errNotStarted
	}
	name := TopicPath(c.project, topic)
	if name == "" {
		return nil, errEmptyTopic
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[name]; ok {
		return p, nil
	}
	p := c.api.Publisher(name)
	c.publishers[name] = p
	return p, nil
}

// Close flushes cached publishers and closes the connection.
func (c *Client) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	c.mu.Lock()
	for name, p := range c.publishers {
		p.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.api.Close()
}

// TopicPath expands a short topic id to its resource name. Full resource
// names pass through unchanged.
func TopicPath(project, topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return ""
	}
	if strings.HasPrefix(topic, "projects/") {
		return topic
	}
	if project = strings.TrimSpace(project); project == "" {
		return ""
	}
	return "projects/" + project + "/topics/" + topic
}
