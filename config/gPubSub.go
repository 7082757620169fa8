package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// AuditMessage is the payload published for every committed audit event.
type AuditMessage struct {
	EventId       int             `json:"event_id"`
	BusinessId    string          `json:"business_id"`
	ActorId       int             `json:"actor_id"`
	Action        string          `json:"action"`
	ResourceType  string          `json:"resource_type"`
	ResourceId    int             `json:"resource_id"`
	Details       json.RawMessage `json:"details"`
	CorrelationId string          `json:"correlation_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	s := GetSettings()
	if s.PubSubProjectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID not set")
	}
	var opts []option.ClientOption
	if s.PubSubCredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(s.PubSubCredentialsJSON)))
	}
	c, err := pubsub.NewClient(ctx, s.PubSubProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	log.Printf("pubsub client ready (project_id=%s)", s.PubSubProjectID)
	pubsubClient = c
	return c, nil
}

func CreateTopicIfNotExists(ctx context.Context, c *pubsub.Client, topic string) (*pubsub.Topic, error) {
	if c == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	t := c.Topic(topic)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return t, nil
	}
	t, err = c.CreateTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("create topic %q: %w", topic, err)
	}
	return t, nil
}

// PubSubAuditPublisher publishes audit messages to the AUDIT_TOPIC topic.
type PubSubAuditPublisher struct {
	Topic string

	once  sync.Once
	topic *pubsub.Topic
	err   error
}

func NewPubSubAuditPublisher(topic string) *PubSubAuditPublisher {
	return &PubSubAuditPublisher{Topic: topic}
}

// Publish returns the server-assigned message id.
func (p *PubSubAuditPublisher) Publish(ctx context.Context, msg AuditMessage) (string, error) {
	p.once.Do(func() {
		client, err := getPubSubClient(ctx)
		if err != nil {
			p.err = err
			return
		}
		p.topic, p.err = CreateTopicIfNotExists(ctx, client, p.Topic)
	})
	if p.err != nil {
		return "", p.err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"business_id": msg.BusinessId,
			"action":      msg.Action,
		},
	})
	return result.Get(ctx)
}

// Stop flushes pending publishes.
func (p *PubSubAuditPublisher) Stop() {
	if p.topic != nil {
		p.topic.Stop()
	}
}
