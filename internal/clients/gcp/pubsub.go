package gcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/nemadiversity/pipeline/internal/pkg/logger"
)

type PublishService interface {
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error)
}

type publishService struct {
	log    *logger.Logger
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

func NewPublishService(log *logger.Logger, projectID string) (PublishService, error) {
	serviceLog := log.With("service", "PublishService")

	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, projectID, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	return &publishService{
		log:    serviceLog,
		client: client,
		topics: map[string]*pubsub.Topic{},
	}, nil
}

func (ps *publishService) topic(name string) *pubsub.Topic {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	t, ok := ps.topics[name]
	if !ok {
		t = ps.client.Topic(name)
		ps.topics[name] = t
	}
	return t
}

func (ps *publishService) Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	id, err := ps.topic(topic).Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish to %q: %w", topic, err)
	}
	return id, nil
}
