package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	"cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"

	"github.com/nemadiversity/pipeline/internal/pkg/logger"
)

type QueueService interface {
	// Enqueue creates an HTTP POST task carrying payload as JSON. taskName
	// is optional; when set it deduplicates retries of the same submission.
	Enqueue(ctx context.Context, queue, targetURL, taskName string, payload any) error
}

type queueService struct {
	log       *logger.Logger
	client    *cloudtasks.Client
	projectID string
	region    string
}

func NewQueueService(log *logger.Logger, projectID, region string) (QueueService, error) {
	serviceLog := log.With("service", "QueueService")

	ctx := context.Background()
	client, err := cloudtasks.NewClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloud tasks client: %w", err)
	}

	return &queueService{
		log:       serviceLog,
		client:    client,
		projectID: projectID,
		region:    region,
	}, nil
}

func (qs *queueService) Enqueue(ctx context.Context, queue, targetURL, taskName string, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	queuePath := fmt.Sprintf("projects/%s/locations/%s/queues/%s", qs.projectID, qs.region, queue)
	task := &cloudtaskspb.Task{
		MessageType: &cloudtaskspb.Task_HttpRequest{
			HttpRequest: &cloudtaskspb.HttpRequest{
				HttpMethod: cloudtaskspb.HttpMethod_POST,
				Url:        targetURL,
				Headers:    map[string]string{"Content-Type": "application/json"},
				Body:       body,
			},
		},
	}
	if taskName != "" {
		task.Name = queuePath + "/tasks/" + taskName
	}

	if _, err := qs.client.CreateTask(ctx, &cloudtaskspb.CreateTaskRequest{
		Parent: queuePath,
		Task:   task,
	}); err != nil {
		return fmt.Errorf("failed to enqueue task on %q: %w", queue, err)
	}
	qs.log.Info("enqueued task", "queue", queue, "task", taskName)
	return nil
}
