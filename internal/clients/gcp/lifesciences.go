package gcp

import (
	"context"
	"fmt"
	"time"

	lifesciences "google.golang.org/api/lifesciences/v2beta"

	"github.com/nemadiversity/pipeline/internal/pkg/logger"
)

// LifesciencesService reads the status of operations started by the retired
// Life Sciences pipeline backend. Old reports still reference these
// operations, so status lookups must keep working; nothing new is ever
// submitted through this API.
type LifesciencesService interface {
	GetOperationStatus(ctx context.Context, opName string) (ExecutionStatus, error)
}

type lifesciencesService struct {
	log     *logger.Logger
	service *lifesciences.Service
}

func NewLifesciencesService(log *logger.Logger) (LifesciencesService, error) {
	serviceLog := log.With("service", "LifesciencesService")

	ctx := context.Background()
	svc, err := lifesciences.NewService(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create lifesciences client: %w", err)
	}

	return &lifesciencesService{log: serviceLog, service: svc}, nil
}

func (ls *lifesciencesService) GetOperationStatus(ctx context.Context, opName string) (ExecutionStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	op, err := ls.service.Projects.Locations.Operations.Get(opName).Context(ctx).Do()
	if err != nil {
		return ExecutionStatus{}, fmt.Errorf("failed to get operation %q: %w", opName, err)
	}

	st := ExecutionStatus{Done: op.Done}
	if op.Error != nil {
		st.Error = op.Error.Message
	}
	return st, nil
}
