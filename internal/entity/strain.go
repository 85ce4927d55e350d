package entity

import (
	"context"

	"github.com/nemadiversity/pipeline/internal/clients/gcp"
	apperrors "github.com/nemadiversity/pipeline/internal/pkg/errors"
	"github.com/nemadiversity/pipeline/internal/pkg/logger"
)

const KindStrain = "strain"

// StrainStore answers whether a strain name belongs to a species' published
// isotype set. Heritability submissions are validated against it.
type StrainStore interface {
	Known(ctx context.Context, species, strain string) (bool, error)
}

type strainStore struct {
	log  *logger.Logger
	docs gcp.DocumentService
}

func NewStrainStore(log *logger.Logger, docs gcp.DocumentService) StrainStore {
	return &strainStore{log: log.With("service", "StrainStore"), docs: docs}
}

func (ss *strainStore) Known(ctx context.Context, species, strain string) (bool, error) {
	props, err := ss.docs.Get(ctx, KindStrain, strain)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if s, ok := props["species"].(string); ok && s != species {
		return false, nil
	}
	return true, nil
}
