package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driven"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driving"
)

// Ensure InspectionService implements the interface.
var _ driving.Inspector = (*InspectionService)(nil)

// InspectionService serves the read-only commands.
type InspectionService struct {
	history driven.HistoryStore
	reader  driven.MetadataReader
}

// NewInspectionService creates an inspection service. Either dependency
// may be nil, which disables the matching queries.
func NewInspectionService(history driven.HistoryStore, reader driven.MetadataReader) *InspectionService {
	return &InspectionService{history: history, reader: reader}
}

// ListRuns returns recent runs.
func (s *InspectionService) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if s.history == nil {
		return nil, errors.New("run history not configured")
	}
	return s.history.ListRuns(ctx, limit)
}

// GetRun returns one run with its jobs.
func (s *InspectionService) GetRun(ctx context.Context, id string) (*domain.RunRecord, error) {
	if s.history == nil {
		return nil, errors.New("run history not configured")
	}
	if id == "" {
		return nil, fmt.Errorf("%w: run ID is required", domain.ErrInvalidInput)
	}
	return s.history.GetRun(ctx, id)
}

// DestinationMetadata reads the registries of a destination file.
func (s *InspectionService) DestinationMetadata(ctx context.Context, destFile, table string) ([]domain.TableMetadata, error) {
	if s.reader == nil {
		return nil, errors.New("metadata reader not configured")
	}
	if destFile == "" {
		return nil, fmt.Errorf("%w: destination is required", domain.ErrInvalidInput)
	}
	return s.reader.ReadMetadata(ctx, destFile, table)
}
