package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"octo/internal/domain"

	"go.uber.org/zap"
)

const DefaultRelationship = "same_as"

// CrossReferenceService links local entities to remote resources without copying ownership.
type CrossReferenceService struct {
	Refs     CrossReferenceRepository
	Resolver EntityResolver
	Logger   *zap.Logger
	Now      func() time.Time
}

func NewCrossReferenceService(refs CrossReferenceRepository, resolver EntityResolver, logger *zap.Logger) *CrossReferenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CrossReferenceService{
		Refs:     refs,
		Resolver: resolver,
		Logger:   logger.With(zap.String("component", "xref")),
		Now:      time.Now,
	}
}

// Link upserts on (local_uri, remote_rid); relinking updates relationship and confidence.
func (s *CrossReferenceService) Link(ctx context.Context, ref domain.CrossReference) (domain.CrossReference, error) {
	if s == nil || s.Refs == nil {
		return domain.CrossReference{}, errors.New("cross reference repository is required")
	}
	ref.LocalURI = strings.TrimSpace(ref.LocalURI)
	ref.RemoteRID = strings.TrimSpace(ref.RemoteRID)
	if ref.LocalURI == "" || ref.RemoteRID == "" {
		return domain.CrossReference{}, fmt.Errorf("%w: local_uri and remote_rid are required", domain.ErrInvalidRequest)
	}
	if ref.Relationship == "" {
		ref.Relationship = DefaultRelationship
	}
	if math.IsNaN(ref.Confidence) || ref.Confidence < 0 || ref.Confidence > 1 {
		return domain.CrossReference{}, fmt.Errorf("%w: confidence must be within [0,1]", domain.ErrInvalidRequest)
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	ref.UpdatedAt = now
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = now
	}
	return s.Refs.Upsert(ctx, ref)
}

// Enrich asks the resolver which local entities a received document matches and links them.
// It is best-effort: failures are logged and never reach intake.
func (s *CrossReferenceService) Enrich(ctx context.Context, doc domain.SharedDocument) int {
	if s == nil || s.Resolver == nil || s.Refs == nil {
		return 0
	}
	matches, err := s.Resolver.Resolve(ctx, doc)
	if err != nil {
		s.Logger.Warn("entity resolution failed", zap.String("document_rid", doc.DocumentRID), zap.Error(err))
		return 0
	}
	linked := 0
	for _, m := range matches {
		_, err := s.Link(ctx, domain.CrossReference{
			LocalURI:     m.LocalURI,
			RemoteRID:    doc.DocumentRID,
			RemoteNode:   doc.SenderNode,
			Relationship: m.Relationship,
			Confidence:   m.Confidence,
		})
		if err != nil {
			s.Logger.Warn("cross reference link failed",
				zap.String("document_rid", doc.DocumentRID),
				zap.String("local_uri", m.LocalURI),
				zap.Error(err),
			)
			continue
		}
		linked++
	}
	return linked
}

func (s *CrossReferenceService) ForRemote(ctx context.Context, remoteRID string) ([]domain.CrossReference, error) {
	if s == nil || s.Refs == nil {
		return nil, errors.New("cross reference repository is required")
	}
	return s.Refs.ListByRemote(ctx, remoteRID)
}

func (s *CrossReferenceService) ForLocal(ctx context.Context, localURI string) ([]domain.CrossReference, error) {
	if s == nil || s.Refs == nil {
		return nil, errors.New("cross reference repository is required")
	}
	return s.Refs.ListByLocal(ctx, localURI)
}
