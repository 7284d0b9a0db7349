// Package profile handles user and project writes. Every write re-embeds the
// entity synchronously so recommendations never serve a stale vector.
package profile

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/silo/internal/domain"
	"github.com/kailas-cloud/silo/internal/domain/entity"
	"github.com/kailas-cloud/silo/internal/logger"
)

// Service writes profiles and their embeddings.
type Service struct {
	store      Store
	embeddings Embeddings
	logger     *zap.Logger
}

// New creates the profile service.
func New(store Store, embeddings Embeddings, logger *zap.Logger) *Service {
	return &Service{store: store, embeddings: embeddings, logger: logger}
}

// UpsertUser writes the requester's own profile and refreshes its embedding.
func (s *Service) UpsertUser(ctx context.Context, requesterID string, u *entity.User) error {
	if u.UserID == "" {
		return domain.Validationf("user id is required")
	}
	if u.UserID != requesterID {
		return fmt.Errorf("user %s may only edit their own profile: %w", requesterID, domain.ErrUnauthorized)
	}
	if strings.TrimSpace(u.Username) == "" {
		return domain.Validationf("username is required")
	}

	if err := s.store.UpsertUser(ctx, u); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	s.reembed(ctx, u)
	return nil
}

// UpsertProject creates or updates a project owned by the requester.
func (s *Service) UpsertProject(ctx context.Context, requesterID string, p *entity.Project) error {
	if p.ProjectID == "" {
		return domain.Validationf("project id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return domain.Validationf("project name is required")
	}
	existing, err := s.project(ctx, p.ProjectID)
	if err != nil {
		return err
	}
	p.OwnerID = requesterID
	if existing != nil {
		owned, err := s.owns(ctx, requesterID, existing.OwnerID)
		if err != nil {
			return err
		}
		if !owned {
			return fmt.Errorf("project %s belongs to another user: %w", p.ProjectID, domain.ErrUnauthorized)
		}
		p.OwnerID = existing.OwnerID
	}

	if err := s.store.UpsertProject(ctx, p); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	s.reembed(ctx, p)
	return nil
}

// DeleteProject removes a project owned by the requester together with its vector.
func (s *Service) DeleteProject(ctx context.Context, requesterID, id string) error {
	existing, err := s.project(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	owned, err := s.owns(ctx, requesterID, existing.OwnerID)
	if err != nil {
		return err
	}
	if !owned {
		return fmt.Errorf("project %s belongs to another user: %w", id, domain.ErrUnauthorized)
	}

	if err := s.store.DeleteProject(ctx, id); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if err := s.embeddings.Remove(ctx, id); err != nil {
		// hydration skips vectors whose document is gone
		logger.FromContextOr(ctx, s.logger).Warn("Failed to delete project vector",
			zap.String("project_id", id),
			zap.Error(err),
		)
	}
	return nil
}

// owns reports whether the requester owns a project recorded with owner.
// Projects created before silo record the owner's username instead of the id.
func (s *Service) owns(ctx context.Context, requesterID, owner string) (bool, error) {
	if owner == requesterID {
		return true, nil
	}
	if owner == "" {
		return false, nil
	}
	found, err := s.store.GetMany(ctx, entity.KindUser, []string{requesterID})
	if err != nil {
		return false, fmt.Errorf("load requester: %w", err)
	}
	if len(found) == 0 {
		return false, nil
	}
	u, ok := found[0].(*entity.User)
	return ok && u.Username == owner, nil
}

func (s *Service) project(ctx context.Context, id string) (*entity.Project, error) {
	found, err := s.store.GetMany(ctx, entity.KindProject, []string{id})
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	p, ok := found[0].(*entity.Project)
	if !ok {
		return nil, fmt.Errorf("project %s has unexpected type %T: %w", id, found[0], domain.ErrStore)
	}
	return p, nil
}

// reembed refreshes e's vector. On failure the stale vector is dropped so the
// next read rebuilds it lazily; the write itself has already succeeded.
func (s *Service) reembed(ctx context.Context, e entity.Entity) {
	lg := logger.FromContextOr(ctx, s.logger)
	if _, err := s.embeddings.Refresh(ctx, e); err != nil {
		lg.Warn("Re-embedding failed, dropping stale vector",
			zap.String("kind", e.Kind().String()),
			zap.String("id", e.ID()),
			zap.Error(err),
		)
		if err := s.embeddings.Remove(ctx, e.ID()); err != nil {
			lg.Error("Failed to drop stale vector",
				zap.String("id", e.ID()),
				zap.Error(err),
			)
		}
	}
}
