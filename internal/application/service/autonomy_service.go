package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
	"github.com/garyjia/agent-runtime/internal/domain/event"
	"github.com/garyjia/agent-runtime/internal/domain/policy"
)

// AutonomyService resolves and updates per-user autonomy.
//
// Resolution order is admin override, then personal preference, then the
// org default, then the system default. The org ceiling always caps the
// result.
type AutonomyService interface {
	ResolveAutonomy(ctx context.Context, userID string) (*entity.AutonomyConfig, error)

	// Validate is the self-service check: it rejects levels above the ceiling
	Validate(ctx context.Context, userID string, requested entity.AutonomyLevel) error

	// SetPreference validates then stores the user's own level
	SetPreference(ctx context.Context, userID string, level entity.AutonomyLevel) (*entity.AutonomyConfig, error)

	// SetOverride is the admin path: the level is clamped to the ceiling,
	// never rejected. A nil level clears the override.
	SetOverride(ctx context.Context, orgID, userID string, level *entity.AutonomyLevel) (*entity.AutonomyConfig, error)

	SaveOrganization(ctx context.Context, org *entity.Organization) error
	AddMember(ctx context.Context, orgID, userID string) error
}

type autonomyServiceImpl struct {
	repo         port.AutonomyRepository
	publisher    EventPublisher
	defaultLevel entity.AutonomyLevel
	logger       Logger
}

// NewAutonomyService creates a new AutonomyService. defaultLevel applies to
// users with no preference and no organization.
func NewAutonomyService(
	repo port.AutonomyRepository,
	publisher EventPublisher,
	defaultLevel entity.AutonomyLevel,
	logger Logger,
) AutonomyService {
	if !defaultLevel.IsValid() {
		defaultLevel = entity.DefaultAutonomyLevel
	}
	return &autonomyServiceImpl{
		repo:         repo,
		publisher:    publisher,
		defaultLevel: defaultLevel,
		logger:       logger,
	}
}

// ResolveAutonomy computes the effective level for a user
func (s *autonomyServiceImpl) ResolveAutonomy(ctx context.Context, userID string) (*entity.AutonomyConfig, error) {
	if userID == "" {
		return nil, entity.NewValidationError("user_id", "required")
	}

	membership, org, err := s.lookupOrg(ctx, userID)
	if err != nil {
		return nil, err
	}

	cfg := &entity.AutonomyConfig{
		UserID:      userID,
		Level:       s.defaultLevel,
		Source:      entity.AutonomySourceSystem,
		MaxAutonomy: entity.MaxAutonomyLevel,
	}
	if org != nil {
		cfg.OrgID = org.ID
		cfg.MaxAutonomy = org.MaxAutonomy
	}

	switch {
	case membership != nil && membership.OverrideLevel != nil:
		cfg.Level = *membership.OverrideLevel
		cfg.Source = entity.AutonomySourceOverride
	default:
		personal, err := s.repo.GetUserAutonomy(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("get user autonomy: %w", err)
		}
		if personal != nil {
			cfg.Level = personal.Level
			cfg.Source = entity.AutonomySourcePersonal
		} else if org != nil {
			cfg.Level = org.DefaultLevel
			cfg.Source = entity.AutonomySourceOrg
		}
	}

	cfg.Level = policy.Clamp(cfg.Level, cfg.MaxAutonomy)
	return cfg, nil
}

// Validate rejects requests above the user's ceiling
func (s *autonomyServiceImpl) Validate(ctx context.Context, userID string, requested entity.AutonomyLevel) error {
	if !requested.IsValid() {
		return entity.NewValidationError("level", fmt.Sprintf("unknown autonomy level %d", int(requested)))
	}
	ceiling, err := s.ceiling(ctx, userID)
	if err != nil {
		return err
	}
	if requested > ceiling {
		return &entity.AutonomyExceededError{Requested: requested, Ceiling: ceiling}
	}
	return nil
}

// SetPreference stores the personal level after validating it
func (s *autonomyServiceImpl) SetPreference(ctx context.Context, userID string, level entity.AutonomyLevel) (*entity.AutonomyConfig, error) {
	if userID == "" {
		return nil, entity.NewValidationError("user_id", "required")
	}
	if err := s.Validate(ctx, userID, level); err != nil {
		return nil, err
	}
	if err := s.repo.SetUserAutonomy(ctx, userID, level); err != nil {
		s.logger.Error("Failed to set autonomy preference", "error", err, "user_id", userID)
		return nil, fmt.Errorf("set autonomy preference: %w", err)
	}
	return s.resolveAndPublish(ctx, userID)
}

// SetOverride stores an admin override clamped to the org ceiling
func (s *autonomyServiceImpl) SetOverride(ctx context.Context, orgID, userID string, level *entity.AutonomyLevel) (*entity.AutonomyConfig, error) {
	if orgID == "" || userID == "" {
		return nil, entity.NewValidationError("", "org_id and user_id are required")
	}

	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	membership, err := s.repo.GetMembership(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	if membership == nil || membership.OrgID != orgID {
		return nil, fmt.Errorf("user %s in org %s: %w", userID, orgID, entity.ErrNotFound)
	}

	var stored *entity.AutonomyLevel
	if level != nil {
		if !level.IsValid() {
			return nil, entity.NewValidationError("level", fmt.Sprintf("unknown autonomy level %d", int(*level)))
		}
		clamped := policy.Clamp(*level, org.MaxAutonomy)
		if clamped != *level {
			s.logger.Info("Clamped autonomy override to org ceiling",
				"user_id", userID, "org_id", orgID, "requested", level.String(), "ceiling", org.MaxAutonomy.String())
		}
		stored = &clamped
	}

	if err := s.repo.SetOverride(ctx, orgID, userID, stored); err != nil {
		s.logger.Error("Failed to set autonomy override", "error", err, "user_id", userID, "org_id", orgID)
		return nil, fmt.Errorf("set autonomy override: %w", err)
	}
	return s.resolveAndPublish(ctx, userID)
}

// SaveOrganization creates or updates an organization
func (s *autonomyServiceImpl) SaveOrganization(ctx context.Context, org *entity.Organization) error {
	if org == nil || org.ID == "" {
		return entity.NewValidationError("id", "required")
	}
	if !org.MaxAutonomy.IsValid() || !org.DefaultLevel.IsValid() {
		return entity.NewValidationError("level", "organization levels must be L0..L3")
	}
	if org.DefaultLevel > org.MaxAutonomy {
		org.DefaultLevel = org.MaxAutonomy
	}
	return s.repo.SaveOrganization(ctx, org)
}

// AddMember places the user in an organization
func (s *autonomyServiceImpl) AddMember(ctx context.Context, orgID, userID string) error {
	if orgID == "" || userID == "" {
		return entity.NewValidationError("", "org_id and user_id are required")
	}
	if _, err := s.repo.GetOrganization(ctx, orgID); err != nil {
		return fmt.Errorf("get organization: %w", err)
	}
	return s.repo.AddMember(ctx, orgID, userID)
}

func (s *autonomyServiceImpl) lookupOrg(ctx context.Context, userID string) (*entity.OrgMembership, *entity.Organization, error) {
	membership, err := s.repo.GetMembership(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("get membership: %w", err)
	}
	if membership == nil {
		return nil, nil, nil
	}

	org, err := s.repo.GetOrganization(ctx, membership.OrgID)
	if errors.Is(err, entity.ErrNotFound) {
		s.logger.Warn("Membership points at a missing organization", "user_id", userID, "org_id", membership.OrgID)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get organization: %w", err)
	}
	return membership, org, nil
}

func (s *autonomyServiceImpl) ceiling(ctx context.Context, userID string) (entity.AutonomyLevel, error) {
	_, org, err := s.lookupOrg(ctx, userID)
	if err != nil {
		return 0, err
	}
	if org == nil {
		return entity.MaxAutonomyLevel, nil
	}
	return org.MaxAutonomy, nil
}

func (s *autonomyServiceImpl) resolveAndPublish(ctx context.Context, userID string) (*entity.AutonomyConfig, error) {
	cfg, err := s.ResolveAutonomy(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, event.NewEvent(event.TypeAutonomyChanged, userID, "", map[string]interface{}{
		"level":  cfg.Level.String(),
		"source": string(cfg.Source),
	}))
	return cfg, nil
}
