package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/garyjia/agent-runtime/internal/domain/entity"
	"github.com/garyjia/agent-runtime/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func levelPtr(l entity.AutonomyLevel) *entity.AutonomyLevel { return &l }

func newAutonomyFixture() (AutonomyService, *memAutonomyRepo, *recordingPublisher) {
	repo := newMemAutonomyRepo()
	pub := &recordingPublisher{}
	return NewAutonomyService(repo, pub, entity.DefaultAutonomyLevel, &mockLogger{}), repo, pub
}

func TestAutonomyService_OrgCeilingWins(t *testing.T) {
	svc, repo, _ := newAutonomyFixture()
	ctx := context.Background()

	repo.orgs["acme"] = &entity.Organization{ID: "acme", DefaultLevel: entity.L1, MaxAutonomy: entity.L1}
	repo.members["u1"] = &entity.OrgMembership{OrgID: "acme", UserID: "u1"}
	repo.prefs["u1"] = entity.L3

	cfg, err := svc.ResolveAutonomy(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, entity.L1, cfg.Level)
	assert.Equal(t, entity.AutonomySourcePersonal, cfg.Source)
	assert.Equal(t, "acme", cfg.OrgID)
}

func TestAutonomyService_ResolveNeverExceedsCeiling(t *testing.T) {
	ctx := context.Background()
	for ceiling := entity.L0; ceiling <= entity.L3; ceiling++ {
		for personal := entity.L0; personal <= entity.L3; personal++ {
			for _, override := range []*entity.AutonomyLevel{nil, levelPtr(entity.L0), levelPtr(entity.L3)} {
				name := fmt.Sprintf("ceiling=%s/personal=%s/override=%v", ceiling, personal, override != nil)
				t.Run(name, func(t *testing.T) {
					svc, repo, _ := newAutonomyFixture()
					repo.orgs["o"] = &entity.Organization{ID: "o", DefaultLevel: entity.L3, MaxAutonomy: ceiling}
					repo.members["u"] = &entity.OrgMembership{OrgID: "o", UserID: "u", OverrideLevel: override}
					repo.prefs["u"] = personal

					cfg, err := svc.ResolveAutonomy(ctx, "u")
					require.NoError(t, err)
					assert.LessOrEqual(t, int(cfg.Level), int(ceiling))
				})
			}
		}
	}
}

func TestAutonomyService_ResolutionOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("system default without org or preference", func(t *testing.T) {
		svc, _, _ := newAutonomyFixture()
		cfg, err := svc.ResolveAutonomy(ctx, "solo")
		require.NoError(t, err)
		assert.Equal(t, entity.L1, cfg.Level)
		assert.Equal(t, entity.AutonomySourceSystem, cfg.Source)
		assert.Equal(t, entity.L3, cfg.MaxAutonomy)
	})

	t.Run("org default when no preference", func(t *testing.T) {
		svc, repo, _ := newAutonomyFixture()
		repo.orgs["o"] = &entity.Organization{ID: "o", DefaultLevel: entity.L2, MaxAutonomy: entity.L3}
		repo.members["u"] = &entity.OrgMembership{OrgID: "o", UserID: "u"}

		cfg, err := svc.ResolveAutonomy(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, entity.L2, cfg.Level)
		assert.Equal(t, entity.AutonomySourceOrg, cfg.Source)
	})

	t.Run("override beats preference", func(t *testing.T) {
		svc, repo, _ := newAutonomyFixture()
		repo.orgs["o"] = &entity.Organization{ID: "o", DefaultLevel: entity.L2, MaxAutonomy: entity.L3}
		repo.members["u"] = &entity.OrgMembership{OrgID: "o", UserID: "u", OverrideLevel: levelPtr(entity.L0)}
		repo.prefs["u"] = entity.L3

		cfg, err := svc.ResolveAutonomy(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, entity.L0, cfg.Level)
		assert.Equal(t, entity.AutonomySourceOverride, cfg.Source)
	})

	t.Run("dangling membership falls back to personal", func(t *testing.T) {
		svc, repo, _ := newAutonomyFixture()
		repo.members["u"] = &entity.OrgMembership{OrgID: "gone", UserID: "u"}
		repo.prefs["u"] = entity.L2

		cfg, err := svc.ResolveAutonomy(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, entity.L2, cfg.Level)
		assert.Empty(t, cfg.OrgID)
	})

	t.Run("repository error", func(t *testing.T) {
		svc, repo, _ := newAutonomyFixture()
		repo.getMembershipErr = errors.New("db down")
		_, err := svc.ResolveAutonomy(ctx, "u")
		assert.Error(t, err)
	})
}

func TestAutonomyService_SelfServiceRejects(t *testing.T) {
	svc, repo, pub := newAutonomyFixture()
	ctx := context.Background()
	repo.orgs["o"] = &entity.Organization{ID: "o", DefaultLevel: entity.L1, MaxAutonomy: entity.L2}
	repo.members["u"] = &entity.OrgMembership{OrgID: "o", UserID: "u"}

	err := svc.Validate(ctx, "u", entity.L3)
	var exceeded *entity.AutonomyExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, entity.L2, exceeded.Ceiling)

	_, err = svc.SetPreference(ctx, "u", entity.L3)
	assert.ErrorIs(t, err, entity.ErrAutonomyExceeded)
	_, stored := repo.prefs["u"]
	assert.False(t, stored)

	cfg, err := svc.SetPreference(ctx, "u", entity.L2)
	require.NoError(t, err)
	assert.Equal(t, entity.L2, cfg.Level)
	assert.Equal(t, []event.Type{event.TypeAutonomyChanged}, pub.types())

	assert.ErrorIs(t, svc.Validate(ctx, "u", entity.AutonomyLevel(7)), entity.ErrValidation)
}

func TestAutonomyService_AdminOverrideClamps(t *testing.T) {
	svc, repo, _ := newAutonomyFixture()
	ctx := context.Background()
	repo.orgs["o"] = &entity.Organization{ID: "o", DefaultLevel: entity.L1, MaxAutonomy: entity.L2}
	repo.members["u"] = &entity.OrgMembership{OrgID: "o", UserID: "u"}

	cfg, err := svc.SetOverride(ctx, "o", "u", levelPtr(entity.L3))
	require.NoError(t, err)
	assert.Equal(t, entity.L2, cfg.Level)
	require.NotNil(t, repo.members["u"].OverrideLevel)
	assert.Equal(t, entity.L2, *repo.members["u"].OverrideLevel, "stored clamped")

	cfg, err = svc.SetOverride(ctx, "o", "u", nil)
	require.NoError(t, err)
	assert.Equal(t, entity.AutonomySourceOrg, cfg.Source)

	_, err = svc.SetOverride(ctx, "o", "stranger", levelPtr(entity.L1))
	assert.ErrorIs(t, err, entity.ErrNotFound)

	_, err = svc.SetOverride(ctx, "missing", "u", levelPtr(entity.L1))
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestAutonomyService_Organizations(t *testing.T) {
	svc, repo, _ := newAutonomyFixture()
	ctx := context.Background()

	org := &entity.Organization{ID: "o", Name: "Org", DefaultLevel: entity.L3, MaxAutonomy: entity.L1}
	require.NoError(t, svc.SaveOrganization(ctx, org))
	assert.Equal(t, entity.L1, repo.orgs["o"].DefaultLevel, "default capped at ceiling")

	assert.ErrorIs(t, svc.SaveOrganization(ctx, &entity.Organization{}), entity.ErrValidation)

	require.NoError(t, svc.AddMember(ctx, "o", "u"))
	assert.ErrorIs(t, svc.AddMember(ctx, "nope", "u"), entity.ErrNotFound)
}
