// Package services implements the profile and media lifecycle operations on
// top of the repository, storage and pipeline layers.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vibeapp/mediavault/internal/common"
	"github.com/vibeapp/mediavault/internal/identity"
	"github.com/vibeapp/mediavault/internal/logging"
	sc "github.com/vibeapp/mediavault/internal/server/config"
	"github.com/vibeapp/mediavault/internal/server/models"
	"github.com/vibeapp/mediavault/internal/server/repositories/repomanager"
)

// ProfileService creates and reads profiles. Profile ids and their media
// slot pools are derived deterministically, so creating the same user's
// n-th profile always claims the same id.
type ProfileService struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	hasher *identity.Hasher
	config *sc.Config
	logger logging.Logger
}

func NewProfileService(db *sql.DB, repos repomanager.RepositoryManager, hasher *identity.Hasher, config *sc.Config, logger logging.Logger) *ProfileService {
	return &ProfileService{
		db:     db,
		repos:  repos,
		hasher: hasher,
		config: config,
		logger: logger.With("module", "profiles"),
	}
}

// allocateMediaPool derives the full, fixed media id pool for a profile.
func (s *ProfileService) allocateMediaPool(ctx context.Context, profileID string) ([]string, error) {
	ids := make([]string, 0, s.config.MaxMediaPerProfile)
	for i := 0; i < s.config.MaxMediaPerProfile; i++ {
		id, err := s.hasher.Derive(ctx, identity.MediaSlotInput(profileID, i), s.config.RecordIDLength)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Create claims the lowest unused profile slot for userID. Slot ids are
// derived from the user id and the slot index, so two concurrent creates for
// the same user race on the insert and the loser moves to the next slot.
func (s *ProfileService) Create(ctx context.Context, userID string) (*models.Profile, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", common.ErrInvalidInput)
	}

	repo := s.repos.Profiles(s.db)
	for idx := 0; idx < s.config.MaxProfilesPerUser; idx++ {
		profileID, err := s.hasher.Derive(ctx, identity.ProfileSlotInput(userID, idx), s.config.RecordIDLength)
		if err != nil {
			return nil, err
		}

		pool, err := s.allocateMediaPool(ctx, profileID)
		if err != nil {
			return nil, err
		}

		profile := &models.Profile{
			ID:                profileID,
			UserID:            userID,
			AllocatedMediaIDs: pool,
			ActiveMediaIDs:    []string{},
		}
		err = repo.Create(ctx, profile)
		if err == nil {
			s.logger.Info(ctx, "profile created", "profile_id", profileID, "user_id", userID)
			return profile, nil
		}
		if errors.Is(err, common.ErrConflict) {
			// Slot already claimed by an earlier create; try the next one.
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: user has %d profiles", common.ErrPoolExhausted, s.config.MaxProfilesPerUser)
}

// Get returns the profile, enforcing ownership.
func (s *ProfileService) Get(ctx context.Context, callerID, profileID string) (*models.Profile, error) {
	profile, err := s.repos.Profiles(s.db).Get(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if profile.UserID != callerID {
		return nil, common.ErrOwnershipViolation
	}
	return profile, nil
}

// ListByUser returns all profiles of the calling user.
func (s *ProfileService) ListByUser(ctx context.Context, userID string) ([]*models.Profile, error) {
	return s.repos.Profiles(s.db).ListByUser(ctx, userID)
}
