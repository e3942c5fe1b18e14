package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/vibeapp/mediavault/internal/common"
	"github.com/vibeapp/mediavault/internal/dbx"
	"github.com/vibeapp/mediavault/internal/logging"
	sc "github.com/vibeapp/mediavault/internal/server/config"
	"github.com/vibeapp/mediavault/internal/server/models"
	"github.com/vibeapp/mediavault/internal/server/pipeline"
	"github.com/vibeapp/mediavault/internal/server/repositories/repomanager"
	"github.com/vibeapp/mediavault/internal/server/storage"
)

// estimatedProcessingSeconds is what we tell clients to expect between a
// confirmed upload and the pipeline verdict.
const estimatedProcessingSeconds = 30

// casAttempts bounds the optimistic retries on the active id list.
const casAttempts = 3

var timeNow = time.Now

// AllocateRequest carries the caller-declared properties of the upcoming
// upload. They gate validation; the authoritative values come from storage
// and the pipeline later.
type AllocateRequest struct {
	MediaType string
	Size      int64
	Width     int
	Height    int
}

// Allocation is a claimed slot plus the credential to fill it.
type Allocation struct {
	MediaID                 string
	UploadURL               string
	Method                  string
	Fields                  map[string]string
	ExpiresAt               time.Time
	EstimatedProcessingTime int
}

// CompleteRequest is the client's report on the upload attempt.
type CompleteRequest struct {
	UploadSuccess bool
	ETag          string
	ActualSize    int64
}

// CompleteResult reports the record state after completion.
type CompleteResult struct {
	MediaID                 string
	Status                  models.MediaStatus
	EstimatedProcessingTime int
}

// DeleteResult reports whether a record was actually removed. Deleting an
// absent id succeeds with Deleted=false, making delete idempotent.
type DeleteResult struct {
	Deleted   bool
	DeletedAt time.Time
}

// MediaList is a profile's media state as returned to clients.
type MediaList struct {
	ProfileID      string
	ActiveMediaIDs []string
	Media          []*models.MediaRecord
}

// MediaService drives the media slot lifecycle: allocation, upload
// completion, pipeline results, ordering and deletion.
type MediaService struct {
	db      *sql.DB
	repos   repomanager.RepositoryManager
	store   storage.ObjectStore
	emitter pipeline.Emitter
	config  *sc.Config
	logger  logging.Logger
}

func NewMediaService(db *sql.DB, repos repomanager.RepositoryManager, store storage.ObjectStore, emitter pipeline.Emitter, config *sc.Config, logger logging.Logger) *MediaService {
	return &MediaService{
		db:      db,
		repos:   repos,
		store:   store,
		emitter: emitter,
		config:  config,
		logger:  logger.With("module", "media"),
	}
}

var contentTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
}

func (s *MediaService) validateAllocate(req *AllocateRequest) error {
	mediaType := strings.ToLower(req.MediaType)
	if !slices.Contains(s.config.AllowedFormats, mediaType) {
		return fmt.Errorf("%w: unsupported media type %q", common.ErrInvalidInput, req.MediaType)
	}
	if req.Size < s.config.MinFileSize || req.Size > s.config.MaxFileSize {
		return fmt.Errorf("%w: size %d outside [%d, %d]", common.ErrInvalidInput, req.Size, s.config.MinFileSize, s.config.MaxFileSize)
	}
	if req.Width < 0 || req.Height < 0 {
		return fmt.Errorf("%w: negative dimensions", common.ErrInvalidInput)
	}
	return nil
}

func (s *MediaService) ownedProfile(ctx context.Context, callerID, profileID string) (*models.Profile, error) {
	profile, err := s.repos.Profiles(s.db).Get(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if profile.UserID != callerID {
		return nil, common.ErrOwnershipViolation
	}
	return profile, nil
}

func storageKey(profileID, mediaID, mediaType string) string {
	return fmt.Sprintf("uploads/%s/%s.%s", profileID, mediaID, strings.ToLower(mediaType))
}

// Allocate claims the first free slot of the profile's fixed pool and issues
// an upload credential for it. A slot is free when it has no live record;
// a pending record whose upload window lapsed counts as free and is
// reclaimed in place. The insert's uniqueness constraint decides races, so
// two concurrent allocations never share a slot.
func (s *MediaService) Allocate(ctx context.Context, callerID, profileID string, req *AllocateRequest) (*Allocation, error) {
	if err := s.validateAllocate(req); err != nil {
		return nil, err
	}
	profile, err := s.ownedProfile(ctx, callerID, profileID)
	if err != nil {
		return nil, err
	}

	mediaType := strings.ToLower(req.MediaType)
	repo := s.repos.Media(s.db)
	now := timeNow()

	for idx, mediaID := range profile.AllocatedMediaIDs {
		rec := &models.MediaRecord{
			MediaID:        mediaID,
			ProfileID:      profileID,
			UserID:         callerID,
			StorageKey:     storageKey(profileID, mediaID, mediaType),
			MediaType:      mediaType,
			DeclaredSize:   req.Size,
			DeclaredWidth:  req.Width,
			DeclaredHeight: req.Height,
			DisplayOrder:   idx,
			ExpiresAt:      now.Add(s.config.UploadExpiry),
		}

		ok, err := repo.TryInsertPending(ctx, rec)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Slot occupied. An abandoned pending upload can be reclaimed.
			removed, err := repo.DeleteExpiredPending(ctx, profileID, mediaID, now)
			if err != nil {
				return nil, err
			}
			if !removed {
				continue
			}
			ok, err = repo.TryInsertPending(ctx, rec)
			if err != nil {
				return nil, err
			}
			if !ok {
				// Lost the reclaimed slot to a concurrent allocation.
				continue
			}
		}

		cred, err := s.store.IssueUploadCredential(ctx, rec.StorageKey, contentTypes[mediaType],
			s.config.MinFileSize, s.config.MaxFileSize, s.config.UploadExpiry)
		if err != nil {
			// Release the slot so the failed allocation leaves no trace.
			if _, derr := repo.Delete(ctx, profileID, mediaID); derr != nil {
				s.logger.Error(ctx, "failed to release slot after presign error",
					"profile_id", profileID, "media_id", mediaID, "error", derr)
			}
			return nil, err
		}

		s.logger.Info(ctx, "media slot allocated", "profile_id", profileID, "media_id", mediaID)
		return &Allocation{
			MediaID:                 mediaID,
			UploadURL:               cred.URL,
			Method:                  cred.Method,
			Fields:                  cred.Fields,
			ExpiresAt:               cred.ExpiresAt,
			EstimatedProcessingTime: estimatedProcessingSeconds,
		}, nil
	}

	return nil, fmt.Errorf("%w: all %d slots occupied", common.ErrPoolExhausted, len(profile.AllocatedMediaIDs))
}

// Complete records the client's upload verdict. A verified upload moves the
// record to processing and hands the object to the pipeline; a failed or
// unverifiable one moves it to error. Completing a slot that is not pending,
// or whose upload window lapsed, is a conflict.
func (s *MediaService) Complete(ctx context.Context, callerID, profileID, mediaID string, req *CompleteRequest) (*CompleteResult, error) {
	if _, err := s.ownedProfile(ctx, callerID, profileID); err != nil {
		return nil, err
	}
	repo := s.repos.Media(s.db)
	rec, err := repo.Get(ctx, profileID, mediaID)
	if err != nil {
		return nil, err
	}

	if !req.UploadSuccess {
		ok, err := repo.MarkError(ctx, profileID, mediaID, "client reported upload failure")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: media is %s", common.ErrConflict, rec.Status)
		}
		return &CompleteResult{MediaID: mediaID, Status: models.StatusError}, nil
	}

	if req.ETag == "" || req.ActualSize < s.config.MinFileSize || req.ActualSize > s.config.MaxFileSize {
		if _, merr := repo.MarkError(ctx, profileID, mediaID, "upload verification failed"); merr != nil {
			return nil, merr
		}
		return nil, fmt.Errorf("%w: etag and size within [%d, %d] required", common.ErrInvalidInput, s.config.MinFileSize, s.config.MaxFileSize)
	}

	now := timeNow()
	ok, err := repo.MarkProcessing(ctx, profileID, mediaID, req.ActualSize, req.ETag, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		if rec.UploadExpired(now) {
			return nil, fmt.Errorf("%w: upload window expired", common.ErrConflict)
		}
		return nil, fmt.Errorf("%w: media is %s", common.ErrConflict, rec.Status)
	}

	eventID, err := common.MakeRandHexString(16)
	if err == nil {
		err = s.emitter.EmitUploaded(ctx, &pipeline.UploadedEvent{
			EventID:    eventID,
			ProfileID:  profileID,
			MediaID:    mediaID,
			StorageKey: rec.StorageKey,
			MediaType:  rec.MediaType,
		})
	}
	if err != nil {
		// The record stays in processing; pipeline redelivery or a manual
		// requeue picks it up. Completion itself already succeeded.
		s.logger.Error(ctx, "pipeline handoff failed",
			"profile_id", profileID, "media_id", mediaID, "error", err)
	}

	return &CompleteResult{
		MediaID:                 mediaID,
		Status:                  models.StatusProcessing,
		EstimatedProcessingTime: estimatedProcessingSeconds,
	}, nil
}

func casBackoff() retry.Backoff {
	return retry.WithMaxRetries(casAttempts, retry.NewConstant(10*time.Millisecond))
}

// activate appends mediaID to the profile's active list with a bounded
// compare-and-swap loop. Already-active ids are left in place, which makes
// duplicate pipeline deliveries harmless.
func (s *MediaService) activate(ctx context.Context, profileID, mediaID string) error {
	repo := s.repos.Profiles(s.db)
	return retry.Do(ctx, casBackoff(), func(ctx context.Context) error {
		profile, err := repo.Get(ctx, profileID)
		if err != nil {
			return err
		}
		if profile.IsActive(mediaID) {
			return nil
		}
		next := append(slices.Clone(profile.ActiveMediaIDs), mediaID)
		ok, err := repo.CompareAndSwapActive(ctx, profileID, profile.ActiveMediaIDs, next)
		if err != nil {
			return err
		}
		if !ok {
			return retry.RetryableError(fmt.Errorf("%w: active list changed", common.ErrConflict))
		}
		return nil
	})
}

// HandleProcessed applies the pipeline's verdict. Success moves the record
// to ready and activates the id; failure moves it to error. A verdict for a
// record not in processing is a conflict, except a repeat of an already
// applied success, which is accepted silently.
func (s *MediaService) HandleProcessed(ctx context.Context, event *pipeline.ProcessedEvent) error {
	repo := s.repos.Media(s.db)

	if !event.Success {
		ok, err := repo.MarkError(ctx, event.ProfileID, event.MediaID, event.Error)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: media not pending or processing", common.ErrConflict)
		}
		s.logger.Warn(ctx, "pipeline rejected media",
			"profile_id", event.ProfileID, "media_id", event.MediaID, "error", event.Error)
		return nil
	}

	ok, err := repo.MarkReady(ctx, event.ProfileID, event.MediaID, event.Width, event.Height)
	if err != nil {
		return err
	}
	if !ok {
		rec, err := repo.Get(ctx, event.ProfileID, event.MediaID)
		if err != nil {
			return err
		}
		if rec.Status != models.StatusReady {
			return fmt.Errorf("%w: media is %s", common.ErrConflict, rec.Status)
		}
		// Duplicate delivery of an applied verdict; fall through to make
		// sure activation happened.
	}

	if err := s.activate(ctx, event.ProfileID, event.MediaID); err != nil {
		return err
	}
	s.logger.Info(ctx, "media ready",
		"profile_id", event.ProfileID, "media_id", event.MediaID)
	return nil
}

// Reorder replaces the active list with a caller-supplied permutation of
// itself. The new order must contain exactly the currently active ids; on a
// concurrent change the swap is retried against the fresh list, and the
// permutation is re-checked each attempt.
func (s *MediaService) Reorder(ctx context.Context, callerID, profileID string, order []string) ([]string, error) {
	if _, err := s.ownedProfile(ctx, callerID, profileID); err != nil {
		return nil, err
	}

	repo := s.repos.Profiles(s.db)
	err := retry.Do(ctx, casBackoff(), func(ctx context.Context) error {
		profile, err := repo.Get(ctx, profileID)
		if err != nil {
			return err
		}
		if !profile.IsPermutationOfActive(order) {
			return common.ErrInvalidOrder
		}
		if slices.Equal(order, profile.ActiveMediaIDs) {
			return nil
		}
		ok, err := repo.CompareAndSwapActive(ctx, profileID, profile.ActiveMediaIDs, order)
		if err != nil {
			return err
		}
		if !ok {
			return retry.RetryableError(fmt.Errorf("%w: active list changed", common.ErrConflict))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(order), nil
}

// Delete removes a media record and deactivates its id. The data store is
// the source of truth: the record and the active list are settled first, in
// one transaction, and the stored object is deleted best-effort afterwards.
// Deleting an id with no record succeeds with Deleted=false.
func (s *MediaService) Delete(ctx context.Context, callerID, profileID, mediaID string) (*DeleteResult, error) {
	profile, err := s.ownedProfile(ctx, callerID, profileID)
	if err != nil {
		return nil, err
	}
	if !profile.HasAllocated(mediaID) {
		return nil, fmt.Errorf("%w: media id not in profile pool", common.ErrInvalidInput)
	}

	rec, err := s.repos.Media(s.db).Get(ctx, profileID, mediaID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return &DeleteResult{Deleted: false}, nil
		}
		return nil, err
	}

	var removed bool
	err = retry.Do(ctx, casBackoff(), func(ctx context.Context) error {
		return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			profilesRepo := s.repos.Profiles(tx)
			fresh, err := profilesRepo.Get(ctx, profileID)
			if err != nil {
				return err
			}
			if fresh.IsActive(mediaID) {
				next := slices.DeleteFunc(slices.Clone(fresh.ActiveMediaIDs), func(id string) bool {
					return id == mediaID
				})
				ok, err := profilesRepo.CompareAndSwapActive(ctx, profileID, fresh.ActiveMediaIDs, next)
				if err != nil {
					return err
				}
				if !ok {
					return retry.RetryableError(fmt.Errorf("%w: active list changed", common.ErrConflict))
				}
			}
			removed, err = s.repos.Media(tx).Delete(ctx, profileID, mediaID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	if removed {
		if err := s.store.DeleteObject(ctx, rec.StorageKey); err != nil {
			// Orphaned objects are cheaper than a record pointing at
			// nothing; leave cleanup to a storage lifecycle rule.
			s.logger.Error(ctx, "object delete failed",
				"storage_key", rec.StorageKey, "error", err)
		}
		s.logger.Info(ctx, "media deleted", "profile_id", profileID, "media_id", mediaID)
	}

	return &DeleteResult{Deleted: removed, DeletedAt: timeNow()}, nil
}

// List returns the profile's active order and all its media records.
func (s *MediaService) List(ctx context.Context, callerID, profileID string) (*MediaList, error) {
	profile, err := s.ownedProfile(ctx, callerID, profileID)
	if err != nil {
		return nil, err
	}
	records, err := s.repos.Media(s.db).ListByProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	return &MediaList{
		ProfileID:      profileID,
		ActiveMediaIDs: profile.ActiveMediaIDs,
		Media:          records,
	}, nil
}
