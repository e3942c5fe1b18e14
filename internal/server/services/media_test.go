package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vibeapp/mediavault/internal/common"
	"github.com/vibeapp/mediavault/internal/identity"
	sc "github.com/vibeapp/mediavault/internal/server/config"
	"github.com/vibeapp/mediavault/internal/server/models"
	"github.com/vibeapp/mediavault/internal/server/pipeline"
	"github.com/vibeapp/mediavault/internal/server/repositories/repomanager"
	"github.com/vibeapp/mediavault/internal/server/storage"
	_ "modernc.org/sqlite"
)

type fakeStore struct {
	mu       sync.Mutex
	issued   []string
	deleted  []string
	issueErr error
}

func (f *fakeStore) IssueUploadCredential(ctx context.Context, key, contentType string, minSize, maxSize int64, ttl time.Duration) (*storage.UploadCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	f.issued = append(f.issued, key)
	return &storage.UploadCredential{
		URL:       "http://localhost:9000/media",
		Method:    "POST",
		Fields:    map[string]string{"key": key, "Content-Type": contentType},
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (f *fakeStore) DeleteObject(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeEmitter struct {
	mu      sync.Mutex
	events  []*pipeline.UploadedEvent
	emitErr error
}

func (f *fakeEmitter) EmitUploaded(ctx context.Context, event *pipeline.UploadedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.events = append(f.events, event)
	return nil
}

type mediaFixture struct {
	svc     *MediaService
	repos   *repomanager.MemoryRepositoryManager
	store   *fakeStore
	emitter *fakeEmitter
	cfg     *sc.Config
	profile *models.Profile
}

// txShellDB opens an in-memory database used only as a transaction shell;
// the in-memory repositories ignore the DBTX they are handed.
func txShellDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("sqlite open error: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newMediaFixture(t *testing.T) *mediaFixture {
	t.Helper()
	cfg := &sc.Config{}
	cfg.LoadDefaults()

	repos := repomanager.NewMemoryRepositoryManager()
	store := &fakeStore{}
	emitter := &fakeEmitter{}
	db := txShellDB(t)

	hasher := identity.NewHasher(identity.StaticProvider{NS: testNamespace})
	profiles := NewProfileService(nil, repos, hasher, cfg, testLogger())
	p, err := profiles.Create(context.Background(), "user1")
	if err != nil {
		t.Fatalf("profile create error: %v", err)
	}

	return &mediaFixture{
		svc:     NewMediaService(db, repos, store, emitter, cfg, testLogger()),
		repos:   repos,
		store:   store,
		emitter: emitter,
		cfg:     cfg,
		profile: p,
	}
}

func validRequest() *AllocateRequest {
	return &AllocateRequest{MediaType: "jpg", Size: 2048, Width: 800, Height: 600}
}

func TestAllocate_Validation(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *AllocateRequest
	}{
		{"bad_type", &AllocateRequest{MediaType: "gif", Size: 2048}},
		{"too_small", &AllocateRequest{MediaType: "jpg", Size: 10}},
		{"too_big", &AllocateRequest{MediaType: "jpg", Size: f.cfg.MaxFileSize + 1}},
		{"negative_dims", &AllocateRequest{MediaType: "jpg", Size: 2048, Width: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Allocate(ctx, "user1", f.profile.ID, tt.req)
			if !errors.Is(err, common.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got: %v", err)
			}
		})
	}
}

func TestAllocate_FirstFreeSlot(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	a, err := f.svc.Allocate(ctx, "user1", f.profile.ID, validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.MediaID != f.profile.AllocatedMediaIDs[0] {
		t.Fatalf("expected first pool id %s, got %s", f.profile.AllocatedMediaIDs[0], a.MediaID)
	}
	if a.Method != "POST" || a.UploadURL == "" {
		t.Fatalf("unexpected allocation: %+v", a)
	}
	wantKey := fmt.Sprintf("uploads/%s/%s.jpg", f.profile.ID, a.MediaID)
	if a.Fields["key"] != wantKey {
		t.Fatalf("expected storage key %s, got %s", wantKey, a.Fields["key"])
	}

	// The slot is no longer free; the next allocation takes the next one.
	b, err := f.svc.Allocate(ctx, "user1", f.profile.ID, validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.MediaID != f.profile.AllocatedMediaIDs[1] {
		t.Fatalf("expected second pool id, got %s", b.MediaID)
	}
}

func TestAllocate_OwnershipAndMissingProfile(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	_, err := f.svc.Allocate(ctx, "intruder", f.profile.ID, validRequest())
	if !errors.Is(err, common.ErrOwnershipViolation) {
		t.Fatalf("expected ErrOwnershipViolation, got: %v", err)
	}
	_, err = f.svc.Allocate(ctx, "user1", "missing", validRequest())
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestAllocate_PoolExhausted(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	for i := 0; i < f.cfg.MaxMediaPerProfile; i++ {
		if _, err := f.svc.Allocate(ctx, "user1", f.profile.ID, validRequest()); err != nil {
			t.Fatalf("allocate %d: unexpected error: %v", i, err)
		}
	}
	_, err := f.svc.Allocate(ctx, "user1", f.profile.ID, validRequest())
	if !errors.Is(err, common.ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got: %v", err)
	}
}

func TestAllocate_ReclaimsExpiredSlot(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	// Every credential is already expired when issued, so each occupied
	// slot is immediately reclaimable and allocation keeps reusing slot 0.
	f.cfg.UploadExpiry = -time.Minute

	a, err := f.svc.Allocate(ctx, "user1", f.profile.ID, validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := f.svc.Allocate(ctx, "user1", f.profile.ID, validRequest())
	if err != nil {
		t.Fatalf("expected expired slot to be reclaimed: %v", err)
	}
	if a.MediaID != b.MediaID {
		t.Fatalf("expected slot reuse, got %s then %s", a.MediaID, b.MediaID)
	}
}

func TestAllocate_PresignFailureReleasesSlot(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	f.store.issueErr = fmt.Errorf("%w: down", common.ErrStorageUnavailable)
	_, err := f.svc.Allocate(ctx, "user1", f.profile.ID, validRequest())
	if !errors.Is(err, common.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got: %v", err)
	}

	f.store.issueErr = nil
	a, err := f.svc.Allocate(ctx, "user1", f.profile.ID, validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.MediaID != f.profile.AllocatedMediaIDs[0] {
		t.Fatalf("expected released slot %s, got %s", f.profile.AllocatedMediaIDs[0], a.MediaID)
	}
}

func TestConcurrentAllocate_NoSharedSlots(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	const callers = 20
	var wg sync.WaitGroup
	results := make(chan *Allocation, callers)
	failures := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := f.svc.Allocate(ctx, "user1", f.profile.ID, validRequest())
			if err != nil {
				failures <- err
				return
			}
			results <- a
		}()
	}
	wg.Wait()
	close(results)
	close(failures)

	seen := make(map[string]struct{})
	for a := range results {
		if _, dup := seen[a.MediaID]; dup {
			t.Fatalf("media id %s allocated twice", a.MediaID)
		}
		seen[a.MediaID] = struct{}{}
	}
	if len(seen) != f.cfg.MaxMediaPerProfile {
		t.Fatalf("expected %d winners, got %d", f.cfg.MaxMediaPerProfile, len(seen))
	}
	for err := range failures {
		if !errors.Is(err, common.ErrPoolExhausted) {
			t.Fatalf("loser got unexpected error: %v", err)
		}
	}
}

func TestComplete_SuccessEmitsHandoff(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	a, err := f.svc.Allocate(ctx, "user1", f.profile.ID, validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := f.svc.Complete(ctx, "user1", f.profile.ID, a.MediaID, &CompleteRequest{
		UploadSuccess: true, ETag: "etag1", ActualSize: 2000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != models.StatusProcessing {
		t.Fatalf("expected processing, got %s", res.Status)
	}
	if res.EstimatedProcessingTime != estimatedProcessingSeconds {
		t.Fatalf("unexpected estimate: %d", res.EstimatedProcessingTime)
	}

	if len(f.emitter.events) != 1 {
		t.Fatalf("expected one handoff event, got %d", len(f.emitter.events))
	}
	ev := f.emitter.events[0]
	if ev.MediaID != a.MediaID || ev.EventID == "" || ev.MediaType != "jpg" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestComplete_UploadFailure(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	a, _ := f.svc.Allocate(ctx, "user1", f.profile.ID, validRequest())
	res, err := f.svc.Complete(ctx, "user1", f.profile.ID, a.MediaID, &CompleteRequest{UploadSuccess: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != models.StatusError {
		t.Fatalf("expected error status, got %s", res.Status)
	}
	if len(f.emitter.events) != 0 {
		t.Fatal("failed upload must not be handed to the pipeline")
	}
}

func TestComplete_RejectsUnverifiableUpload(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *CompleteRequest
	}{
		{"missing_etag", &CompleteRequest{UploadSuccess: true, ActualSize: 2000}},
		{"too_small", &CompleteRequest{UploadSuccess: true, ETag: "e", ActualSize: 10}},
		{"too_big", &CompleteRequest{UploadSuccess: true, ETag: "e", ActualSize: f.cfg.MaxFileSize + 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := f.svc.Allocate(ctx, "user1", f.profile.ID, validRequest())
			if err != nil {
				t.Fatalf("allocate error: %v", err)
			}
			_, err = f.svc.Complete(ctx, "user1", f.profile.ID, a.MediaID, tt.req)
			if !errors.Is(err, common.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got: %v", err)
			}
			list, _ := f.svc.List(ctx, "user1", f.profile.ID)
			for _, rec := range list.Media {
				if rec.MediaID == a.MediaID && rec.Status != models.StatusError {
					t.Fatalf("expected error status, got %s", rec.Status)
				}
			}
		})
	}
}

func TestComplete_Conflicts(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	a, _ := f.svc.Allocate(ctx, "user1", f.profile.ID, validRequest())
	if _, err := f.svc.Complete(ctx, "user1", f.profile.ID, a.MediaID, &CompleteRequest{UploadSuccess: true, ETag: "e", ActualSize: 2000}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Second completion finds the record in processing.
	_, err := f.svc.Complete(ctx, "user1", f.profile.ID, a.MediaID, &CompleteRequest{UploadSuccess: true, ETag: "e", ActualSize: 2000})
	if !errors.Is(err, common.ErrConflict) {
		t.Fatalf("expected ErrConflict, got: %v", err)
	}

	_, err = f.svc.Complete(ctx, "user1", f.profile.ID, "unknown", &CompleteRequest{UploadSuccess: true})
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestComplete_EmitterFailureDoesNotFail(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	f.emitter.emitErr = errors.New("queue unreachable")
	a, _ := f.svc.Allocate(ctx, "user1", f.profile.ID, validRequest())
	res, err := f.svc.Complete(ctx, "user1", f.profile.ID, a.MediaID, &CompleteRequest{UploadSuccess: true, ETag: "e", ActualSize: 2000})
	if err != nil {
		t.Fatalf("completion must survive an emit failure: %v", err)
	}
	if res.Status != models.StatusProcessing {
		t.Fatalf("expected processing, got %s", res.Status)
	}
}

func uploadAndProcess(t *testing.T, f *mediaFixture) string {
	t.Helper()
	ctx := context.Background()
	a, err := f.svc.Allocate(ctx, "user1", f.profile.ID, validRequest())
	if err != nil {
		t.Fatalf("allocate error: %v", err)
	}
	if _, err := f.svc.Complete(ctx, "user1", f.profile.ID, a.MediaID, &CompleteRequest{UploadSuccess: true, ETag: "e", ActualSize: 2000}); err != nil {
		t.Fatalf("complete error: %v", err)
	}
	if err := f.svc.HandleProcessed(ctx, &pipeline.ProcessedEvent{
		ProfileID: f.profile.ID, MediaID: a.MediaID, Success: true, Width: 800, Height: 600,
	}); err != nil {
		t.Fatalf("handle processed error: %v", err)
	}
	return a.MediaID
}

func TestHandleProcessed_SuccessActivates(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	mediaID := uploadAndProcess(t, f)

	list, err := f.svc.List(ctx, "user1", f.profile.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list.ActiveMediaIDs) != 1 || list.ActiveMediaIDs[0] != mediaID {
		t.Fatalf("expected active [%s], got %v", mediaID, list.ActiveMediaIDs)
	}
	if len(list.Media) != 1 || list.Media[0].Status != models.StatusReady {
		t.Fatalf("unexpected media list: %+v", list.Media)
	}
	if list.Media[0].ActualWidth != 800 || list.Media[0].ActualHeight != 600 {
		t.Fatalf("expected pipeline dimensions, got %+v", list.Media[0])
	}
}

func TestHandleProcessed_DuplicateDelivery(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	mediaID := uploadAndProcess(t, f)

	// Redelivered verdicts are absorbed without duplicating activation.
	err := f.svc.HandleProcessed(ctx, &pipeline.ProcessedEvent{
		ProfileID: f.profile.ID, MediaID: mediaID, Success: true, Width: 800, Height: 600,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	list, _ := f.svc.List(ctx, "user1", f.profile.ID)
	if len(list.ActiveMediaIDs) != 1 {
		t.Fatalf("expected single activation, got %v", list.ActiveMediaIDs)
	}
}

func TestHandleProcessed_Failure(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	a, _ := f.svc.Allocate(ctx, "user1", f.profile.ID, validRequest())
	f.svc.Complete(ctx, "user1", f.profile.ID, a.MediaID, &CompleteRequest{UploadSuccess: true, ETag: "e", ActualSize: 2000})

	err := f.svc.HandleProcessed(ctx, &pipeline.ProcessedEvent{
		ProfileID: f.profile.ID, MediaID: a.MediaID, Success: false, Error: "decode failed",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list, _ := f.svc.List(ctx, "user1", f.profile.ID)
	if len(list.ActiveMediaIDs) != 0 {
		t.Fatalf("failed media must not activate, got %v", list.ActiveMediaIDs)
	}
	if list.Media[0].Status != models.StatusError || list.Media[0].ErrorMsg != "decode failed" {
		t.Fatalf("unexpected record: %+v", list.Media[0])
	}

	// A verdict for a settled record is a conflict.
	err = f.svc.HandleProcessed(ctx, &pipeline.ProcessedEvent{
		ProfileID: f.profile.ID, MediaID: a.MediaID, Success: false, Error: "again",
	})
	if !errors.Is(err, common.ErrConflict) {
		t.Fatalf("expected ErrConflict, got: %v", err)
	}
}

func TestReorder(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	first := uploadAndProcess(t, f)
	second := uploadAndProcess(t, f)

	got, err := f.svc.Reorder(ctx, "user1", f.profile.ID, []string{second, first})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0] != second || got[1] != first {
		t.Fatalf("unexpected order: %v", got)
	}

	list, _ := f.svc.List(ctx, "user1", f.profile.ID)
	if list.ActiveMediaIDs[0] != second {
		t.Fatalf("order not persisted: %v", list.ActiveMediaIDs)
	}
}

func TestReorder_RejectsNonPermutation(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	first := uploadAndProcess(t, f)

	tests := []struct {
		name  string
		order []string
	}{
		{"missing_id", []string{}},
		{"unknown_id", []string{"bogus"}},
		{"duplicate", []string{first, first}},
		{"extra", []string{first, "bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Reorder(ctx, "user1", f.profile.ID, tt.order)
			if !errors.Is(err, common.ErrInvalidOrder) {
				t.Fatalf("expected ErrInvalidOrder, got: %v", err)
			}
		})
	}

	list, _ := f.svc.List(ctx, "user1", f.profile.ID)
	if len(list.ActiveMediaIDs) != 1 || list.ActiveMediaIDs[0] != first {
		t.Fatalf("rejected reorder must not change state: %v", list.ActiveMediaIDs)
	}
}

func TestDelete_FullCycle(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	mediaID := uploadAndProcess(t, f)

	res, err := f.svc.Delete(ctx, "user1", f.profile.ID, mediaID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Deleted {
		t.Fatal("expected deletion")
	}

	list, _ := f.svc.List(ctx, "user1", f.profile.ID)
	if len(list.ActiveMediaIDs) != 0 || len(list.Media) != 0 {
		t.Fatalf("expected empty profile, got %+v", list)
	}
	wantKey := fmt.Sprintf("uploads/%s/%s.jpg", f.profile.ID, mediaID)
	if len(f.store.deleted) != 1 || f.store.deleted[0] != wantKey {
		t.Fatalf("expected object delete for %s, got %v", wantKey, f.store.deleted)
	}

	// Idempotent: a second delete succeeds without doing anything.
	res, err = f.svc.Delete(ctx, "user1", f.profile.ID, mediaID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Deleted {
		t.Fatal("expected no-op delete")
	}

	// The slot is free again and hands out the same id.
	a, err := f.svc.Allocate(ctx, "user1", f.profile.ID, validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.MediaID != mediaID {
		t.Fatalf("expected freed slot %s, got %s", mediaID, a.MediaID)
	}
}

func TestDelete_Guards(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	mediaID := uploadAndProcess(t, f)

	if _, err := f.svc.Delete(ctx, "intruder", f.profile.ID, mediaID); !errors.Is(err, common.ErrOwnershipViolation) {
		t.Fatalf("expected ErrOwnershipViolation, got: %v", err)
	}
	if _, err := f.svc.Delete(ctx, "user1", f.profile.ID, "not-in-pool"); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got: %v", err)
	}
}
