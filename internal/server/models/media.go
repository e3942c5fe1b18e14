// Package models defines the server-side data models persisted in the
// database: profiles with their fixed media-slot pools, and the media records
// moving through the upload lifecycle.
package models

import "time"

// MediaStatus is the closed set of media lifecycle states.
type MediaStatus string

const (
	// StatusPending: a slot was claimed and a presigned upload credential
	// issued; the object may or may not have been written yet.
	StatusPending MediaStatus = "pending"
	// StatusProcessing: the client confirmed the upload; the external
	// pipeline owns the object now.
	StatusProcessing MediaStatus = "processing"
	// StatusReady: the pipeline confirmed the media; the id is active.
	StatusReady MediaStatus = "ready"
	// StatusError: validation, upload or pipeline failure. Terminal until
	// explicit deletion.
	StatusError MediaStatus = "error"
)

// transitions is the full state machine. Deletion is not a transition: it
// removes the record entirely, whatever its state.
var transitions = map[MediaStatus][]MediaStatus{
	StatusPending:    {StatusProcessing, StatusError},
	StatusProcessing: {StatusReady, StatusError},
	StatusReady:      {},
	StatusError:      {},
}

// Valid reports whether s is a known status value.
func (s MediaStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether s -> to is a legal lifecycle transition.
func (s MediaStatus) CanTransition(to MediaStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// MediaRecord is one upload attempt bound to a pre-allocated media id.
// There is at most one live record per (ProfileID, MediaID).
type MediaRecord struct {
	MediaID   string
	ProfileID string
	UserID    string

	Status     MediaStatus
	StorageKey string

	// Declared* come from the caller at allocation time and are used for
	// request validation only; Actual* are authoritative, reported by the
	// storage layer and the processing pipeline.
	MediaType      string
	DeclaredSize   int64
	DeclaredWidth  int
	DeclaredHeight int
	ActualSize     int64
	ActualWidth    int
	ActualHeight   int

	StorageETag  string
	DisplayOrder int
	ErrorMsg     string

	// ExpiresAt bounds the pending state; an expired pending record is an
	// abandoned upload and its slot may be reclaimed.
	ExpiresAt  time.Time
	UploadedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UploadExpired reports whether a pending record's upload credential has
// lapsed at the given instant.
func (r *MediaRecord) UploadExpired(now time.Time) bool {
	return r.Status == StatusPending && now.After(r.ExpiresAt)
}
