// Package pipeline hands uploaded media off to the external processing
// pipeline and defines the result event it reports back.
package pipeline

import "context"

// UploadedEvent notifies the processing pipeline that an object was written
// and confirmed by the client.
type UploadedEvent struct {
	EventID    string `json:"eventId"`
	ProfileID  string `json:"profileId"`
	MediaID    string `json:"mediaId"`
	StorageKey string `json:"storageKey"`
	MediaType  string `json:"mediaType"`
}

// ProcessedEvent is the pipeline's verdict on one uploaded object, delivered
// on the internal result callback.
type ProcessedEvent struct {
	ProfileID string `json:"profileId"`
	MediaID   string `json:"mediaId"`
	Success   bool   `json:"success"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Emitter publishes handoff events. Publishing is fire-and-forget from the
// caller's point of view; a lost event surfaces as media stuck in processing.
type Emitter interface {
	EmitUploaded(ctx context.Context, event *UploadedEvent) error
}
