package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vibeapp/mediavault/internal/server/models"
	"github.com/vibeapp/mediavault/internal/server/pipeline"
	"github.com/vibeapp/mediavault/internal/server/services"
)

// MediaAPI is the slice of the media service the handlers need.
type MediaAPI interface {
	Allocate(ctx context.Context, callerID, profileID string, req *services.AllocateRequest) (*services.Allocation, error)
	Complete(ctx context.Context, callerID, profileID, mediaID string, req *services.CompleteRequest) (*services.CompleteResult, error)
	HandleProcessed(ctx context.Context, event *pipeline.ProcessedEvent) error
	Reorder(ctx context.Context, callerID, profileID string, order []string) ([]string, error)
	Delete(ctx context.Context, callerID, profileID, mediaID string) (*services.DeleteResult, error)
	List(ctx context.Context, callerID, profileID string) (*services.MediaList, error)
}

type MediaHandler struct {
	media MediaAPI
}

func NewMediaHandler(media MediaAPI) *MediaHandler {
	return &MediaHandler{media: media}
}

type allocateRequest struct {
	MediaType string `json:"mediaType" binding:"required"`
	Size      int64  `json:"size" binding:"required"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type allocateResponse struct {
	MediaID                 string            `json:"mediaId"`
	UploadURL               string            `json:"uploadUrl"`
	Method                  string            `json:"method"`
	Fields                  map[string]string `json:"fields"`
	ExpiresAt               time.Time         `json:"expiresAt"`
	EstimatedProcessingTime int               `json:"estimatedProcessingTime"`
}

func (h *MediaHandler) Allocate(c *gin.Context) {
	var req allocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	a, err := h.media.Allocate(c.Request.Context(), callerID(c), c.Param("profileId"), &services.AllocateRequest{
		MediaType: req.MediaType,
		Size:      req.Size,
		Width:     req.Width,
		Height:    req.Height,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, allocateResponse{
		MediaID:                 a.MediaID,
		UploadURL:               a.UploadURL,
		Method:                  a.Method,
		Fields:                  a.Fields,
		ExpiresAt:               a.ExpiresAt,
		EstimatedProcessingTime: a.EstimatedProcessingTime,
	})
}

type completeRequest struct {
	UploadSuccess *bool  `json:"uploadSuccess" binding:"required"`
	ETag          string `json:"etag"`
	ActualSize    int64  `json:"actualSize"`
}

type completeResponse struct {
	MediaID                 string             `json:"mediaId"`
	Status                  models.MediaStatus `json:"status"`
	EstimatedProcessingTime int                `json:"estimatedProcessingTime,omitempty"`
}

func (h *MediaHandler) Complete(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	res, err := h.media.Complete(c.Request.Context(), callerID(c), c.Param("profileId"), c.Param("mediaId"), &services.CompleteRequest{
		UploadSuccess: *req.UploadSuccess,
		ETag:          req.ETag,
		ActualSize:    req.ActualSize,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, completeResponse{
		MediaID:                 res.MediaID,
		Status:                  res.Status,
		EstimatedProcessingTime: res.EstimatedProcessingTime,
	})
}

type mediaRecordResponse struct {
	MediaID    string             `json:"mediaId"`
	Status     models.MediaStatus `json:"status"`
	MediaType  string             `json:"mediaType"`
	Width      int                `json:"width,omitempty"`
	Height     int                `json:"height,omitempty"`
	Size       int64              `json:"size,omitempty"`
	UploadedAt *time.Time         `json:"uploadedAt,omitempty"`
	Error      string             `json:"error,omitempty"`
}

type mediaListResponse struct {
	ProfileID      string                `json:"profileId"`
	ActiveMediaIDs []string              `json:"activeMediaIds"`
	Media          []mediaRecordResponse `json:"media"`
}

func (h *MediaHandler) List(c *gin.Context) {
	list, err := h.media.List(c.Request.Context(), callerID(c), c.Param("profileId"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	out := mediaListResponse{
		ProfileID:      list.ProfileID,
		ActiveMediaIDs: list.ActiveMediaIDs,
		Media:          make([]mediaRecordResponse, 0, len(list.Media)),
	}
	for _, rec := range list.Media {
		out.Media = append(out.Media, mediaRecordResponse{
			MediaID:    rec.MediaID,
			Status:     rec.Status,
			MediaType:  rec.MediaType,
			Width:      rec.ActualWidth,
			Height:     rec.ActualHeight,
			Size:       rec.ActualSize,
			UploadedAt: rec.UploadedAt,
			Error:      rec.ErrorMsg,
		})
	}
	c.JSON(http.StatusOK, out)
}

type reorderRequest struct {
	ImageOrder []string `json:"imageOrder" binding:"required"`
}

type reorderResponse struct {
	ProfileID      string   `json:"profileId"`
	ActiveMediaIDs []string `json:"activeMediaIds"`
}

func (h *MediaHandler) Reorder(c *gin.Context) {
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	order, err := h.media.Reorder(c.Request.Context(), callerID(c), c.Param("profileId"), req.ImageOrder)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, reorderResponse{
		ProfileID:      c.Param("profileId"),
		ActiveMediaIDs: order,
	})
}

type deleteResponse struct {
	MediaID   string    `json:"mediaId"`
	Deleted   bool      `json:"deleted"`
	DeletedAt time.Time `json:"deletedAt"`
}

func (h *MediaHandler) Delete(c *gin.Context) {
	res, err := h.media.Delete(c.Request.Context(), callerID(c), c.Param("profileId"), c.Param("mediaId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, deleteResponse{
		MediaID:   c.Param("mediaId"),
		Deleted:   res.Deleted,
		DeletedAt: res.DeletedAt,
	})
}

// PipelineResult is the internal callback the processing pipeline posts its
// verdict to.
func (h *MediaHandler) PipelineResult(c *gin.Context) {
	var event pipeline.ProcessedEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if event.ProfileID == "" || event.MediaID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "profileId and mediaId are required"})
		return
	}

	if err := h.media.HandleProcessed(c.Request.Context(), &event); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "applied"})
}
