// Package http exposes the profile and media lifecycle over a REST surface.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vibeapp/mediavault/internal/server/models"
)

// ProfileAPI is the slice of the profile service the handlers need.
type ProfileAPI interface {
	Create(ctx context.Context, userID string) (*models.Profile, error)
	Get(ctx context.Context, callerID, profileID string) (*models.Profile, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Profile, error)
}

type profileResponse struct {
	ProfileID         string    `json:"profileId"`
	AllocatedMediaIDs []string  `json:"allocatedMediaIds"`
	ActiveMediaIDs    []string  `json:"activeMediaIds"`
	CreatedAt         time.Time `json:"createdAt"`
}

func toProfileResponse(p *models.Profile) profileResponse {
	return profileResponse{
		ProfileID:         p.ID,
		AllocatedMediaIDs: p.AllocatedMediaIDs,
		ActiveMediaIDs:    p.ActiveMediaIDs,
		CreatedAt:         p.CreatedAt,
	}
}

type ProfilesHandler struct {
	profiles ProfileAPI
}

func NewProfilesHandler(profiles ProfileAPI) *ProfilesHandler {
	return &ProfilesHandler{profiles: profiles}
}

func (h *ProfilesHandler) Create(c *gin.Context) {
	p, err := h.profiles.Create(c.Request.Context(), callerID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProfileResponse(p))
}

func (h *ProfilesHandler) List(c *gin.Context) {
	list, err := h.profiles.ListByUser(c.Request.Context(), callerID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := make([]profileResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toProfileResponse(p))
	}
	c.JSON(http.StatusOK, out)
}
