package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classbridge/classbridge-api/internal/dto"
	"github.com/classbridge/classbridge-api/internal/service"
	appErrors "github.com/classbridge/classbridge-api/pkg/errors"
	"github.com/classbridge/classbridge-api/pkg/response"
)

// FeedHandler exposes the aggregated assignment feed.
type FeedHandler struct {
	service *service.FeedService
}

// NewFeedHandler constructs a feed handler.
func NewFeedHandler(svc *service.FeedService) *FeedHandler {
	return &FeedHandler{service: svc}
}

// MyFeed godoc
// @Summary Get the caller's assignment feed
// @Tags Feed
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /me/assignments [get]
func (h *FeedHandler) MyFeed(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	h.respond(c, claims.UserID)
}

// StudentFeed godoc
// @Summary Get a student's assignment feed
// @Tags Feed
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /students/{id}/assignments [get]
func (h *FeedHandler) StudentFeed(c *gin.Context) {
	h.respond(c, c.Param("id"))
}

func (h *FeedHandler) respond(c *gin.Context, studentID string) {
	result, err := h.service.Fetch(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}

	body := dto.FeedResponse{
		StudentID:   result.StudentID,
		Assignments: result.Views,
		GeneratedAt: result.GeneratedAt,
	}
	meta := map[string]interface{}{"degraded": result.Degraded}
	if result.Degraded && result.Reason != "" {
		meta["reason"] = result.Reason
	}
	response.JSON(c, http.StatusOK, body, nil, meta)
}
