package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pairchat/backend/internal/models"
)

type matchRequest struct {
	Interests []string `json:"interests"`
	Language  string   `json:"language"`
	AgeGroup  string   `json:"age_group"`
	Mood      *string  `json:"mood"`
}

// PostMatch runs one match attempt. Clients poll by repeating the call.
func (h *Handler) PostMatch(c *gin.Context) {
	var body matchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.renderError(c, badRequest("invalid request body"))
		return
	}

	outcome, err := h.Matcher.AttemptMatch(c.Request.Context(), models.MatchRequest{
		UserID:    currentUser(c),
		Interests: body.Interests,
		Language:  body.Language,
		AgeGroup:  body.AgeGroup,
		Mood:      body.Mood,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *Handler) GetMatch(c *gin.Context) {
	outcome, err := h.Matcher.MatchStatus(c.Request.Context(), currentUser(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *Handler) DeleteMatch(c *gin.Context) {
	cancelled, err := h.Matcher.CancelMatch(c.Request.Context(), currentUser(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}
