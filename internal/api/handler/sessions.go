package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type reportRequest struct {
	Category string `json:"category"`
	Reason   string `json:"reason"`
}

func (h *Handler) GetSession(c *gin.Context) {
	session, err := h.Lifecycle.GetSession(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// EndSession is idempotent; ending an ended session returns it unchanged.
func (h *Handler) EndSession(c *gin.Context) {
	session, err := h.Lifecycle.EndSession(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) ReportSession(c *gin.Context) {
	var body reportRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.renderError(c, badRequest("invalid request body"))
		return
	}

	report, err := h.Lifecycle.ReportSession(c.Request.Context(), c.Param("id"), currentUser(c), body.Category, body.Reason)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, report)
}
