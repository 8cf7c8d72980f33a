package handler

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"pairchat/backend/internal/apperr"
	"pairchat/backend/internal/config"
	"pairchat/backend/internal/relay"
)

type messageRequest struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

func (h *Handler) ListMessages(c *gin.Context) {
	after, err := queryInt(c, "after")
	if err != nil {
		h.renderError(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		h.renderError(c, err)
		return
	}

	msgs, err := h.Relay.ListMessages(c.Request.Context(), c.Param("id"), currentUser(c), uint(after), limit)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) PostMessage(c *gin.Context) {
	var body messageRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.renderError(c, badRequest("invalid request body"))
		return
	}

	msg, err := h.Relay.PostMessage(c.Request.Context(), c.Param("id"), currentUser(c), body.Content, body.Type)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// PostAttachment accepts a multipart upload with fields file, kind and
// duration_ms.
func (h *Handler) PostAttachment(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, config.MaxAttachmentBytes+(1<<20))

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.renderError(c, apperr.New(apperr.TooLong, "attachment is too large"))
			return
		}
		h.renderError(c, badRequest("file is required"))
		return
	}
	if fh.Size > config.MaxAttachmentBytes {
		h.renderError(c, apperr.New(apperr.TooLong, "attachment is too large"))
		return
	}

	f, err := fh.Open()
	if err != nil {
		h.renderError(c, badRequest("unreadable file"))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		h.renderError(c, badRequest("unreadable file"))
		return
	}

	var durationMs int64
	if v := c.PostForm("duration_ms"); v != "" {
		durationMs, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.renderError(c, badRequest("invalid duration_ms"))
			return
		}
	}

	att, msg, err := h.Relay.PostAttachment(c.Request.Context(), c.Param("id"), currentUser(c), relay.AttachmentInput{
		Kind:       c.PostForm("kind"),
		MimeType:   fh.Header.Get("Content-Type"),
		Data:       data,
		DurationMs: durationMs,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"attachment": att, "message": msg})
}

func (h *Handler) ListAttachments(c *gin.Context) {
	list, err := h.Relay.ListAttachments(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attachments": list})
}

// ServeBlob serves stored content by key. Keys are content hashes, so the
// response never changes.
func (h *Handler) ServeBlob(c *gin.Context) {
	if h.Blobs == nil {
		h.renderError(c, apperr.New(apperr.NotFound, "blob not found"))
		return
	}

	key := c.Param("key")
	if len(key) > 0 && key[0] == '/' {
		key = key[1:]
	}
	p, err := h.Blobs.Path(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			h.renderError(c, apperr.New(apperr.NotFound, "blob not found"))
			return
		}
		h.renderError(c, badRequest("invalid blob key"))
		return
	}
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.File(p)
}
