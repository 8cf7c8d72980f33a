package apperr_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"pairchat/backend/internal/apperr"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(apperr.New(apperr.Forbidden, "nope")))
	assert.Equal(t, apperr.Internal, apperr.KindOf(errors.New("boom")))
	assert.Equal(t, apperr.Kind(""), apperr.KindOf(nil))

	wrapped := fmt.Errorf("outer: %w", apperr.New(apperr.SessionClosed, "closed"))
	assert.Equal(t, apperr.SessionClosed, apperr.KindOf(wrapped))
}

func TestSentinelMatching(t *testing.T) {
	err := apperr.New(apperr.NotFound, "session not found")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NotErrorIs(t, err, apperr.ErrForbidden)
}

func TestFromStorage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"not found", gorm.ErrRecordNotFound, apperr.NotFound},
		{"duplicate", gorm.ErrDuplicatedKey, apperr.Conflict},
		{"deadline", context.DeadlineExceeded, apperr.Transient},
		{"canceled", context.Canceled, apperr.Transient},
		{"other", errors.New("connection reset"), apperr.Transient},
		{"already typed", apperr.New(apperr.Forbidden, "x"), apperr.Forbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.KindOf(apperr.FromStorage(tt.err, "storage failure")))
		})
	}
	assert.NoError(t, apperr.FromStorage(nil, "x"))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, apperr.HTTPStatus(apperr.Validation))
	assert.Equal(t, http.StatusForbidden, apperr.HTTPStatus(apperr.Forbidden))
	assert.Equal(t, http.StatusConflict, apperr.HTTPStatus(apperr.SessionClosed))
	assert.Equal(t, http.StatusTooManyRequests, apperr.HTTPStatus(apperr.RateLimited))
	assert.Equal(t, http.StatusServiceUnavailable, apperr.HTTPStatus(apperr.Transient))
	assert.Equal(t, http.StatusInternalServerError, apperr.HTTPStatus(apperr.Internal))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "matching failed", apperr.Message(apperr.Wrap(apperr.Transient, "matching failed", errors.New("db down"))))
	assert.Equal(t, "internal error", apperr.Message(errors.New("raw")))
}
