package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeExtraction(t *testing.T) {
	t.Run("direct domain error", func(t *testing.T) {
		err := New(CodeNotFound, "signal not found")
		assert.Equal(t, CodeNotFound, CodeOf(err))
		assert.True(t, HasCode(err, CodeNotFound))
		assert.False(t, HasCode(err, CodeConflict))
	})

	t.Run("wrapped domain error survives fmt wrapping", func(t *testing.T) {
		inner := New(CodeConflict, "duplicate vote")
		outer := fmt.Errorf("cast vote: %w", inner)
		assert.Equal(t, CodeConflict, CodeOf(outer))
		assert.True(t, HasCode(outer, CodeConflict))
	})

	t.Run("plain error defaults to internal", func(t *testing.T) {
		err := errors.New("connection refused")
		assert.Equal(t, CodeInternal, CodeOf(err))
		assert.False(t, HasCode(err, CodeInternal), "plain errors carry no code")
	})
}

func TestMessageOf(t *testing.T) {
	assert.Equal(t, "signal not found", MessageOf(New(CodeNotFound, "signal not found")))
	assert.Equal(t, "internal error", MessageOf(New(CodeInternal, "pq: relation missing")))
	assert.Equal(t, "internal error", MessageOf(errors.New("raw failure")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(cause, CodeInternal, "save signal")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "save signal")
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeNotFound:   http.StatusNotFound,
		CodeConflict:   http.StatusConflict,
		CodeBadRequest: http.StatusBadRequest,
		CodeForbidden:  http.StatusForbidden,
		CodeTooMany:    http.StatusTooManyRequests,
		CodeTimeout:    http.StatusGatewayTimeout,
		CodeInternal:   http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), string(code))
	}
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(Code("made_up")))
}
