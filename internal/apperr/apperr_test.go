package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	cases := map[string]int{
		CodeValidation: http.StatusBadRequest,
		CodeNotReady:   http.StatusBadRequest,
		CodeNotFound:   http.StatusNotFound,
		CodeInternal:   http.StatusInternalServerError,
		"SOMETHING":    http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, New(code, "x").HTTPStatus(), code)
	}
}

func TestWrapKeepsSentinelIdentity(t *testing.T) {
	sentinel := New(CodeInternal, "Upload failed")
	cause := errors.New("disk full")

	err := fmt.Errorf("ingest: %w", sentinel.Wrap(cause))

	require.ErrorIs(t, err, sentinel)
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")

	appErr, ok := From(err)
	require.True(t, ok)
	assert.Equal(t, "Upload failed", appErr.Message)
	assert.Equal(t, http.StatusInternalServerError, appErr.HTTPStatus())
}

func TestFromPlainError(t *testing.T) {
	_, ok := From(errors.New("plain"))
	assert.False(t, ok)
}

func TestDistinctSentinelsDoNotMatch(t *testing.T) {
	a := New(CodeNotFound, "Task not found")
	b := New(CodeNotFound, "No files found")
	assert.False(t, errors.Is(a.Wrap(nil), b))
}
