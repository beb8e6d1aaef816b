package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("join: %w", Conflict("participant %s already joined", "u1"))

	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, "conflict", Code(err))
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
	assert.Equal(t, "participant u1 already joined", Message(err))
}

func TestPlatformKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Platform(cause, "create room")

	assert.ErrorIs(t, err, ErrPlatform)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(err))
	assert.Equal(t, "create room: dial tcp: timeout", Message(err))
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{Validation("title is required"), http.StatusBadRequest, "validation_error"},
		{NotFound("session not found"), http.StatusNotFound, "not_found"},
		{InvalidState("session is active"), http.StatusConflict, "invalid_state"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, HTTPStatus(tc.err), tc.err.Error())
		assert.Equal(t, tc.code, Code(tc.err), tc.err.Error())
	}
	assert.Equal(t, "internal error", Message(errors.New("pq: relation missing")))
}
