package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("append: %w", Forbidden("users have blocked each other"))

	assert.Equal(t, KindForbidden, KindOf(err))
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "users have blocked each other", MessageOf(err))
}

func TestTransientKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Transient("insert message", cause)

	assert.Equal(t, KindTransient, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "insert message: connection reset", err.Error())
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, "internal error", MessageOf(errors.New("boom")))
}
