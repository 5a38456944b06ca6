package dataerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "op", "acc-1"))

	err := Wrap(ErrNotAllowed, "update_profile", "acc-1")
	assert.True(t, errors.Is(err, ErrNotAllowed))
	assert.Contains(t, err.Error(), "update_profile")
	assert.Contains(t, err.Error(), "acc-1")

	var opErr *OpError
	assert.True(t, errors.As(err, &opErr))
	assert.Equal(t, "update_profile", opErr.Op)

	assert.Equal(t, "load: not found", Wrap(ErrNotFound, "load", "").Error())
}

func TestExpected(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrFeatureDisabled, true},
		{ErrNotAllowed, true},
		{ErrServerClosingInProgress, true},
		{Wrap(ErrNotFound, "get", "a"), true},
		{ErrCommandResultReceivingFailed, false},
		{fmt.Errorf("%w: disk full", ErrDatabase), false},
		{errors.New("boom"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Expected(tt.err), "%v", tt.err)
	}
}
