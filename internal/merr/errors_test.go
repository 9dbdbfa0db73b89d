package merr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapAndIs(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(Storage, "failed to commit turn", cause)

	require.True(t, Is(err, Storage))
	require.False(t, Is(err, ModelMissing))
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "disk full")
}

func TestNewHasNoCause(t *testing.T) {
	err := New(NotReady, "store not opened")
	require.Nil(t, err.Unwrap())
	require.True(t, Is(err, NotReady))
}
