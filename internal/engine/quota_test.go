package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFireQuota_WithinLimit(t *testing.T) {
	q := newFireQuota(10)
	for i := 0; i < 10; i++ {
		assert.NoError(t, q.Check("s-1"), "fire %d should be allowed", i+1)
	}
}

func TestFireQuota_ExceedsLimit(t *testing.T) {
	q := newFireQuota(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Check("s-1"))
	}

	err := q.Check("s-1")
	require.Error(t, err)

	var fe *FiresExceededError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "s-1", fe.SessionID)
	assert.Equal(t, 4, fe.Fires)
	assert.Equal(t, 3, fe.Limit)
	assert.Contains(t, err.Error(), "4 fires > 3 limit")
}

func TestFireQuota_Disabled(t *testing.T) {
	q := newFireQuota(0)
	for i := 0; i < 10_000; i++ {
		require.NoError(t, q.Check("s-1"))
	}
}

func TestIsFiresExceededError(t *testing.T) {
	err := &FiresExceededError{SessionID: "s-1", Fires: 2, Limit: 1}

	assert.True(t, IsFiresExceededError(err))
	assert.True(t, IsFiresExceededError(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsFiresExceededError(fmt.Errorf("other")))
	assert.False(t, IsFiresExceededError(nil))
}
