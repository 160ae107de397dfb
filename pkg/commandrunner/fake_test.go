package commandrunner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeRecordsCalls(t *testing.T) {
	f := NewFake()

	_, err := f.Run(context.Background(), "10.0.0.1", []string{"setup.sh"})
	require.NoError(t, err)

	require.Len(t, f.Calls, 1)
	assert.Equal(t, "10.0.0.1", f.Calls[0].NodeIP)
}

func TestFakeFailOnlyAffectsNextCall(t *testing.T) {
	f := NewFake()
	f.Fail("10.0.0.1", errors.New("boom"))

	_, err := f.Run(context.Background(), "10.0.0.1", []string{"setup.sh"})
	assert.Error(t, err)

	_, err = f.Run(context.Background(), "10.0.0.1", []string{"setup.sh"})
	assert.NoError(t, err)
}
