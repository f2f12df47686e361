package consensus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_EmptyEndpointDisablesCrossCheck(t *testing.T) {
	c, err := New(context.Background(), "", 0)
	require.NoError(t, err)
	require.Nil(t, c, "an empty BEACON_API_URL must yield a nil client, not an error")
}
