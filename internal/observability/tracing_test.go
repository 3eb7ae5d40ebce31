package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDefaultEndpoint(t *testing.T) {
	t.Parallel()

	shutdown, err := Setup(context.Background(), Config{
		Environment: "test",
		ServiceName: "test-service",
	}, nil)

	require.NoError(t, err)
	require.NotNil(t, shutdown)

	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupCustomEndpoint(t *testing.T) {
	t.Parallel()

	shutdown, err := Setup(context.Background(), Config{
		Endpoint:    "collector.internal:4318",
		Environment: "staging",
		ServiceName: "leafcheck-staging",
	}, nil)

	require.NoError(t, err)
	require.NotNil(t, shutdown)

	assert.NoError(t, shutdown(context.Background()))
}
