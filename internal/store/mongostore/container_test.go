//go:build integration

package mongostore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func TestStoreAgainstContainer(t *testing.T) {
	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:6")
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.URI = uri
	cfg.ConnectTimeout = 10 * time.Second
	s, err := Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	require.NoError(t, s.EnsureIndexes(ctx))

	exerciseStore(t, s)
}
