//go:build integration

package database

import (
	"context"
	"testing"

	"github.com/cloo-solutions/creditrust/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateAndConnect(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	version, err := Migrate(pc.ConnectionString(), "../../migrations", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	again, err := Migrate(pc.ConnectionString(), "../../migrations", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, version, again)

	pool, err := NewPool(ctx, Config{URL: pc.ConnectionString(), MaxConns: 4})
	require.NoError(t, err)
	defer pool.Close()

	var exists bool
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'complaint_chunks')`).Scan(&exists))
	assert.True(t, exists)
}

func TestNewPool_EmptyURL(t *testing.T) {
	_, err := NewPool(context.Background(), Config{})
	assert.Error(t, err)
}
