package postgres

import (
	"context"
	"os"
	"testing"

	pgdb "github.com/crabzie/factory-runtime/config/storage/postgresql"
	"github.com/crabzie/factory-runtime/internal/adapter/storage/storetest"
	"github.com/crabzie/factory-runtime/internal/core/port"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// Runs against a disposable database named by FACTORY_TEST_PG_URL
func TestResourceRepository(t *testing.T) {
	url := os.Getenv("FACTORY_TEST_PG_URL")
	if url == "" {
		t.Skip("FACTORY_TEST_PG_URL not set")
	}

	ctx := context.Background()
	log := zaptest.NewLogger(t)
	db, err := pgdb.Connect(ctx, url, log)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate())

	storetest.Run(t, func(t *testing.T) port.ResourceStore {
		for _, table := range []string{"machines", "processing_times", "materials_usage", "materials_available", "schedule"} {
			_, err := db.Exec(ctx, "TRUNCATE "+table)
			require.NoError(t, err)
		}
		return NewResourceRepository(db.Pool, log)
	})
}
