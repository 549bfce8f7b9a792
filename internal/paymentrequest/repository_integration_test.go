//go:build integration

package paymentrequest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/congo-pay/wallet-engine/internal/infra"
	"github.com/congo-pay/wallet-engine/internal/ledger"
	"github.com/congo-pay/wallet-engine/internal/logging"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("wallet"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, infra.Migrate(dsn, logging.Discard()))

	pool, err := infra.NewPostgresPool(ctx, dsn, infra.PoolOptions{AppName: "wallet-engine-test"})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestIntegration_PostgresRequestRepository(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	led := ledger.NewService(ledger.NewPostgresStore(pool, time.Second))
	for _, id := range []string{"req", "tgt"} {
		_, err := led.OpenAccount(ctx, id)
		require.NoError(t, err)
	}
	repo := NewPostgresRepository(pool)

	now := time.Now().UTC().Truncate(time.Microsecond)
	req := Request{
		ID: uuid.NewString(), RequesterID: "req", TargetID: "tgt", Amount: 400,
		Status: StatusPending, CreatedAt: now, ExpiresAt: now.Add(DefaultTTL),
	}
	require.NoError(t, repo.Create(ctx, req))

	_, err := repo.Get(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrRequestNotFound)
	_, err = repo.Transition(ctx, "not-a-uuid", StatusPending, StatusProcessing, TransitionUpdate{})
	assert.ErrorIs(t, err, ErrRequestNotFound)
	_, err = repo.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrRequestNotFound)

	claimed, err := repo.Transition(ctx, req.ID, StatusPending, StatusProcessing, TransitionUpdate{ClaimedAt: now})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, claimed.Status)
	assert.True(t, claimed.ClaimedAt.Equal(now))

	_, err = repo.Transition(ctx, req.ID, StatusPending, StatusRejected, TransitionUpdate{})
	assert.ErrorIs(t, err, ErrStaleStatus)

	stale, err := repo.ListStaleClaims(ctx, now.Add(-time.Second))
	require.NoError(t, err)
	assert.Empty(t, stale)
	stale, err = repo.ListStaleClaims(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, req.ID, stale[0].ID)
}
