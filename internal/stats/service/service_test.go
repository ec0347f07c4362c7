package service

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/payloop/payloop/internal/stats/domain"
	"github.com/payloop/payloop/internal/stats/repository"
	"github.com/payloop/payloop/pkg/id"
)

func newTestService(t *testing.T) (*service, repository.Repository) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.GatewayAttempt{}))

	node, err := id.NewNode()
	require.NoError(t, err)

	repo := repository.New(db)
	svc := New(repo, node, zap.NewNop()).(*service)
	return svc, repo
}

func record(t *testing.T, svc *service, provider string, successes, failures int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < successes; i++ {
		require.NoError(t, svc.RecordSuccess(ctx, provider, svc.node.Generate()))
	}
	for i := 0; i < failures; i++ {
		require.NoError(t, svc.RecordFailure(ctx, provider, svc.node.Generate()))
	}
}

func TestSnapshotCounters(t *testing.T) {
	svc, _ := newTestService(t)
	record(t, svc, "cardnet", 8, 2)

	snapshot, err := svc.Snapshot(context.Background(), "cardnet")
	require.NoError(t, err)
	assert.Equal(t, int64(10), snapshot.TotalAttempts)
	assert.Equal(t, int64(8), snapshot.Successes)
	assert.Equal(t, int64(2), snapshot.Failures)
	assert.InDelta(t, 0.8, snapshot.SuccessRate, 0.001)
	assert.InDelta(t, 0.8, snapshot.WindowSuccessRate, 0.001)
	assert.NotNil(t, snapshot.LastSuccessAt)
	assert.NotNil(t, snapshot.LastFailureAt)
}

func TestHealthThresholds(t *testing.T) {
	cases := []struct {
		name      string
		successes int
		failures  int
		want      domain.HealthStatus
	}{
		{"thin data stays healthy", 0, 4, domain.HealthHealthy},
		{"high rate", 9, 1, domain.HealthHealthy},
		{"middling rate", 6, 4, domain.HealthDegraded},
		{"low rate", 2, 8, domain.HealthDown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			record(t, svc, "cardnet", tc.successes, tc.failures)

			health, err := svc.Health(context.Background(), "cardnet")
			require.NoError(t, err)
			assert.Equal(t, tc.want, health)
		})
	}
}

func TestWindowExcludesOldAttempts(t *testing.T) {
	svc, _ := newTestService(t)

	// A bad day last week, a clean record since.
	svc.now = func() time.Time { return time.Now().Add(-7 * 24 * time.Hour) }
	record(t, svc, "cardnet", 0, 10)

	svc.now = time.Now
	record(t, svc, "cardnet", 6, 0)

	snapshot, err := svc.Snapshot(context.Background(), "cardnet")
	require.NoError(t, err)
	assert.Equal(t, int64(16), snapshot.TotalAttempts)
	assert.Equal(t, int64(6), snapshot.WindowAttempts)
	assert.InDelta(t, 1.0, snapshot.WindowSuccessRate, 0.001)
	assert.Equal(t, domain.HealthHealthy, snapshot.Health)
}

func TestSnapshotsListsEveryProvider(t *testing.T) {
	svc, _ := newTestService(t)
	record(t, svc, "cardnet", 3, 0)
	record(t, svc, "walletpay", 0, 3)

	snapshots, err := svc.Snapshots(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, "cardnet", snapshots[0].Provider)
	assert.Equal(t, "walletpay", snapshots[1].Provider)
}

func TestUnknownProviderSnapshotIsEmptyAndHealthy(t *testing.T) {
	svc, _ := newTestService(t)

	snapshot, err := svc.Snapshot(context.Background(), "seapay")
	require.NoError(t, err)
	assert.Zero(t, snapshot.TotalAttempts)
	assert.Equal(t, domain.HealthHealthy, snapshot.Health)
	assert.Nil(t, snapshot.LastSuccessAt)
}
