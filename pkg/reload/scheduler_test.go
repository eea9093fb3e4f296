package reload_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/memauthz/pkg/authz"
	"github.com/platinummonkey/memauthz/pkg/reload"
)

func TestScheduler_Add(t *testing.T) {
	s := reload.NewScheduler(nil)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add("refresh", "*/5 * * * *", noop))
	require.NoError(t, s.Add("disabled", "", noop))

	err := s.Add("purge", "every tuesday", noop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to schedule purge")

	assert.Equal(t, []string{"refresh"}, s.Jobs())
}

func TestScheduler_RunsJobs(t *testing.T) {
	s := reload.NewScheduler(nil)

	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "@every 1s", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))
	var panics atomic.Int32
	require.NoError(t, s.Add("panics", "@every 1s", func(context.Context) error {
		panics.Add(1)
		panic("job exploded")
	}))

	s.Start()
	require.Eventually(t, func() bool { return runs.Load() >= 1 && panics.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestRefreshJob(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, reload.RefreshJob(f.watcher)(context.Background()))

	assert.True(t, userExists(f.store, "alice"))
	events := f.recorder.Filter("config.policy_reload")
	require.Len(t, events, 1)
	assert.Equal(t, reload.TriggerSchedule, events[0].Metadata["trigger"])
}

func TestPurgeJob(t *testing.T) {
	inv := &invalidations{}

	require.NoError(t, reload.PurgeJob(inv)(context.Background()))

	require.Equal(t, 1, inv.count())
	assert.Equal(t, authz.ChangeSnapshot, inv.changes[0].Kind)
}
