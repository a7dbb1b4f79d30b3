package cron_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coder/quartz"

	"github.com/presenced/presenced/presenced/schedule/cron"
	"github.com/presenced/presenced/testutil"
)

func TestTicker(t *testing.T) {
	t.Parallel()

	var (
		clock = quartz.NewMock(t)
		ctx   = testutil.Context(t, testutil.WaitShort)
	)
	clock.Set(time.Date(2024, 3, 10, 22, 0, 0, 0, time.UTC))

	sched, err := cron.Daily("0 0 * * *")
	require.NoError(t, err)

	trap := clock.Trap().NewTimer()
	defer trap.Close()

	ticker := cron.NewTicker(ctx, clock, sched)
	defer ticker.Close()

	// The first timer waits the two hours until midnight.
	call := trap.MustWait(ctx)
	call.MustRelease(ctx)
	require.Equal(t, 2*time.Hour, call.Duration)

	_, wait := clock.AdvanceNext()
	wait.MustWait(ctx)

	select {
	case tick, ok := <-ticker.C:
		require.True(t, ok)
		require.True(t, tick.Equal(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)))
	case <-ctx.Done():
		t.Fatal("no tick delivered")
	}

	// The loop re-arms for the following midnight.
	call = trap.MustWait(ctx)
	call.MustRelease(ctx)
	require.Equal(t, 24*time.Hour, call.Duration)
}
