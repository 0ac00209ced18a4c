package task_test

import (
	"testing"
	"time"

	"github.com/scantaskd/scantaskd/internal/model"
	"github.com/scantaskd/scantaskd/internal/store"
	"github.com/scantaskd/scantaskd/internal/task"
	"github.com/stretchr/testify/require"
)

func TestJanitorSweep(t *testing.T) {
	t.Parallel()
	st := newStore(t)
	ctx := t.Context()

	finished := model.Task{
		ID: "old", Type: model.TaskTypeQuick, Target: "scanme.test",
		Command: []string{"nmap", "scanme.test"}, Status: model.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.Create(ctx, finished))
	require.NoError(t, st.Transition(ctx, "old", model.StatusRunning, store.TransitionPayload{}))
	require.NoError(t, st.Transition(ctx, "old", model.StatusFailed,
		store.TransitionPayload{Error: "scan timed out"}))

	pending := finished
	pending.ID = "fresh"
	require.NoError(t, st.Create(ctx, pending))

	j, err := task.NewJanitor(st, "0 3 * * *", "1s")
	require.NoError(t, err)
	j.Start()
	t.Cleanup(func() {
		require.NoError(t, j.Close())
	})

	// age the finished task past the retention window
	time.Sleep(1100 * time.Millisecond)
	j.Sweep(ctx)

	_, err = st.Get(ctx, "old")
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = st.Get(ctx, "fresh")
	require.NoError(t, err)
}

func TestNewJanitorValidation(t *testing.T) {
	t.Parallel()
	st := newStore(t)

	_, err := task.NewJanitor(st, "nonsense", "7d")
	require.Error(t, err)
	_, err = task.NewJanitor(st, "0 3 * * *", "eventually")
	require.Error(t, err)
}
