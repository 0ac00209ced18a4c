package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/scantaskd/scantaskd/internal/model"
	"github.com/scantaskd/scantaskd/internal/store"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.Context(), filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, st.Close())
	})
	return st
}

func newTask(id string) model.Task {
	return model.Task{
		ID:        id,
		Type:      model.TaskTypeQuick,
		Target:    "scanme.test",
		Command:   []string{"nmap", "-F", "-T4", "-oX", "-", "scanme.test"},
		Status:    model.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func TestCreateGet(t *testing.T) {
	t.Parallel()
	st := newStore(t)
	ctx := t.Context()

	want := newTask("t1")
	require.NoError(t, st.Create(ctx, want))

	got, err := st.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.Type, got.Type)
	require.Equal(t, want.Target, got.Target)
	require.Equal(t, want.Command, got.Command)
	require.Equal(t, model.StatusPending, got.Status)
	require.WithinDuration(t, want.CreatedAt, got.CreatedAt, time.Millisecond)
	require.Nil(t, got.Result)
	require.Empty(t, got.Error)
	require.Nil(t, got.StartedAt)
	require.Nil(t, got.FinishedAt)
}

func TestGetUnknown(t *testing.T) {
	t.Parallel()
	st := newStore(t)
	_, err := st.Get(t.Context(), "nope")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestTransitions(t *testing.T) {
	t.Parallel()
	st := newStore(t)
	ctx := t.Context()
	require.NoError(t, st.Create(ctx, newTask("t1")))

	t.Run("pending cannot complete", func(t *testing.T) {
		err := st.Transition(ctx, "t1", model.StatusCompleted, store.TransitionPayload{})
		require.ErrorIs(t, err, model.ErrInvalidTransition)
	})

	t.Run("running stamps started_at", func(t *testing.T) {
		require.NoError(t, st.Transition(ctx, "t1", model.StatusRunning, store.TransitionPayload{}))
		got, err := st.Get(ctx, "t1")
		require.NoError(t, err)
		require.Equal(t, model.StatusRunning, got.Status)
		require.NotNil(t, got.StartedAt)
		require.Nil(t, got.FinishedAt)
	})

	t.Run("completed stores the result", func(t *testing.T) {
		result := &model.ScanResult{
			Target:   "scanme.test",
			ScanTime: "1.25s",
			Hosts: []model.Host{{
				Address: "192.0.2.10",
				Status:  "up",
				Ports:   []model.Port{{Port: 22, Protocol: "tcp", State: "open", Service: "ssh"}},
			}},
		}
		require.NoError(t, st.Transition(ctx, "t1", model.StatusCompleted,
			store.TransitionPayload{Result: result}))

		got, err := st.Get(ctx, "t1")
		require.NoError(t, err)
		require.Equal(t, model.StatusCompleted, got.Status)
		require.Equal(t, result, got.Result)
		require.NotNil(t, got.FinishedAt)
	})

	t.Run("terminal states absorb", func(t *testing.T) {
		err := st.Transition(ctx, "t1", model.StatusFailed,
			store.TransitionPayload{Error: "late loser"})
		require.ErrorIs(t, err, model.ErrInvalidTransition)

		// the stored outcome is untouched
		got, err := st.Get(ctx, "t1")
		require.NoError(t, err)
		require.Equal(t, model.StatusCompleted, got.Status)
		require.Empty(t, got.Error)
	})

	t.Run("unknown task", func(t *testing.T) {
		err := st.Transition(ctx, "nope", model.StatusRunning, store.TransitionPayload{})
		require.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestFailedTransition(t *testing.T) {
	t.Parallel()
	st := newStore(t)
	ctx := t.Context()
	require.NoError(t, st.Create(ctx, newTask("t1")))
	require.NoError(t, st.Transition(ctx, "t1", model.StatusRunning, store.TransitionPayload{}))
	require.NoError(t, st.Transition(ctx, "t1", model.StatusFailed,
		store.TransitionPayload{Error: "scan timed out after 30m0s"}))

	got, err := st.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, got.Status)
	require.Equal(t, "scan timed out after 30m0s", got.Error)
	require.Nil(t, got.Result)
	require.NotNil(t, got.FinishedAt)
}

func TestDelete(t *testing.T) {
	t.Parallel()
	st := newStore(t)
	ctx := t.Context()
	require.NoError(t, st.Create(ctx, newTask("t1")))

	require.NoError(t, st.Delete(ctx, "t1"))
	require.ErrorIs(t, st.Delete(ctx, "t1"), model.ErrNotFound)
	_, err := st.Get(ctx, "t1")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestReconcileOnReopen(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "tasks.db")

	st, err := store.Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, st.Create(ctx, newTask("interrupted")))
	require.NoError(t, st.Transition(ctx, "interrupted", model.StatusRunning, store.TransitionPayload{}))
	require.NoError(t, st.Create(ctx, newTask("untouched")))
	require.NoError(t, st.Close())

	// simulates a daemon restart: the supervising goroutine is gone
	st, err = store.Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, st.Close())
	})

	got, err := st.Get(ctx, "interrupted")
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, got.Status)
	require.Equal(t, "interrupted by restart", got.Error)
	require.NotNil(t, got.FinishedAt)

	got, err = st.Get(ctx, "untouched")
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, got.Status)
}

func TestDeleteFinishedBefore(t *testing.T) {
	t.Parallel()
	st := newStore(t)
	ctx := t.Context()

	require.NoError(t, st.Create(ctx, newTask("done")))
	require.NoError(t, st.Transition(ctx, "done", model.StatusRunning, store.TransitionPayload{}))
	require.NoError(t, st.Transition(ctx, "done", model.StatusCompleted,
		store.TransitionPayload{Result: &model.ScanResult{Target: "scanme.test"}}))
	require.NoError(t, st.Create(ctx, newTask("pending")))

	// cutoff before anything finished deletes nothing
	n, err := st.DeleteFinishedBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = st.DeleteFinishedBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = st.Get(ctx, "done")
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = st.Get(ctx, "pending")
	require.NoError(t, err)
}
