package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ondepub/autopost/internal/platform/logger"
)

type countingSyncer struct {
	calls int32
}

func (s *countingSyncer) SyncPending(ctx context.Context) (int, error) {
	atomic.AddInt32(&s.calls, 1)
	return 1, nil
}

func (s *countingSyncer) count() int32 { return atomic.LoadInt32(&s.calls) }

func startWatcher(t *testing.T, path string, debounce time.Duration, syncer PendingSyncer, opts ...func(*Watcher)) {
	t.Helper()
	w, err := New(path, debounce, syncer, logger.Discard())
	require.NoError(t, err)
	for _, opt := range opts {
		opt(w)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		w.Close()
	})
	time.Sleep(50 * time.Millisecond)
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "queue.json")
	syncer := &countingSyncer{}
	startWatcher(t, path, 150*time.Millisecond, syncer)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte(`{"items":[]}`), 0o644))
	}

	assert.Eventually(t, func() bool { return syncer.count() == 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), syncer.count())
}

func TestWatcher_SeesAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.json")
	syncer := &countingSyncer{}
	startWatcher(t, path, 50*time.Millisecond, syncer)

	tmp := filepath.Join(dir, "queue.json.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(`{"items":[]}`), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	assert.Eventually(t, func() bool { return syncer.count() >= 1 }, 2*time.Second, 20*time.Millisecond)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	syncer := &countingSyncer{}
	startWatcher(t, filepath.Join(dir, "queue.json"), 50*time.Millisecond, syncer)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "dispatch.log"), []byte("{}\n"), 0o644))
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, int32(0), syncer.count())
}

func TestWatcher_RechecksAfterSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	syncer := &countingSyncer{}
	startWatcher(t, path, 50*time.Millisecond, syncer, func(w *Watcher) { w.RecheckAfter(400 * time.Millisecond) })

	// The startup recheck fires once with no file activity.
	assert.Eventually(t, func() bool { return syncer.count() == 1 }, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`{"items":[]}`), 0o644))
	assert.Eventually(t, func() bool { return syncer.count() == 2 }, 2*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return syncer.count() == 3 }, 2*time.Second, 20*time.Millisecond, "one follow-up sync")

	time.Sleep(700 * time.Millisecond)
	assert.Equal(t, int32(3), syncer.count(), "follow-up syncs do not reschedule themselves")
}
