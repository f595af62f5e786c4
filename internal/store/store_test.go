package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithConcurrencySizesWriteQueue(t *testing.T) {
	db, err := OpenWithConcurrency(filepath.Join(t.TempDir(), "test.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	assert.Equal(t, 3, cap(db.writeSem))
}

func TestOpenWithConcurrencyClampsBelowOne(t *testing.T) {
	db, err := OpenWithConcurrency(filepath.Join(t.TempDir(), "test.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	assert.Equal(t, 1, cap(db.writeSem))
}

// TestWithWriteBoundsConcurrentWriters confirms that withWrite lets at most
// the configured number of writers proceed at once: more writers than the
// bound must queue instead of entering the critical section, but every one
// eventually runs.
func TestWithWriteBoundsConcurrentWriters(t *testing.T) {
	db, err := OpenWithConcurrency(filepath.Join(t.TempDir(), "test.db"), 2)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	const writers = 4
	entered := make(chan struct{}, writers)
	release := make(chan struct{})
	var active int32

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = db.withWrite(context.Background(), func(tx *sql.Tx) error {
				atomic.AddInt32(&active, 1)
				entered <- struct{}{}
				<-release
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}

	// Exactly two writers should be able to enter immediately.
	<-entered
	<-entered
	assert.Equal(t, int32(2), atomic.LoadInt32(&active))

	// A third must not enter until one of the first two releases.
	select {
	case <-entered:
		t.Fatal("more than maxConcurrency writers entered the write queue at once")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	wg.Wait()
	assert.Equal(t, int32(0), atomic.LoadInt32(&active))
}
