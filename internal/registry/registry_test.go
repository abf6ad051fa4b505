package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestCatalog_ReadersNeverBlockWriter exercises I5: many concurrent readers
// calling Get() must never block a concurrent Publish via atomic swap.
func TestCatalog_ReadersNeverBlockWriter(t *testing.T) {
	c := New(nil, VisibilitySettings{}, 0)

	snapA := &Snapshot{tools: map[string]ToolDef{"a": {Name: "a"}}}
	snapB := &Snapshot{tools: map[string]ToolDef{"b": {Name: "b"}}}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = c.Get()
				}
			}
		}()
	}

	c.current.Store(snapA)
	c.current.Store(snapB)
	close(stop)
	wg.Wait()

	got := c.Get()
	assert.Same(t, snapB, got)
}

func TestCatalog_GetReturnsEmptySnapshotInitially(t *testing.T) {
	c := New(nil, VisibilitySettings{}, 0)
	snap := c.Get()
	assert.Equal(t, 0, snap.Len())
	assert.Empty(t, snap.VisibleNames())
}
