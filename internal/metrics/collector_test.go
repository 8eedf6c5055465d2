package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()

	snap := c.Snapshot()
	assert.Nil(t, snap.RowAppend)

	c.RecordTiming(OpRowAppend, 10*time.Millisecond)
	c.RecordTiming(OpRowAppend, 30*time.Millisecond)
	c.RecordError(OpRowAppend)
	c.RecordError(OpAttachmentUpload)

	snap = c.Snapshot()
	require.NotNil(t, snap.RowAppend)
	assert.Equal(t, int64(2), snap.RowAppend.Count)
	assert.Equal(t, int64(1), snap.RowAppend.Errors)
	assert.Equal(t, int64(40), snap.RowAppend.TotalTimeMs)
	assert.InDelta(t, 20.0, snap.RowAppend.AvgTimeMs, 0.001)
	assert.Equal(t, int64(10), snap.RowAppend.MinTimeMs)
	assert.Equal(t, int64(30), snap.RowAppend.MaxTimeMs)

	require.NotNil(t, snap.AttachmentUpload, "errors alone produce a snapshot")
	assert.Zero(t, snap.AttachmentUpload.MinTimeMs)
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordTiming(OpSessionSave, time.Millisecond)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), c.Snapshot().SessionSave.Count)
}
