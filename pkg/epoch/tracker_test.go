package epoch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/odvcencio/constellation/pkg/ids"
)

func TestTracker_RecordAndIsReady(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	p := ids.PipelineFromParts(2, 1)

	assert.False(t, tr.IsReady(p, 0), "a pipeline with no epoch is never ready")

	assert.True(t, tr.Record(p, 3))
	assert.True(t, tr.IsReady(p, 1))
	assert.True(t, tr.IsReady(p, 3))
	assert.False(t, tr.IsReady(p, 4))
}

func TestTracker_RejectsStaleEpochs(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	p := ids.PipelineFromParts(2, 1)

	tests := []struct {
		epoch ids.Epoch
		want  bool
	}{
		{epoch: 5, want: true},
		{epoch: 5, want: false},
		{epoch: 4, want: false},
		{epoch: 6, want: true},
		{epoch: 1, want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tr.Record(p, tt.epoch), "epoch %d", tt.epoch)
	}

	e, ok := tr.Current(p)
	assert.True(t, ok)
	assert.Equal(t, ids.Epoch(6), e)
}

func TestTracker_PipelinesAreIndependent(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	p1 := ids.PipelineFromParts(2, 1)
	p2 := ids.PipelineFromParts(2, 2)

	tr.Record(p1, 10)
	assert.True(t, tr.Record(p2, 1), "another pipeline's epoch does not gate this one")
	assert.False(t, tr.IsReady(p2, 10))
}

func TestTracker_ForgetGivesFreshCounter(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	p := ids.PipelineFromParts(2, 1)

	tr.Record(p, 8)
	tr.Forget(p)

	assert.False(t, tr.IsReady(p, 0))
	assert.True(t, tr.Record(p, 1))
	assert.Equal(t, map[ids.PipelineID]ids.Epoch{p: 1}, tr.Snapshot())
}

func TestTracker_PendingFrames(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	assert.False(t, tr.HasPendingFrames())

	tr.FrameAccepted()
	tr.FrameAccepted()
	assert.True(t, tr.HasPendingFrames())

	tr.FramePresented()
	assert.True(t, tr.HasPendingFrames())
	tr.FramePresented()
	assert.False(t, tr.HasPendingFrames())

	tr.FramePresented()
	assert.False(t, tr.HasPendingFrames(), "extra presents do not go negative")
	tr.FrameAccepted()
	assert.True(t, tr.HasPendingFrames())
}

func TestTracker_SnapshotIsACopy(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	p := ids.PipelineFromParts(2, 1)
	tr.Record(p, 2)

	snap := tr.Snapshot()
	snap[p] = 99

	e, _ := tr.Current(p)
	assert.Equal(t, ids.Epoch(2), e)
}

// TestTracker_MonotonicityProperty feeds arbitrarily reordered epochs and
// checks that readiness never regresses and matches the highest value seen.
func TestTracker_MonotonicityProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tr := NewTracker(zap.NewNop())
		p := ids.PipelineFromParts(3, 1)
		epochs := rapid.SliceOf(rapid.Uint64Range(0, 50)).Draw(rt, "epochs")

		var highest ids.Epoch
		seen := false
		for _, raw := range epochs {
			e := ids.Epoch(raw)
			if !seen && tr.IsReady(p, 0) {
				rt.Fatalf("ready before any record")
			}
			kept := tr.Record(p, e)
			if kept != (!seen || e > highest) {
				rt.Fatalf("Record(%d) kept=%v with highest=%d seen=%v", e, kept, highest, seen)
			}
			if !seen || e > highest {
				highest = e
			}
			seen = true

			for q := ids.Epoch(0); q <= 50; q++ {
				if tr.IsReady(p, q) != (q <= highest) {
					rt.Fatalf("IsReady(%d) wrong with highest %d", q, highest)
				}
			}
		}
	})
}
