// Package epoch tracks per-pipeline display-list generations and the
// accepted-but-unpresented frame count the compositor uses as its
// backpressure gate.
package epoch

import (
	"maps"

	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/ids"
	"github.com/odvcencio/constellation/pkg/telemetry"
)

// Tracker is owned by the compositor actor and is not safe for concurrent use.
type Tracker struct {
	log     *zap.Logger
	epochs  map[ids.PipelineID]ids.Epoch
	pending int
}

// NewTracker returns an empty tracker.
func NewTracker(log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{log: log, epochs: make(map[ids.PipelineID]ids.Epoch)}
}

// Record stores epoch for pipeline. An epoch not greater than the last one
// recorded for that pipeline is a stale value that lost a race with a newer
// one; it is logged and ignored. Record reports whether the epoch was kept.
func (t *Tracker) Record(pipeline ids.PipelineID, epoch ids.Epoch) bool {
	if last, ok := t.epochs[pipeline]; ok && epoch <= last {
		t.log.Debug("ignoring stale epoch",
			zap.Stringer("pipeline", pipeline),
			zap.Uint64("epoch", uint64(epoch)),
			zap.Uint64("last", uint64(last)),
		)
		telemetry.RecordEpoch(false)
		return false
	}
	t.epochs[pipeline] = epoch
	telemetry.RecordEpoch(true)
	return true
}

// IsReady reports whether pipeline has recorded an epoch of at least expected.
// A pipeline with no recorded epoch is never ready.
func (t *Tracker) IsReady(pipeline ids.PipelineID, expected ids.Epoch) bool {
	last, ok := t.epochs[pipeline]
	return ok && last >= expected
}

// Current returns the last recorded epoch of pipeline.
func (t *Tracker) Current(pipeline ids.PipelineID) (ids.Epoch, bool) {
	e, ok := t.epochs[pipeline]
	return e, ok
}

// FrameAccepted counts a frame handed to the rasterizer.
func (t *Tracker) FrameAccepted() {
	t.pending++
}

// FramePresented counts a presented frame.
func (t *Tracker) FramePresented() {
	if t.pending == 0 {
		t.log.Warn("frame presented with none pending")
		return
	}
	t.pending--
}

// HasPendingFrames reports whether accepted input has not reached the screen
// yet. While it is true, readers would observe a torn intermediate state.
func (t *Tracker) HasPendingFrames() bool {
	return t.pending > 0
}

// Forget drops pipeline's entry once it exited. A later pipeline never
// inherits it because pipeline ids are not reused.
func (t *Tracker) Forget(pipeline ids.PipelineID) {
	delete(t.epochs, pipeline)
}

// Snapshot copies the recorded epochs.
func (t *Tracker) Snapshot() map[ids.PipelineID]ids.Epoch {
	return maps.Clone(t.epochs)
}
