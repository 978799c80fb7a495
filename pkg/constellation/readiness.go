package constellation

import (
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/ids"
	"github.com/odvcencio/constellation/pkg/protocol"
)

// readinessQuery collects the current epoch of every fully active pipeline of
// one webview for the compositor. Pipelines still waiting at deadline are
// treated as disconnected.
type readinessQuery struct {
	webview  ids.WebViewID
	deadline time.Time
	waiting  map[ids.PipelineID]struct{}
	epochs   map[ids.PipelineID]ids.Epoch
}

// screenshotReadiness answers GetScreenshotReadiness. Pipelines already on
// their way out are reported at epoch 0; an unknown webview gets an empty map.
func (c *Constellation) screenshotReadiness(webview ids.WebViewID) {
	_, top, ok := c.openWebView(webview)
	if !ok {
		c.toCompositor(protocol.ScreenshotReadiness{WebView: webview, Expected: map[ids.PipelineID]ids.Epoch{}})
		return
	}

	c.nextQuery++
	id := c.nextQuery
	q := &readinessQuery{
		webview:  webview,
		deadline: time.Now().Add(c.opts.ExitTimeout),
		waiting:  make(map[ids.PipelineID]struct{}),
		epochs:   make(map[ids.PipelineID]ids.Epoch),
	}
	c.queries[id] = q
	for p := range c.tree.FullyActivePipelines(top.ID) {
		h, ok := c.pipelines[p.ID]
		if !ok || h.phase != phaseRunning {
			q.epochs[p.ID] = 0
			continue
		}
		q.waiting[p.ID] = struct{}{}
	}
	c.log.Debug("querying readiness", zap.Stringer("webview", webview), zap.Uint64("query", id), zap.Int("pipelines", len(q.waiting)+len(q.epochs)))

	for _, pid := range slices.SortedFunc(maps.Keys(q.waiting), ids.ComparePipelines) {
		if h, ok := c.pipelines[pid]; ok {
			c.toPipeline(h, protocol.QueryReadiness{Pipeline: pid, Query: id})
		}
	}
	c.maybeAnswer(id)
}

func (c *Constellation) readinessEpoch(m protocol.ReadinessEpoch) {
	q, ok := c.queries[m.Query]
	if !ok {
		c.log.Debug("readiness reply for finished query", zap.Uint64("query", m.Query), zap.Stringer("pipeline", m.Pipeline))
		return
	}
	if _, waiting := q.waiting[m.Pipeline]; !waiting {
		return
	}
	delete(q.waiting, m.Pipeline)
	q.epochs[m.Pipeline] = m.Epoch
	c.maybeAnswer(m.Query)
}

// abandonQueries settles pid at epoch 0 in every query still waiting on it.
func (c *Constellation) abandonQueries(pid ids.PipelineID) {
	for _, id := range slices.Sorted(maps.Keys(c.queries)) {
		q, ok := c.queries[id]
		if !ok {
			continue
		}
		if _, waiting := q.waiting[pid]; !waiting {
			continue
		}
		delete(q.waiting, pid)
		q.epochs[pid] = 0
		c.maybeAnswer(id)
	}
}

// expireQueries closes every pipeline that left a readiness query unanswered
// past its deadline. Closing settles the pipeline at epoch 0, so the query is
// answered and the compositor cancels the screenshot.
func (c *Constellation) expireQueries(now time.Time) {
	var silent []ids.PipelineID
	for _, q := range c.queries {
		if !now.After(q.deadline) {
			continue
		}
		for pid := range q.waiting {
			silent = append(silent, pid)
		}
	}
	slices.SortFunc(silent, ids.ComparePipelines)
	for _, pid := range slices.Compact(silent) {
		c.log.Warn("pipeline did not answer readiness query, treating as disconnected",
			zap.Stringer("pipeline", pid),
			zap.Duration("timeout", c.opts.ExitTimeout),
		)
		c.closePipeline(pid, false)
		c.abandonQueries(pid)
	}
}

func (c *Constellation) maybeAnswer(id uint64) {
	q, ok := c.queries[id]
	if !ok || len(q.waiting) > 0 {
		return
	}
	delete(c.queries, id)
	c.toCompositor(protocol.ScreenshotReadiness{WebView: q.webview, Expected: q.epochs})
}
