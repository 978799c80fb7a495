package browsingcontext

import (
	stderrors "errors"
	"iter"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/ids"
	"github.com/odvcencio/constellation/pkg/telemetry"
)

// FullyActive yields root and, depth-first, every context reached through
// current entries only: the contexts whose whole ancestor chain is active.
// Links to removed contexts or pipelines are logged and skipped.
func (t *Tree) FullyActive(root ids.BrowsingContextID) iter.Seq[*BrowsingContext] {
	return func(yield func(*BrowsingContext) bool) {
		t.walk(root, false, yield)
	}
}

// All yields root and, depth-first, every context nested under any pipeline
// in any history entry, active or not.
func (t *Tree) All(root ids.BrowsingContextID) iter.Seq[*BrowsingContext] {
	return func(yield func(*BrowsingContext) bool) {
		t.walk(root, true, yield)
	}
}

// FullyActivePipelines yields the current pipeline of every fully active
// context under root.
func (t *Tree) FullyActivePipelines(root ids.BrowsingContextID) iter.Seq[*Pipeline] {
	return func(yield func(*Pipeline) bool) {
		for ctx := range t.FullyActive(root) {
			p, ok := t.pipelines[ctx.Pipeline]
			if !ok {
				continue
			}
			if !yield(p) {
				return
			}
		}
	}
}

// AllPipelines yields every pipeline of every context under root.
func (t *Tree) AllPipelines(root ids.BrowsingContextID) iter.Seq[*Pipeline] {
	return func(yield func(*Pipeline) bool) {
		for ctx := range t.All(root) {
			for _, pid := range ctx.Pipelines {
				p, ok := t.pipelines[pid]
				if !ok {
					continue
				}
				if !yield(p) {
					return
				}
			}
		}
	}
}

func (t *Tree) walk(id ids.BrowsingContextID, everything bool, yield func(*BrowsingContext) bool) bool {
	ctx, ok := t.contexts[id]
	if !ok {
		t.skipStale("browsing context", id.String())
		return true
	}
	if !yield(ctx) {
		return false
	}

	entries := []ids.PipelineID{ctx.Pipeline}
	if everything {
		entries = ctx.Pipelines
	}
	for _, pid := range entries {
		if !pid.Valid() {
			continue
		}
		p, ok := t.pipelines[pid]
		if !ok {
			t.skipStale("pipeline", pid.String())
			continue
		}
		for _, child := range slices.Clone(p.Children) {
			if !t.walk(child, everything, yield) {
				return false
			}
		}
	}
	return true
}

func (t *Tree) skipStale(kind, id string) {
	t.stale++
	telemetry.RecordStaleReference()
	t.log.Warn("skipping stale reference during traversal",
		zap.String("kind", kind),
		zap.String("id", id),
	)
}

// Contexts yields every context in the tree, in no particular order.
func (t *Tree) Contexts() iter.Seq[*BrowsingContext] {
	return maps.Values(t.contexts)
}

// Pipelines yields every pipeline in the tree, in no particular order.
func (t *Tree) Pipelines() iter.Seq[*Pipeline] {
	return maps.Values(t.pipelines)
}

// Validate checks the forest invariant: every context has at most one parent
// pipeline, no context is its own ancestor, the current entry is in the
// history, and the top-level id equals the context's own id exactly for
// top-level contexts. Parents that were already removed are tolerated; they
// are a transient state of teardown.
func (t *Tree) Validate() error {
	var errs []error
	violation := func(format string, args ...any) {
		errs = append(errs, errors.Newf(errors.ErrCodeProtocolViolation, format, args...))
	}

	claimed := make(map[ids.BrowsingContextID]ids.PipelineID)
	for _, p := range t.pipelines {
		ctx, ok := t.contexts[p.Context]
		if !ok {
			violation("pipeline %s bound to missing context %s", p.ID, p.Context)
		} else if p.WebView != ctx.TopLevel {
			violation("pipeline %s webview %s differs from its context's %s", p.ID, p.WebView, ctx.TopLevel)
		}
		for _, child := range p.Children {
			if other, dup := claimed[child]; dup {
				violation("context %s claimed by pipelines %s and %s", child, other, p.ID)
				continue
			}
			claimed[child] = p.ID
			if c, ok := t.contexts[child]; ok && c.ParentPipeline != p.ID {
				violation("context %s lists parent %s but is a child of %s", child, c.ParentPipeline, p.ID)
			}
		}
	}

	for id, ctx := range t.contexts {
		if ctx.Pipeline.Valid() && !slices.Contains(ctx.Pipelines, ctx.Pipeline) {
			violation("context %s current entry %s is not in its history", id, ctx.Pipeline)
		}
		if ctx.IsTopLevel() != (ctx.TopLevel == ids.WebViewOf(id)) {
			violation("context %s top-level id %s breaks the top-level rule", id, ctx.TopLevel)
		}
		if !ctx.IsTopLevel() {
			if owner, ok := claimed[id]; ok && owner != ctx.ParentPipeline {
				violation("context %s parent %s does not list it", id, ctx.ParentPipeline)
			}
		}
		if t.onCycle(id) {
			violation("context %s is its own ancestor", id)
		}
	}

	return stderrors.Join(errs...)
}

func (t *Tree) onCycle(start ids.BrowsingContextID) bool {
	seen := map[ids.BrowsingContextID]bool{start: true}
	ctx := t.contexts[start]
	for !ctx.IsTopLevel() {
		parent, ok := t.pipelines[ctx.ParentPipeline]
		if !ok {
			return false
		}
		next, ok := t.contexts[parent.Context]
		if !ok {
			return false
		}
		if seen[next.ID] {
			return true
		}
		seen[next.ID] = true
		ctx = next
	}
	return false
}
