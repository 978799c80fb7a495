package browsingcontext

import (
	"iter"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/ids"
)

type fixture struct {
	tree *Tree
	gen  *ids.Generator
}

func newFixture() *fixture {
	gen := ids.NewGenerator(ids.ConstellationNamespace)
	return &fixture{tree: NewTree(gen, zap.NewNop()), gen: gen}
}

func (f *fixture) topLevel(t *testing.T) (ids.WebViewID, ids.PipelineID) {
	t.Helper()
	wv := f.gen.NextWebViewID()
	pid := f.gen.NextPipelineID()
	ctx, err := f.tree.CreateContext(NewContext{
		ID:              wv.BrowsingContext(),
		InitialPipeline: pid,
		InitialURL:      "https://example.test/",
		Policy:          NewGroup,
	})
	require.NoError(t, err)
	require.Equal(t, wv.BrowsingContext(), ctx)
	return wv, pid
}

func (f *fixture) iframe(t *testing.T, parent ids.PipelineID) (ids.BrowsingContextID, ids.PipelineID) {
	t.Helper()
	pid := f.gen.NextPipelineID()
	ctx, err := f.tree.CreateContext(NewContext{
		ParentPipeline:  parent,
		InitialPipeline: pid,
		Policy:          InheritParent,
	})
	require.NoError(t, err)
	return ctx, pid
}

func collect[T any](seq iter.Seq[T]) []T {
	var out []T
	for v := range seq {
		out = append(out, v)
	}
	return out
}

func contextIDs(ctxs []*BrowsingContext) []ids.BrowsingContextID {
	out := make([]ids.BrowsingContextID, 0, len(ctxs))
	for _, c := range ctxs {
		out = append(out, c.ID)
	}
	return out
}

func TestCreateContext_TopLevel(t *testing.T) {
	f := newFixture()
	wv, pid := f.topLevel(t)

	ctx, ok := f.tree.TopLevel(wv)
	require.True(t, ok)
	assert.True(t, ctx.IsTopLevel())
	assert.Equal(t, wv, ctx.TopLevel)
	assert.Equal(t, pid, ctx.Pipeline)
	assert.Equal(t, []ids.PipelineID{pid}, ctx.Pipelines)

	p, ok := f.tree.Pipeline(pid)
	require.True(t, ok)
	assert.True(t, p.Active)
	assert.Equal(t, wv, p.WebView)
	require.NoError(t, f.tree.Validate())
}

func TestCreateContext_UnknownParentIsRejected(t *testing.T) {
	f := newFixture()
	before, _ := f.tree.Len()

	_, err := f.tree.CreateContext(NewContext{
		ParentPipeline:  ids.PipelineFromParts(9, 9),
		InitialPipeline: f.gen.NextPipelineID(),
	})

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownParent))
	after, pipelines := f.tree.Len()
	assert.Equal(t, before, after, "no orphan context may be inserted")
	assert.Zero(t, pipelines)
}

func TestCreateContext_DuplicateIDs(t *testing.T) {
	f := newFixture()
	wv, pid := f.topLevel(t)

	_, err := f.tree.CreateContext(NewContext{ID: wv.BrowsingContext(), InitialPipeline: f.gen.NextPipelineID()})
	assert.True(t, errors.IsCode(err, errors.ErrCodeDuplicateID))

	_, err = f.tree.CreateContext(NewContext{InitialPipeline: pid})
	assert.True(t, errors.IsCode(err, errors.ErrCodeDuplicateID))
}

func TestCreateContext_NestedInheritsTopLevelAndGroup(t *testing.T) {
	f := newFixture()
	wv, root := f.topLevel(t)
	childCtx, childPipe := f.iframe(t, root)

	child, ok := f.tree.Context(childCtx)
	require.True(t, ok)
	top, _ := f.tree.TopLevel(wv)

	assert.False(t, child.IsTopLevel())
	assert.Equal(t, wv, child.TopLevel)
	assert.Equal(t, top.Group, child.Group)
	assert.Equal(t, []ids.BrowsingContextID{top.ID}, f.tree.Ancestors(childCtx))

	parent, _ := f.tree.Pipeline(root)
	assert.Equal(t, []ids.BrowsingContextID{childCtx}, parent.Children)

	p, _ := f.tree.Pipeline(childPipe)
	assert.Equal(t, wv, p.WebView)
	require.NoError(t, f.tree.Validate())
}

func TestCreateContext_GroupPolicies(t *testing.T) {
	f := newFixture()
	_, root := f.topLevel(t)

	fresh, err := f.tree.CreateContext(NewContext{ParentPipeline: root, InitialPipeline: f.gen.NextPipelineID(), Policy: NewGroup})
	require.NoError(t, err)
	explicitID := f.gen.NextGroupID()
	explicit, err := f.tree.CreateContext(NewContext{ParentPipeline: root, InitialPipeline: f.gen.NextPipelineID(), Policy: ExplicitGroup(explicitID)})
	require.NoError(t, err)

	rootCtx, _ := f.tree.Context(f.mustPipeline(t, root).Context)
	freshCtx, _ := f.tree.Context(fresh)
	explicitCtx, _ := f.tree.Context(explicit)

	assert.NotEqual(t, rootCtx.Group, freshCtx.Group)
	assert.Equal(t, explicitID, explicitCtx.Group)
	g, ok := f.tree.Group(explicitID)
	require.True(t, ok)
	assert.Contains(t, g.Contexts, explicit)
}

func (f *fixture) mustPipeline(t *testing.T, id ids.PipelineID) *Pipeline {
	t.Helper()
	p, ok := f.tree.Pipeline(id)
	require.True(t, ok)
	return p
}

func TestCreateContext_TopLevelMismatch(t *testing.T) {
	f := newFixture()
	_, root := f.topLevel(t)

	_, err := f.tree.CreateContext(NewContext{
		ParentPipeline:  root,
		TopLevel:        f.gen.NextWebViewID(),
		InitialPipeline: f.gen.NextPipelineID(),
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeProtocolViolation))
}

func TestUpdateCurrentEntry(t *testing.T) {
	f := newFixture()
	wv, first := f.topLevel(t)
	ctx := wv.BrowsingContext()

	next := f.gen.NextPipelineID()
	require.NoError(t, f.tree.AddPipeline(next, ctx, "https://example.test/next"))
	assert.False(t, f.mustPipeline(t, next).Active, "added pipelines start inactive")

	require.NoError(t, f.tree.UpdateCurrentEntry(ctx, next))
	require.NoError(t, f.tree.UpdateCurrentEntry(ctx, next), "repeat is a no-op")

	c, _ := f.tree.Context(ctx)
	assert.Equal(t, next, c.Pipeline)
	assert.True(t, f.mustPipeline(t, next).Active)
	assert.False(t, f.mustPipeline(t, first).Active)
	assert.Equal(t, []ids.PipelineID{first, next}, c.Pipelines)
	require.NoError(t, f.tree.Validate())
}

func TestUpdateCurrentEntry_NotBound(t *testing.T) {
	f := newFixture()
	wv, _ := f.topLevel(t)
	other, otherPipe := f.topLevel(t)

	err := f.tree.UpdateCurrentEntry(wv.BrowsingContext(), otherPipe)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotBound))

	err = f.tree.UpdateCurrentEntry(wv.BrowsingContext(), f.gen.NextPipelineID())
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotBound))

	c, _ := f.tree.TopLevel(other)
	assert.Equal(t, otherPipe, c.Pipeline, "failed update leaves both contexts untouched")
}

func TestHistory_TraverseAndPrune(t *testing.T) {
	f := newFixture()
	wv, a := f.topLevel(t)
	ctx := wv.BrowsingContext()

	b := f.gen.NextPipelineID()
	c := f.gen.NextPipelineID()
	require.NoError(t, f.tree.AddPipeline(b, ctx, "b"))
	require.NoError(t, f.tree.UpdateCurrentEntry(ctx, b))
	require.NoError(t, f.tree.AddPipeline(c, ctx, "c"))
	require.NoError(t, f.tree.UpdateCurrentEntry(ctx, c))

	back, err := f.tree.TraverseHistory(ctx, -2)
	require.NoError(t, err)
	assert.Equal(t, a, back)
	require.NoError(t, f.tree.UpdateCurrentEntry(ctx, back))

	fwd, err := f.tree.TraverseHistory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, b, fwd)

	_, err = f.tree.TraverseHistory(ctx, -1)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	pruned := f.tree.PruneForward(ctx)
	assert.Equal(t, []ids.PipelineID{b, c}, pruned)
	got, _ := f.tree.Context(ctx)
	assert.Equal(t, []ids.PipelineID{a}, got.Pipelines)
	assert.Nil(t, f.tree.PruneForward(ctx))
}

func TestFullyActive_SkipsInactiveBranches(t *testing.T) {
	f := newFixture()
	wv, root := f.topLevel(t)
	activeChild, activeChildPipe := f.iframe(t, root)
	grandchild, _ := f.iframe(t, activeChildPipe)

	// Navigate the child; the grandchild hangs off the old, now inactive entry.
	next := f.gen.NextPipelineID()
	require.NoError(t, f.tree.AddPipeline(next, activeChild, "next"))
	require.NoError(t, f.tree.UpdateCurrentEntry(activeChild, next))

	active := contextIDs(collect(f.tree.FullyActive(wv.BrowsingContext())))
	all := contextIDs(collect(f.tree.All(wv.BrowsingContext())))

	assert.Equal(t, []ids.BrowsingContextID{wv.BrowsingContext(), activeChild}, active)
	assert.Equal(t, []ids.BrowsingContextID{wv.BrowsingContext(), activeChild, grandchild}, all)

	pipes := collect(f.tree.FullyActivePipelines(wv.BrowsingContext()))
	require.Len(t, pipes, 2)
	assert.Equal(t, next, pipes[1].ID)
	assert.Len(t, collect(f.tree.AllPipelines(wv.BrowsingContext())), 4)
}

func TestFullyActive_StaleReferencesAreSkipped(t *testing.T) {
	f := newFixture()
	wv, root := f.topLevel(t)
	gone, gonePipe := f.iframe(t, root)
	kept, _ := f.iframe(t, root)

	// A close raced the traversal: the context vanished but its parent still
	// lists it, and the pipeline record is gone too.
	delete(f.tree.contexts, gone)
	delete(f.tree.pipelines, gonePipe)

	var got []ids.BrowsingContextID
	assert.NotPanics(t, func() {
		got = contextIDs(collect(f.tree.FullyActive(wv.BrowsingContext())))
	})
	assert.Equal(t, []ids.BrowsingContextID{wv.BrowsingContext(), kept}, got)
	assert.Equal(t, 1, f.tree.StaleReferences())
}

func TestFullyActive_EarlyStop(t *testing.T) {
	f := newFixture()
	wv, root := f.topLevel(t)
	f.iframe(t, root)
	f.iframe(t, root)

	n := 0
	for range f.tree.FullyActive(wv.BrowsingContext()) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestRemove(t *testing.T) {
	f := newFixture()
	wv, root := f.topLevel(t)
	child, childPipe := f.iframe(t, root)

	p, ok := f.tree.RemovePipeline(childPipe)
	require.True(t, ok)
	assert.Equal(t, child, p.Context)
	c, _ := f.tree.Context(child)
	assert.False(t, c.Pipeline.Valid(), "removing the current entry leaves the slot empty")
	assert.Empty(t, c.Pipelines)

	_, ok = f.tree.RemoveContext(child)
	require.True(t, ok)
	assert.Empty(t, f.mustPipeline(t, root).Children)

	_, ok = f.tree.RemovePipeline(childPipe)
	assert.False(t, ok)
	_, ok = f.tree.RemoveContext(child)
	assert.False(t, ok)

	_, ok = f.tree.TopLevel(wv)
	assert.True(t, ok)
	require.NoError(t, f.tree.Validate())
}

func TestSetFlag(t *testing.T) {
	f := newFixture()
	wv, _ := f.topLevel(t)
	ctx := wv.BrowsingContext()

	require.True(t, f.tree.SetFlag(ctx, FlagThrottled, true))
	c, _ := f.tree.Context(ctx)
	assert.True(t, c.Flags.Has(FlagThrottled))
	assert.False(t, c.Flags.Has(FlagThrottled|FlagSandboxed))

	f.tree.SetFlag(ctx, FlagThrottled, false)
	assert.False(t, c.Flags.Has(FlagThrottled))
	assert.False(t, f.tree.SetFlag(ids.BrowsingContextFromParts(9, 9), FlagThrottled, true))
}

// TestTree_ForestInvariantProperty drives random create/navigate/back/close
// sequences and checks the forest invariant after every step.
func TestTree_ForestInvariantProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		gen := ids.NewGenerator(ids.ConstellationNamespace)
		tree := NewTree(gen, zap.NewNop())
		var webviews []ids.WebViewID

		pickPipeline := func(label string) (*Pipeline, bool) {
			var all []*Pipeline
			for p := range tree.Pipelines() {
				all = append(all, p)
			}
			if len(all) == 0 {
				return nil, false
			}
			slices.SortFunc(all, func(a, b *Pipeline) int { return ids.ComparePipelines(a.ID, b.ID) })
			return all[rapid.IntRange(0, len(all)-1).Draw(rt, label)], true
		}

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 5).Draw(rt, "op") {
			case 0: // open a webview
				wv := gen.NextWebViewID()
				_, err := tree.CreateContext(NewContext{ID: wv.BrowsingContext(), InitialPipeline: gen.NextPipelineID()})
				if err != nil {
					rt.Fatalf("create top-level: %v", err)
				}
				webviews = append(webviews, wv)
			case 1: // iframe under an existing pipeline
				p, ok := pickPipeline("parent")
				if !ok {
					continue
				}
				if _, err := tree.CreateContext(NewContext{ParentPipeline: p.ID, InitialPipeline: gen.NextPipelineID(), Policy: InheritParent}); err != nil {
					rt.Fatalf("create iframe: %v", err)
				}
			case 2: // iframe under an unknown parent must be rejected
				before, _ := tree.Len()
				if _, err := tree.CreateContext(NewContext{ParentPipeline: gen.NextPipelineID(), InitialPipeline: gen.NextPipelineID()}); err == nil {
					rt.Fatalf("unknown parent accepted")
				}
				if after, _ := tree.Len(); after != before {
					rt.Fatalf("rejected create inserted a context")
				}
			case 3: // navigate a context
				p, ok := pickPipeline("navigated")
				if !ok {
					continue
				}
				for _, pruned := range tree.PruneForward(p.Context) {
					tree.RemovePipeline(pruned)
				}
				next := gen.NextPipelineID()
				if err := tree.AddPipeline(next, p.Context, "next"); err != nil {
					rt.Fatalf("add pipeline: %v", err)
				}
				if err := tree.UpdateCurrentEntry(p.Context, next); err != nil {
					rt.Fatalf("update current entry: %v", err)
				}
			case 4: // go back
				p, ok := pickPipeline("back")
				if !ok {
					continue
				}
				if prev, err := tree.TraverseHistory(p.Context, -1); err == nil {
					if err := tree.UpdateCurrentEntry(p.Context, prev); err != nil {
						rt.Fatalf("traverse back: %v", err)
					}
				}
			case 5: // close a pipeline, and its context once empty
				p, ok := pickPipeline("closed")
				if !ok {
					continue
				}
				tree.RemovePipeline(p.ID)
				if c, ok := tree.Context(p.Context); ok && len(c.Pipelines) == 0 {
					tree.RemoveContext(c.ID)
				}
			}

			if err := tree.Validate(); err != nil {
				rt.Fatalf("forest invariant broken after step %d: %v", i, err)
			}
		}

		for _, wv := range webviews {
			for ctx := range tree.FullyActive(wv.BrowsingContext()) {
				if ctx.TopLevel != wv {
					rt.Fatalf("context %s under %s reports top-level %s", ctx.ID, wv, ctx.TopLevel)
				}
				if ctx.IsTopLevel() {
					continue
				}
				parent, ok := tree.Pipeline(ctx.ParentPipeline)
				if !ok || !parent.Active {
					rt.Fatalf("fully active context %s has an inactive parent", ctx.ID)
				}
			}
		}
	})
}
