// Package browsingcontext holds the session topology: which pipeline occupies
// which frame slot, how slots nest, and how they are grouped for isolation.
//
// The tree is an arena. Contexts, pipelines and groups live in maps keyed by
// id and every relation is an id, so a reference to something already removed
// is a lookup miss rather than a dangling pointer. A Tree is owned by a single
// actor and is not safe for concurrent use.
package browsingcontext

import (
	"slices"

	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/ids"
)

// Flags are per-context bits.
type Flags uint8

const (
	// FlagThrottled marks a context whose pipelines should not animate.
	FlagThrottled Flags = 1 << iota
	// FlagSandboxed marks a context created with a sandboxed iframe.
	FlagSandboxed
)

// Has reports whether every bit of f is set.
func (fl Flags) Has(f Flags) bool { return fl&f == f }

type groupMode uint8

const (
	groupNew groupMode = iota
	groupInherit
	groupExplicit
)

// GroupPolicy chooses the isolation group of a new context. The group is
// fixed at creation.
type GroupPolicy struct {
	mode  groupMode
	group ids.GroupID
}

var (
	// NewGroup places the context in a fresh group.
	NewGroup = GroupPolicy{mode: groupNew}
	// InheritParent places the context in its parent context's group. A
	// top-level context gets a fresh group.
	InheritParent = GroupPolicy{mode: groupInherit}
)

// ExplicitGroup places the context in group id.
func ExplicitGroup(id ids.GroupID) GroupPolicy {
	return GroupPolicy{mode: groupExplicit, group: id}
}

// BrowsingContext is a frame slot, independent of the document in it.
type BrowsingContext struct {
	ID ids.BrowsingContextID
	// ParentPipeline is zero for top-level contexts.
	ParentPipeline ids.PipelineID
	TopLevel       ids.WebViewID
	Group          ids.GroupID
	// Pipeline is the current entry.
	Pipeline ids.PipelineID
	// Pipelines is the session history of this slot, oldest first.
	Pipelines []ids.PipelineID
	Flags     Flags
}

// IsTopLevel reports whether the context has no parent.
func (c *BrowsingContext) IsTopLevel() bool { return !c.ParentPipeline.Valid() }

// Pipeline is one script+layout actor pair bound to a context for life.
type Pipeline struct {
	ID      ids.PipelineID
	Context ids.BrowsingContextID
	WebView ids.WebViewID
	URL     string
	// Children are the contexts created by this pipeline's document.
	Children []ids.BrowsingContextID
	// Active is true while the pipeline is the current entry of its context.
	Active bool
}

// Group is an isolation group.
type Group struct {
	ID       ids.GroupID
	Contexts map[ids.BrowsingContextID]struct{}
}

// NewContext describes a context to create.
type NewContext struct {
	// ID is used when the creator already minted the id; otherwise one is
	// generated.
	ID              ids.BrowsingContextID
	ParentPipeline  ids.PipelineID
	TopLevel        ids.WebViewID
	InitialPipeline ids.PipelineID
	InitialURL      string
	Policy          GroupPolicy
	Flags           Flags
}

// Tree is the arena of contexts, pipelines and groups.
type Tree struct {
	log       *zap.Logger
	gen       *ids.Generator
	contexts  map[ids.BrowsingContextID]*BrowsingContext
	pipelines map[ids.PipelineID]*Pipeline
	groups    map[ids.GroupID]*Group
	stale     int
}

// NewTree returns an empty tree minting context and group ids from gen.
func NewTree(gen *ids.Generator, log *zap.Logger) *Tree {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tree{
		log:       log,
		gen:       gen,
		contexts:  make(map[ids.BrowsingContextID]*BrowsingContext),
		pipelines: make(map[ids.PipelineID]*Pipeline),
		groups:    make(map[ids.GroupID]*Group),
	}
}

// CreateContext adds a context together with its initial pipeline, which
// becomes the current entry. It fails only when a parent pipeline is named
// but unknown, or when an id is already taken; nothing is inserted then.
func (t *Tree) CreateContext(nc NewContext) (ids.BrowsingContextID, error) {
	var parent *Pipeline
	if nc.ParentPipeline.Valid() {
		p, ok := t.pipelines[nc.ParentPipeline]
		if !ok {
			err := errors.New(errors.ErrCodeUnknownParent, "parent pipeline is not in the tree").
				WithContext("parent", nc.ParentPipeline.String())
			t.log.Error("rejecting context creation", zap.Error(err))
			return ids.BrowsingContextID{}, err
		}
		parent = p
	}
	if !nc.InitialPipeline.Valid() {
		return ids.BrowsingContextID{}, errors.New(errors.ErrCodeInvalidInput, "initial pipeline id is required")
	}
	if _, taken := t.pipelines[nc.InitialPipeline]; taken {
		return ids.BrowsingContextID{}, errors.New(errors.ErrCodeDuplicateID, "pipeline id already in use").
			WithContext("pipeline", nc.InitialPipeline.String())
	}

	id := nc.ID
	if !id.Valid() {
		id = t.gen.NextBrowsingContextID()
	}
	if _, taken := t.contexts[id]; taken {
		return ids.BrowsingContextID{}, errors.New(errors.ErrCodeDuplicateID, "browsing context id already in use").
			WithContext("context", id.String())
	}

	topLevel := ids.WebViewOf(id)
	if parent != nil {
		topLevel = parent.WebView
	}
	if nc.TopLevel.Valid() && nc.TopLevel != topLevel {
		return ids.BrowsingContextID{}, errors.New(errors.ErrCodeProtocolViolation, "top-level id does not match the tree").
			WithContext("given", nc.TopLevel.String()).
			WithContext("derived", topLevel.String())
	}

	ctx := &BrowsingContext{
		ID:             id,
		ParentPipeline: nc.ParentPipeline,
		TopLevel:       topLevel,
		Group:          t.assignGroup(nc.Policy, parent),
		Pipeline:       nc.InitialPipeline,
		Pipelines:      []ids.PipelineID{nc.InitialPipeline},
		Flags:          nc.Flags,
	}
	t.contexts[id] = ctx
	t.groups[ctx.Group].Contexts[id] = struct{}{}
	t.pipelines[nc.InitialPipeline] = &Pipeline{
		ID:      nc.InitialPipeline,
		Context: id,
		WebView: topLevel,
		URL:     nc.InitialURL,
		Active:  true,
	}
	if parent != nil {
		parent.Children = append(parent.Children, id)
	}
	return id, nil
}

func (t *Tree) assignGroup(policy GroupPolicy, parent *Pipeline) ids.GroupID {
	var gid ids.GroupID
	switch policy.mode {
	case groupExplicit:
		gid = policy.group
	case groupInherit:
		if parent != nil {
			if pctx, ok := t.contexts[parent.Context]; ok {
				gid = pctx.Group
			}
		}
	}
	if !gid.Valid() {
		gid = t.gen.NextGroupID()
	}
	if _, ok := t.groups[gid]; !ok {
		t.groups[gid] = &Group{ID: gid, Contexts: make(map[ids.BrowsingContextID]struct{})}
	}
	return gid
}

// AddPipeline binds a new pipeline to an existing context and appends it to
// the context's history. The pipeline does not become current until
// UpdateCurrentEntry.
func (t *Tree) AddPipeline(id ids.PipelineID, ctxID ids.BrowsingContextID, url string) error {
	ctx, ok := t.contexts[ctxID]
	if !ok {
		return errors.New(errors.ErrCodeStaleReference, "browsing context is not in the tree").
			WithContext("context", ctxID.String())
	}
	if _, taken := t.pipelines[id]; taken {
		return errors.New(errors.ErrCodeDuplicateID, "pipeline id already in use").
			WithContext("pipeline", id.String())
	}
	t.pipelines[id] = &Pipeline{ID: id, Context: ctxID, WebView: ctx.TopLevel, URL: url}
	ctx.Pipelines = append(ctx.Pipelines, id)
	return nil
}

// UpdateCurrentEntry makes pipeline the current entry of its context. The
// pipeline must already be bound to that context. Repeating the call with the
// current entry is a no-op.
func (t *Tree) UpdateCurrentEntry(ctxID ids.BrowsingContextID, pipeline ids.PipelineID) error {
	ctx, ok := t.contexts[ctxID]
	if !ok {
		return errors.New(errors.ErrCodeStaleReference, "browsing context is not in the tree").
			WithContext("context", ctxID.String())
	}
	p, ok := t.pipelines[pipeline]
	if !ok || p.Context != ctxID || !slices.Contains(ctx.Pipelines, pipeline) {
		return errors.New(errors.ErrCodeNotBound, "pipeline is not bound to this context").
			WithContext("context", ctxID.String()).
			WithContext("pipeline", pipeline.String())
	}
	if ctx.Pipeline == pipeline {
		return nil
	}
	if prev, ok := t.pipelines[ctx.Pipeline]; ok {
		prev.Active = false
	}
	p.Active = true
	ctx.Pipeline = pipeline
	return nil
}

// PruneForward drops every history entry after the current one and returns
// the dropped pipeline ids. The pipelines stay in the tree until removed, so
// their exit handshake can run.
func (t *Tree) PruneForward(ctxID ids.BrowsingContextID) []ids.PipelineID {
	ctx, ok := t.contexts[ctxID]
	if !ok {
		return nil
	}
	idx := slices.Index(ctx.Pipelines, ctx.Pipeline)
	if idx < 0 || idx == len(ctx.Pipelines)-1 {
		return nil
	}
	pruned := slices.Clone(ctx.Pipelines[idx+1:])
	ctx.Pipelines = ctx.Pipelines[:idx+1]
	return pruned
}

// TraverseHistory returns the pipeline delta entries away from the current
// one in the context's history.
func (t *Tree) TraverseHistory(ctxID ids.BrowsingContextID, delta int) (ids.PipelineID, error) {
	ctx, ok := t.contexts[ctxID]
	if !ok {
		return ids.PipelineID{}, errors.New(errors.ErrCodeStaleReference, "browsing context is not in the tree").
			WithContext("context", ctxID.String())
	}
	idx := slices.Index(ctx.Pipelines, ctx.Pipeline)
	target := idx + delta
	if idx < 0 || target < 0 || target >= len(ctx.Pipelines) {
		return ids.PipelineID{}, errors.New(errors.ErrCodeInvalidInput, "no history entry in that direction").
			WithContext("context", ctxID.String()).
			WithContext("delta", delta)
	}
	return ctx.Pipelines[target], nil
}

// RemovePipeline deletes a pipeline and drops it from its context's history.
// If it was the current entry the context is left without one. Child
// contexts are not touched.
func (t *Tree) RemovePipeline(id ids.PipelineID) (*Pipeline, bool) {
	p, ok := t.pipelines[id]
	if !ok {
		return nil, false
	}
	delete(t.pipelines, id)
	if ctx, ok := t.contexts[p.Context]; ok {
		ctx.Pipelines = slices.DeleteFunc(ctx.Pipelines, func(other ids.PipelineID) bool { return other == id })
		if ctx.Pipeline == id {
			ctx.Pipeline = ids.PipelineID{}
		}
	}
	return p, true
}

// RemoveContext deletes a context and unlinks it from its parent pipeline
// and group. Pipelines still bound to it are not removed.
func (t *Tree) RemoveContext(id ids.BrowsingContextID) (*BrowsingContext, bool) {
	ctx, ok := t.contexts[id]
	if !ok {
		return nil, false
	}
	delete(t.contexts, id)
	if parent, ok := t.pipelines[ctx.ParentPipeline]; ok {
		parent.Children = slices.DeleteFunc(parent.Children, func(c ids.BrowsingContextID) bool { return c == id })
	}
	if g, ok := t.groups[ctx.Group]; ok {
		delete(g.Contexts, id)
		if len(g.Contexts) == 0 {
			delete(t.groups, ctx.Group)
		}
	}
	return ctx, true
}

// SetFlag sets or clears f on a context.
func (t *Tree) SetFlag(ctxID ids.BrowsingContextID, f Flags, on bool) bool {
	ctx, ok := t.contexts[ctxID]
	if !ok {
		return false
	}
	if on {
		ctx.Flags |= f
	} else {
		ctx.Flags &^= f
	}
	return true
}

// Context looks up a context.
func (t *Tree) Context(id ids.BrowsingContextID) (*BrowsingContext, bool) {
	ctx, ok := t.contexts[id]
	return ctx, ok
}

// Pipeline looks up a pipeline.
func (t *Tree) Pipeline(id ids.PipelineID) (*Pipeline, bool) {
	p, ok := t.pipelines[id]
	return p, ok
}

// Group looks up an isolation group.
func (t *Tree) Group(id ids.GroupID) (*Group, bool) {
	g, ok := t.groups[id]
	return g, ok
}

// TopLevel returns the top-level context of a webview.
func (t *Tree) TopLevel(wv ids.WebViewID) (*BrowsingContext, bool) {
	return t.Context(wv.BrowsingContext())
}

// Ancestors returns the chain of contexts above ctxID, nearest first. The walk
// stops at the first missing link.
func (t *Tree) Ancestors(ctxID ids.BrowsingContextID) []ids.BrowsingContextID {
	var out []ids.BrowsingContextID
	ctx, ok := t.contexts[ctxID]
	for ok && !ctx.IsTopLevel() {
		parent, found := t.pipelines[ctx.ParentPipeline]
		if !found {
			break
		}
		ctx, ok = t.contexts[parent.Context]
		if ok {
			out = append(out, ctx.ID)
		}
	}
	return out
}

// Len returns the number of contexts and pipelines in the tree.
func (t *Tree) Len() (contexts, pipelines int) {
	return len(t.contexts), len(t.pipelines)
}

// StaleReferences returns how many stale links traversals have skipped.
func (t *Tree) StaleReferences() int { return t.stale }
