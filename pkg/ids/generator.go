package ids

import "sync/atomic"

// Namespaces hands out namespace numbers. One instance exists per run, owned
// by the orchestrator; it is safe for concurrent use.
type Namespaces struct {
	next atomic.Uint32
}

// NewNamespaces returns an allocator whose first namespace follows
// ConstellationNamespace.
func NewNamespaces() *Namespaces {
	n := &Namespaces{}
	n.next.Store(uint32(ConstellationNamespace))
	return n
}

// Next returns a namespace never returned before.
func (n *Namespaces) Next() Namespace {
	return Namespace(n.next.Add(1))
}

// Generator mints ids within one namespace. Indices start at 1 and only grow.
type Generator struct {
	ns       Namespace
	contexts atomic.Uint32
	pipes    atomic.Uint32
	groups   atomic.Uint32
}

// NewGenerator returns a generator for ns.
func NewGenerator(ns Namespace) *Generator {
	return &Generator{ns: ns}
}

// Namespace returns the namespace this generator mints in.
func (g *Generator) Namespace() Namespace { return g.ns }

// NextBrowsingContextID mints a browsing context id.
func (g *Generator) NextBrowsingContextID() BrowsingContextID {
	return BrowsingContextID{key{g.ns, g.contexts.Add(1)}}
}

// NextWebViewID mints the id of a new top-level browsing context and returns
// it as a webview id.
func (g *Generator) NextWebViewID() WebViewID {
	return WebViewOf(g.NextBrowsingContextID())
}

// NextPipelineID mints a pipeline id.
func (g *Generator) NextPipelineID() PipelineID {
	return PipelineID{key{g.ns, g.pipes.Add(1)}}
}

// NextGroupID mints an isolation group id.
func (g *Generator) NextGroupID() GroupID {
	return GroupID{key{g.ns, g.groups.Add(1)}}
}
