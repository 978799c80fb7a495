// Package ids defines the process-agnostic identifier space shared by every
// actor of a browsing session: webviews, browsing contexts, pipelines and
// isolation groups.
//
// An id is a (namespace, index) pair. Namespaces are handed out from a single
// monotonic counter and each namespace mints its own indices, so any actor that
// owns a namespace can create globally unique ids without asking anyone.
// Ids are never reused within a run.
package ids

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// Namespace identifies the issuer of an id.
type Namespace uint32

// ConstellationNamespace is reserved for ids minted by the orchestrator itself.
const ConstellationNamespace Namespace = 1

type key struct {
	Namespace Namespace
	Index     uint32
}

func (k key) valid() bool { return k.Index != 0 }

func (k key) String() string {
	return fmt.Sprintf("(%d,%d)", k.Namespace, k.Index)
}

// Slug renders the id as "ns-idx", suitable for URLs and bus subjects.
func (k key) Slug() string {
	return fmt.Sprintf("%d-%d", k.Namespace, k.Index)
}

func parseKey(s string) (key, error) {
	ns, idx, ok := strings.Cut(s, "-")
	if !ok {
		return key{}, fmt.Errorf("malformed id %q", s)
	}
	n, err := strconv.ParseUint(ns, 10, 32)
	if err != nil {
		return key{}, fmt.Errorf("malformed id namespace %q: %w", s, err)
	}
	i, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return key{}, fmt.Errorf("malformed id index %q: %w", s, err)
	}
	if i == 0 {
		return key{}, fmt.Errorf("malformed id %q: zero index", s)
	}
	return key{Namespace: Namespace(n), Index: uint32(i)}, nil
}

// BrowsingContextID identifies a frame slot, top-level or nested.
type BrowsingContextID struct{ key }

// PipelineID identifies one script+layout actor pair.
type PipelineID struct{ key }

// GroupID identifies an isolation group.
type GroupID struct{ key }

// WebViewID identifies a top-level session. It is the id of the session's
// top-level browsing context.
type WebViewID struct{ key }

// Valid reports whether the id was issued (the zero value means "absent").
func (id BrowsingContextID) Valid() bool { return id.valid() }

// Valid reports whether the id was issued.
func (id PipelineID) Valid() bool { return id.valid() }

// Valid reports whether the id was issued.
func (id GroupID) Valid() bool { return id.valid() }

// Valid reports whether the id was issued.
func (id WebViewID) Valid() bool { return id.valid() }

// BrowsingContext returns the id of the webview's top-level browsing context.
func (id WebViewID) BrowsingContext() BrowsingContextID {
	return BrowsingContextID{id.key}
}

// WebViewOf returns the webview id whose top-level browsing context is ctx.
func WebViewOf(ctx BrowsingContextID) WebViewID {
	return WebViewID{ctx.key}
}

// Parts exposes the raw (namespace, index) pair for codecs.
func (id PipelineID) Parts() (Namespace, uint32) { return id.Namespace, id.Index }

// Parts exposes the raw (namespace, index) pair for codecs.
func (id BrowsingContextID) Parts() (Namespace, uint32) { return id.Namespace, id.Index }

// Parts exposes the raw (namespace, index) pair for codecs.
func (id WebViewID) Parts() (Namespace, uint32) { return id.Namespace, id.Index }

// PipelineFromParts rebuilds a pipeline id decoded off the wire.
func PipelineFromParts(ns Namespace, index uint32) PipelineID {
	return PipelineID{key{ns, index}}
}

// BrowsingContextFromParts rebuilds a browsing context id decoded off the wire.
func BrowsingContextFromParts(ns Namespace, index uint32) BrowsingContextID {
	return BrowsingContextID{key{ns, index}}
}

// WebViewFromParts rebuilds a webview id decoded off the wire.
func WebViewFromParts(ns Namespace, index uint32) WebViewID {
	return WebViewID{key{ns, index}}
}

// ParseWebViewID parses the Slug form of a webview id.
func ParseWebViewID(s string) (WebViewID, error) {
	k, err := parseKey(s)
	if err != nil {
		return WebViewID{}, err
	}
	return WebViewID{k}, nil
}

// ParsePipelineID parses the Slug form of a pipeline id.
func ParsePipelineID(s string) (PipelineID, error) {
	k, err := parseKey(s)
	if err != nil {
		return PipelineID{}, err
	}
	return PipelineID{k}, nil
}

// ComparePipelines orders pipeline ids by namespace, then index.
func ComparePipelines(a, b PipelineID) int { return a.compare(b.key) }

// CompareWebViews orders webview ids by namespace, then index.
func CompareWebViews(a, b WebViewID) int { return a.compare(b.key) }

func (k key) compare(o key) int {
	if c := cmp.Compare(k.Namespace, o.Namespace); c != 0 {
		return c
	}
	return cmp.Compare(k.Index, o.Index)
}

// Epoch is a per-pipeline display-list generation counter.
type Epoch uint64

// Next returns the following epoch.
func (e Epoch) Next() Epoch { return e + 1 }
