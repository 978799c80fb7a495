package protocol

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/odvcencio/constellation/pkg/browser"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/ids"
)

// Messages that leave the process are encoded as one flat protobuf record.
// Only pipeline-facing traffic crosses the bus; Ack and Task never do.

type kind uint64

const (
	kindUnknown kind = iota
	kindLaunchPipeline
	kindExitPipeline
	kindResizePipeline
	kindSetThrottled
	kindQueryReadiness
	kindTickAnimation
	kindEpochPainted
	kindActivateDocument
	kindPipelineLoadComplete
	kindScriptNewIFrame
	kindRemoveIFrame
	kindClosePipeline
	kindScriptExited
	kindReadinessEpoch
	kindAnimationState
	kindDisplayListReceived
)

const (
	fieldKind      protowire.Number = 1
	fieldPipeline  protowire.Number = 2
	fieldOther     protowire.Number = 3
	fieldContext   protowire.Number = 4
	fieldWebView   protowire.Number = 5
	fieldEpoch     protowire.Number = 6
	fieldQuery     protowire.Number = 7
	fieldURL       protowire.Number = 8
	fieldWidth     protowire.Number = 9
	fieldHeight    protowire.Number = 10
	fieldScale     protowire.Number = 11
	fieldFlag      protowire.Number = 12
	fieldNamespace protowire.Number = 13

	fieldIDNamespace protowire.Number = 1
	fieldIDIndex     protowire.Number = 2
)

type record struct {
	kind      kind
	pipeline  ids.PipelineID
	other     ids.PipelineID
	context   ids.BrowsingContextID
	webview   ids.WebViewID
	epoch     ids.Epoch
	query     uint64
	url       string
	viewport  browser.Viewport
	flag      bool
	namespace ids.Namespace
}

// Encode serializes a bus-crossing message.
func Encode(msg any) ([]byte, error) {
	var r record
	switch m := msg.(type) {
	case LaunchPipeline:
		r = record{kind: kindLaunchPipeline, pipeline: m.Pipeline, context: m.Context, webview: m.WebView,
			namespace: m.Namespace, url: m.URL, viewport: m.Viewport, flag: m.Throttled}
	case ExitPipeline:
		r = record{kind: kindExitPipeline, pipeline: m.Pipeline}
	case ResizePipeline:
		r = record{kind: kindResizePipeline, pipeline: m.Pipeline, viewport: m.Viewport}
	case SetThrottled:
		r = record{kind: kindSetThrottled, pipeline: m.Pipeline, flag: m.Throttled}
	case QueryReadiness:
		r = record{kind: kindQueryReadiness, pipeline: m.Pipeline, query: m.Query}
	case TickAnimation:
		r = record{kind: kindTickAnimation, pipeline: m.Pipeline}
	case EpochPainted:
		r = record{kind: kindEpochPainted, pipeline: m.Pipeline, epoch: m.Epoch}
	case ActivateDocument:
		r = record{kind: kindActivateDocument, pipeline: m.Pipeline}
	case PipelineLoadComplete:
		r = record{kind: kindPipelineLoadComplete, pipeline: m.Pipeline}
	case ScriptNewIFrame:
		r = record{kind: kindScriptNewIFrame, pipeline: m.Pipeline, other: m.Parent, context: m.Context, url: m.URL}
	case RemoveIFrame:
		r = record{kind: kindRemoveIFrame, other: m.Parent, context: m.Context}
	case ClosePipeline:
		r = record{kind: kindClosePipeline, pipeline: m.Pipeline}
	case ScriptExited:
		r = record{kind: kindScriptExited, pipeline: m.Pipeline}
	case ReadinessEpoch:
		r = record{kind: kindReadinessEpoch, pipeline: m.Pipeline, epoch: m.Epoch, query: m.Query}
	case AnimationState:
		r = record{kind: kindAnimationState, pipeline: m.Pipeline, flag: m.Animating}
	case DisplayListReceived:
		r = record{kind: kindDisplayListReceived, pipeline: m.Pipeline, webview: m.WebView, epoch: m.Epoch}
	default:
		return nil, errors.Newf(errors.ErrCodeCodec, "message %s does not cross process boundaries", Name(msg))
	}
	return r.marshal(), nil
}

// Decode parses a record produced by Encode. The result is one of the
// message structs, by value.
func Decode(b []byte) (any, error) {
	r, err := unmarshal(b)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCodec, "decode message")
	}
	switch r.kind {
	case kindLaunchPipeline:
		return LaunchPipeline{Pipeline: r.pipeline, Context: r.context, WebView: r.webview,
			Namespace: r.namespace, URL: r.url, Viewport: r.viewport, Throttled: r.flag}, nil
	case kindExitPipeline:
		return ExitPipeline{Pipeline: r.pipeline}, nil
	case kindResizePipeline:
		return ResizePipeline{Pipeline: r.pipeline, Viewport: r.viewport}, nil
	case kindSetThrottled:
		return SetThrottled{Pipeline: r.pipeline, Throttled: r.flag}, nil
	case kindQueryReadiness:
		return QueryReadiness{Pipeline: r.pipeline, Query: r.query}, nil
	case kindTickAnimation:
		return TickAnimation{Pipeline: r.pipeline}, nil
	case kindEpochPainted:
		return EpochPainted{Pipeline: r.pipeline, Epoch: r.epoch}, nil
	case kindActivateDocument:
		return ActivateDocument{Pipeline: r.pipeline}, nil
	case kindPipelineLoadComplete:
		return PipelineLoadComplete{Pipeline: r.pipeline}, nil
	case kindScriptNewIFrame:
		return ScriptNewIFrame{Parent: r.other, Context: r.context, Pipeline: r.pipeline, URL: r.url}, nil
	case kindRemoveIFrame:
		return RemoveIFrame{Parent: r.other, Context: r.context}, nil
	case kindClosePipeline:
		return ClosePipeline{Pipeline: r.pipeline}, nil
	case kindScriptExited:
		return ScriptExited{Pipeline: r.pipeline}, nil
	case kindReadinessEpoch:
		return ReadinessEpoch{Query: r.query, Pipeline: r.pipeline, Epoch: r.epoch}, nil
	case kindAnimationState:
		return AnimationState{Pipeline: r.pipeline, Animating: r.flag}, nil
	case kindDisplayListReceived:
		return DisplayListReceived{WebView: r.webview, Pipeline: r.pipeline, Epoch: r.epoch}, nil
	default:
		return nil, errors.Newf(errors.ErrCodeCodec, "unknown message kind %d", r.kind)
	}
}

func (r record) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.kind))
	if r.pipeline.Valid() {
		b = appendID(b, fieldPipeline, r.pipeline)
	}
	if r.other.Valid() {
		b = appendID(b, fieldOther, r.other)
	}
	if r.context.Valid() {
		b = appendID(b, fieldContext, r.context)
	}
	if r.webview.Valid() {
		b = appendID(b, fieldWebView, r.webview)
	}
	if r.epoch != 0 {
		b = protowire.AppendTag(b, fieldEpoch, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.epoch))
	}
	if r.query != 0 {
		b = protowire.AppendTag(b, fieldQuery, protowire.VarintType)
		b = protowire.AppendVarint(b, r.query)
	}
	if r.url != "" {
		b = protowire.AppendTag(b, fieldURL, protowire.BytesType)
		b = protowire.AppendString(b, r.url)
	}
	if r.viewport.Width != 0 {
		b = protowire.AppendTag(b, fieldWidth, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(r.viewport.Width)))
	}
	if r.viewport.Height != 0 {
		b = protowire.AppendTag(b, fieldHeight, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(r.viewport.Height)))
	}
	if r.viewport.DeviceScaleFactor != 0 {
		b = protowire.AppendTag(b, fieldScale, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(r.viewport.DeviceScaleFactor))
	}
	if r.flag {
		b = protowire.AppendTag(b, fieldFlag, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if r.namespace != 0 {
		b = protowire.AppendTag(b, fieldNamespace, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.namespace))
	}
	return b
}

type wireID interface {
	Parts() (ids.Namespace, uint32)
}

func appendID(b []byte, num protowire.Number, id wireID) []byte {
	ns, index := id.Parts()
	var inner []byte
	inner = protowire.AppendTag(inner, fieldIDNamespace, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(ns))
	inner = protowire.AppendTag(inner, fieldIDIndex, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(index))

	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

func unmarshal(b []byte) (record, error) {
	var r record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case fieldKind:
				r.kind = kind(v)
			case fieldEpoch:
				r.epoch = ids.Epoch(v)
			case fieldQuery:
				r.query = v
			case fieldWidth:
				r.viewport.Width = int(protowire.DecodeZigZag(v))
			case fieldHeight:
				r.viewport.Height = int(protowire.DecodeZigZag(v))
			case fieldFlag:
				r.flag = protowire.DecodeBool(v)
			case fieldNamespace:
				r.namespace = ids.Namespace(v)
			}
		case typ == protowire.Fixed64Type && num == fieldScale:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
			r.viewport.DeviceScaleFactor = math.Float64frombits(v)
		case typ == protowire.BytesType && num == fieldURL:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
			r.url = v
		case typ == protowire.BytesType && num >= fieldPipeline && num <= fieldWebView:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
			ns, index, err := consumeID(v)
			if err != nil {
				return r, err
			}
			switch num {
			case fieldPipeline:
				r.pipeline = ids.PipelineFromParts(ns, index)
			case fieldOther:
				r.other = ids.PipelineFromParts(ns, index)
			case fieldContext:
				r.context = ids.BrowsingContextFromParts(ns, index)
			case fieldWebView:
				r.webview = ids.WebViewFromParts(ns, index)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return r, nil
}

func consumeID(b []byte) (ids.Namespace, uint32, error) {
	var ns, index uint64
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, 0, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.VarintType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return 0, 0, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, 0, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldIDNamespace:
			ns = v
		case fieldIDIndex:
			index = v
		}
	}
	if ns > math.MaxUint32 || index > math.MaxUint32 {
		return 0, 0, fmt.Errorf("id out of range (%d,%d)", ns, index)
	}
	return ids.Namespace(ns), uint32(index), nil
}
