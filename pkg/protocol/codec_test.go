package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/odvcencio/constellation/pkg/browser"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/ids"
)

func TestCodec_PipelineTraffic(t *testing.T) {
	gen := ids.NewGenerator(7)
	parent := gen.NextPipelineID()
	child := gen.NextPipelineID()
	ctx := gen.NextBrowsingContextID()
	wv := ids.NewGenerator(ids.ConstellationNamespace).NextWebViewID()

	msgs := []any{
		LaunchPipeline{
			Pipeline:  child,
			Context:   ctx,
			WebView:   wv,
			Namespace: 9,
			URL:       "https://example.test/?iframes=2",
			Viewport:  browser.Viewport{Width: 800, Height: 600, DeviceScaleFactor: 2},
			Throttled: true,
		},
		ScriptNewIFrame{Parent: parent, Context: ctx, Pipeline: child, URL: "about:blank"},
		ReadinessEpoch{Query: 42, Pipeline: parent, Epoch: 17},
		DisplayListReceived{WebView: wv, Pipeline: parent, Epoch: 3},
		ExitPipeline{Pipeline: child},
		SetThrottled{Pipeline: child, Throttled: false},
	}

	for _, msg := range msgs {
		t.Run(Name(msg), func(t *testing.T) {
			data, err := Encode(msg)
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, msg, got)
		})
	}
}

func TestCodec_LocalOnlyMessagesAreRejected(t *testing.T) {
	_, err := Encode(PipelineExited{Ack: NewAck(nil)})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCodec))

	_, err = Encode(Dispatch{})
	assert.Error(t, err)
}

func TestCodec_SkipsUnknownFields(t *testing.T) {
	data, err := Encode(ClosePipeline{Pipeline: ids.NewGenerator(3).NextPipelineID()})
	require.NoError(t, err)

	data = protowire.AppendTag(data, 99, protowire.BytesType)
	data = protowire.AppendString(data, "from a newer peer")

	got, err := Decode(data)
	require.NoError(t, err)
	assert.IsType(t, ClosePipeline{}, got)
}

func TestCodec_Malformed(t *testing.T) {
	_, err := Decode([]byte{0x08})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCodec))

	var unknownKind []byte
	unknownKind = protowire.AppendTag(unknownKind, fieldKind, protowire.VarintType)
	unknownKind = protowire.AppendVarint(unknownKind, 999)
	_, err = Decode(unknownKind)
	assert.Error(t, err)
}
