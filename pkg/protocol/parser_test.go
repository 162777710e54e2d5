package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/harun/mediagate/pkg/recording"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	p, err := NewParser()
	require.NoError(t, err)
	return p
}

func requireKind(t *testing.T, err error, kind ErrorKind) *Error {
	t.Helper()
	var perr *Error
	require.True(t, errors.As(err, &perr), "expected *protocol.Error, got %v", err)
	assert.Equal(t, kind, perr.Kind)
	return perr
}

func TestParseTextStart(t *testing.T) {
	p := newTestParser(t)

	frame, err := p.ParseText([]byte(`{"type":"start","streamType":"camera","videoMetadata":{"width":1280,"codec":"vp8","audio":true,"skip":null}}`))
	require.NoError(t, err)

	start, ok := frame.(*StartFrame)
	require.True(t, ok)
	assert.Equal(t, recording.Camera, start.Kind)
	assert.Equal(t, Metadata{"width": "1280", "codec": "vp8", "audio": "true"}, start.VideoMetadata)
}

func TestParseTextData(t *testing.T) {
	p := newTestParser(t)

	frame, err := p.ParseText([]byte(`{"type":"data","streamType":"screen","chunk":"AAEC","metadata":{"title":"demo"}}`))
	require.NoError(t, err)

	data, ok := frame.(*DataFrame)
	require.True(t, ok)
	assert.Equal(t, recording.Screen, data.StreamKind())
	assert.Equal(t, []byte{0x00, 0x01, 0x02}, data.Chunk)
	assert.Equal(t, Metadata{"title": "demo"}, data.Metadata)
}

func TestParseTextChunkEncodings(t *testing.T) {
	p := newTestParser(t)

	tests := []struct {
		name  string
		chunk string
		want  []byte
	}{
		{"padded", "AA==", []byte{0x00}},
		{"unpadded", "AA", []byte{0x00}},
		{"data url", "data:video/webm;base64,AQ==", []byte{0x01}},
		{"empty", "", []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := json.Marshal(map[string]string{"type": "data", "streamType": "camera", "chunk": tt.chunk})
			require.NoError(t, err)

			frame, err := p.ParseText(msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, frame.(*DataFrame).Chunk)
		})
	}
}

func TestParseTextEnd(t *testing.T) {
	p := newTestParser(t)

	frame, err := p.ParseText([]byte(`{"type":"end","streamType":"screen"}`))
	require.NoError(t, err)

	end, ok := frame.(*EndFrame)
	require.True(t, ok)
	assert.Equal(t, recording.Screen, end.Kind)
	assert.Nil(t, end.Metadata)
}

func TestParseTextUnknownType(t *testing.T) {
	p := newTestParser(t)

	_, err := p.ParseText([]byte(`{"type":"bogus"}`))
	perr := requireKind(t, err, KindProtocol)
	assert.Equal(t, "Unknown message type: bogus", perr.Message)
	assert.Equal(t, "protocol", ErrorClass(err))
}

func TestParseTextMalformed(t *testing.T) {
	p := newTestParser(t)

	for _, input := range []string{`not json`, `[1,2]`, `{"type":42}`, ``} {
		_, err := p.ParseText([]byte(input))
		perr := requireKind(t, err, KindProtocol)
		assert.Equal(t, genericMessage, perr.Message, input)
	}
}

func TestParseTextValidationErrors(t *testing.T) {
	p := newTestParser(t)

	tests := []struct {
		name     string
		input    string
		contains string
	}{
		{"missing type", `{"streamType":"camera"}`, "Missing message type"},
		{"missing stream type", `{"type":"start"}`, "streamType"},
		{"end without stream type", `{"type":"end"}`, "streamType"},
		{"invalid stream type", `{"type":"start","streamType":"microphone"}`, "Invalid streamType: microphone"},
		{"chunk not a string", `{"type":"data","streamType":"camera","chunk":12}`, "chunk"},
		{"missing chunk", `{"type":"data","streamType":"camera"}`, "Missing chunk for camera stream"},
		{"bad base64", `{"type":"data","streamType":"screen","chunk":"!!!!"}`, "Error processing chunk for screen"},
		{"nested metadata", `{"type":"end","streamType":"camera","metadata":{"a":{"b":1}}}`, "metadata"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ParseText([]byte(tt.input))
			perr := requireKind(t, err, KindValidation)
			assert.Contains(t, perr.Message, tt.contains)
			assert.Contains(t, ErrorMessage(err), tt.contains)
		})
	}
}

func TestParseBinaryTagged(t *testing.T) {
	p := newTestParser(t)

	frame, err := p.ParseBinary([]byte{0xAA, 0xBB, 0x01}, BinaryOptions{Profile: ProfileTagged})
	require.NoError(t, err)
	chunk := frame.(*ChunkFrame)
	assert.Equal(t, recording.Screen, chunk.Kind)
	assert.Equal(t, []byte{0xAA, 0xBB}, chunk.Chunk)

	frame, err = p.ParseBinary([]byte{0x10, 0x00}, BinaryOptions{})
	require.NoError(t, err)
	assert.Equal(t, recording.Camera, frame.StreamKind())

	_, err = p.ParseBinary([]byte{0x10, 0x07}, BinaryOptions{})
	requireKind(t, err, KindValidation)

	_, err = p.ParseBinary(nil, BinaryOptions{})
	requireKind(t, err, KindValidation)
}

func TestParseBinaryPlain(t *testing.T) {
	p := newTestParser(t)

	payload := []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01}
	frame, err := p.ParseBinary(payload, BinaryOptions{Profile: ProfilePlain, Kind: recording.Screen})
	require.NoError(t, err)

	chunk := frame.(*ChunkFrame)
	assert.Equal(t, recording.Screen, chunk.Kind)
	assert.Equal(t, payload, chunk.Chunk, "plain frames keep their last byte")
}

func TestParseProfile(t *testing.T) {
	profile, err := ParseProfile("")
	require.NoError(t, err)
	assert.Equal(t, ProfileTagged, profile)

	profile, err = ParseProfile("plain")
	require.NoError(t, err)
	assert.Equal(t, ProfilePlain, profile)
	assert.Equal(t, "plain", profile.String())

	_, err = ParseProfile("mux")
	assert.Error(t, err)
}

func TestErrorHelpersOnForeignErrors(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, "internal", ErrorClass(err))
	assert.Equal(t, genericMessage, ErrorMessage(err))
}
