package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/harun/mediagate/pkg/recording"
)

// Message types of text control frames.
const (
	TypeStart = "start"
	TypeData  = "data"
	TypeEnd   = "end"
)

// Frame is a decoded inbound frame: *StartFrame, *DataFrame, *EndFrame or
// *ChunkFrame.
type Frame interface {
	StreamKind() recording.StreamKind
	frame()
}

// StartFrame opens a recording for a stream kind.
type StartFrame struct {
	Kind          recording.StreamKind
	VideoMetadata Metadata
}

// DataFrame carries one base64 decoded chunk and optional metadata.
type DataFrame struct {
	Kind     recording.StreamKind
	Chunk    []byte
	Metadata Metadata
}

// EndFrame finishes a recording.
type EndFrame struct {
	Kind     recording.StreamKind
	Metadata Metadata
}

// ChunkFrame is a binary frame of raw media bytes.
type ChunkFrame struct {
	Kind  recording.StreamKind
	Chunk []byte
}

func (f *StartFrame) StreamKind() recording.StreamKind { return f.Kind }
func (f *DataFrame) StreamKind() recording.StreamKind  { return f.Kind }
func (f *EndFrame) StreamKind() recording.StreamKind   { return f.Kind }
func (f *ChunkFrame) StreamKind() recording.StreamKind { return f.Kind }

func (*StartFrame) frame() {}
func (*DataFrame) frame()  {}
func (*EndFrame) frame()   {}
func (*ChunkFrame) frame() {}

// Metadata is a flat string map. Producers often send numbers or booleans
// (width, height, hasAudio); those are kept in their JSON text form.
type Metadata map[string]string

// UnmarshalJSON accepts an object of scalar values. Null values are dropped.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = nil
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(Metadata, len(raw))
	for key, value := range raw {
		value = bytes.TrimSpace(value)
		if len(value) == 0 || bytes.Equal(value, []byte("null")) {
			continue
		}
		switch value[0] {
		case '"':
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return fmt.Errorf("metadata %q: %w", key, err)
			}
			out[key] = s
		case '{', '[':
			return fmt.Errorf("metadata %q: nested values are not supported", key)
		default:
			out[key] = string(value)
		}
	}

	*m = out
	return nil
}
