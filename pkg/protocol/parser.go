package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/mediagate/pkg/recording"
	"github.com/xeipuuv/gojsonschema"
)

const genericMessage = "Error processing your message."

// Profile is the binary framing convention of a connection.
type Profile int

const (
	// ProfileTagged frames end with a one-byte stream kind discriminator.
	ProfileTagged Profile = iota
	// ProfilePlain frames are bare media bytes for the connection's declared kind.
	ProfilePlain
)

// ParseProfile maps the query parameter value to a Profile. The empty
// string selects ProfileTagged.
func ParseProfile(name string) (Profile, error) {
	switch name {
	case "", "tagged":
		return ProfileTagged, nil
	case "plain":
		return ProfilePlain, nil
	default:
		return 0, fmt.Errorf("unknown profile: %q (must be one of: tagged, plain)", name)
	}
}

func (p Profile) String() string {
	if p == ProfilePlain {
		return "plain"
	}
	return "tagged"
}

// BinaryOptions tells the parser how to attribute binary frames.
type BinaryOptions struct {
	Profile Profile
	// Kind is the stream binary frames belong to under ProfilePlain.
	Kind recording.StreamKind
}

type controlMessage struct {
	Type          string   `json:"type"`
	StreamType    string   `json:"streamType"`
	Chunk         *string  `json:"chunk"`
	VideoMetadata Metadata `json:"videoMetadata"`
	Metadata      Metadata `json:"metadata"`
}

// Parser decodes inbound frames. It is safe for concurrent use.
type Parser struct {
	schema *gojsonschema.Schema
}

// NewParser compiles the control frame schema.
func NewParser() (*Parser, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(ControlSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile control schema: %w", err)
	}
	return &Parser{schema: schema}, nil
}

// ParseText decodes a JSON control frame.
func (p *Parser) ParseText(data []byte) (Frame, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, protocolError(err, genericMessage)
	}

	switch envelope.Type {
	case TypeStart, TypeData, TypeEnd:
	case "":
		return nil, validationError(nil, "Missing message type")
	default:
		return nil, protocolError(nil, "Unknown message type: %s", envelope.Type)
	}

	if err := p.validate(data); err != nil {
		return nil, err
	}

	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, validationError(err, "Invalid %s message", envelope.Type)
	}

	kind, err := recording.ParseStreamKind(msg.StreamType)
	if err != nil {
		return nil, validationError(nil, "Invalid streamType: %s", msg.StreamType)
	}

	switch msg.Type {
	case TypeStart:
		return &StartFrame{Kind: kind, VideoMetadata: msg.VideoMetadata}, nil
	case TypeData:
		if msg.Chunk == nil {
			return nil, validationError(nil, "Missing chunk for %s stream", kind)
		}
		chunk, err := decodeChunk(*msg.Chunk)
		if err != nil {
			return nil, validationError(err, "Error processing chunk for %s", kind)
		}
		return &DataFrame{Kind: kind, Chunk: chunk, Metadata: msg.Metadata}, nil
	default:
		return &EndFrame{Kind: kind, Metadata: msg.Metadata}, nil
	}
}

func (p *Parser) validate(data []byte) error {
	result, err := p.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return protocolError(err, genericMessage)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", re.Field(), re.Description()))
	}
	return validationError(nil, "Invalid message: %s", strings.Join(problems, "; "))
}

// decodeChunk accepts standard base64, with or without padding, optionally
// prefixed by a data URL header.
func decodeChunk(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	if strings.HasSuffix(s, "=") || len(s)%4 == 0 {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// ParseBinary decodes a binary chunk frame.
func (p *Parser) ParseBinary(data []byte, opts BinaryOptions) (Frame, error) {
	if opts.Profile == ProfilePlain {
		return &ChunkFrame{Kind: opts.Kind, Chunk: data}, nil
	}

	if len(data) == 0 {
		return nil, validationError(nil, "Empty binary frame")
	}

	last := len(data) - 1
	kind, err := recording.KindFromByte(data[last])
	if err != nil {
		return nil, validationError(err, "Invalid stream discriminator: %d", data[last])
	}
	return &ChunkFrame{Kind: kind, Chunk: data[:last]}, nil
}
