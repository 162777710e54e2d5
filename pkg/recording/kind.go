package recording

import (
	"fmt"
	"strings"
)

// StreamKind is the logical category of a stream within one connection.
type StreamKind uint8

const (
	Camera StreamKind = iota
	Screen
)

var kindNames = []string{
	Camera: "camera",
	Screen: "screen",
}

// Kinds returns every known stream kind in discriminator order.
func Kinds() []StreamKind {
	kinds := make([]StreamKind, len(kindNames))
	for i := range kindNames {
		kinds[i] = StreamKind(i)
	}
	return kinds
}

// KindNames returns the wire names of every known stream kind.
func KindNames() []string {
	return append([]string(nil), kindNames...)
}

// ParseStreamKind maps a wire name ("camera", "screen") to a StreamKind.
func ParseStreamKind(name string) (StreamKind, error) {
	for i, n := range kindNames {
		if n == name {
			return StreamKind(i), nil
		}
	}
	return 0, fmt.Errorf("invalid streamType: %q (must be one of: %s)", name, strings.Join(kindNames, ", "))
}

// KindFromByte maps a binary frame discriminator to a StreamKind.
func KindFromByte(b byte) (StreamKind, error) {
	if int(b) >= len(kindNames) {
		return 0, fmt.Errorf("invalid stream discriminator: %d", b)
	}
	return StreamKind(b), nil
}

// Byte returns the binary frame discriminator for k.
func (k StreamKind) Byte() byte {
	return byte(k)
}

// Valid reports whether k is a known stream kind.
func (k StreamKind) Valid() bool {
	return int(k) < len(kindNames)
}

func (k StreamKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// MarshalText implements encoding.TextMarshaler.
func (k StreamKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid stream kind: %d", uint8(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *StreamKind) UnmarshalText(text []byte) error {
	parsed, err := ParseStreamKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
