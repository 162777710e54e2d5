// Package protocol defines the frames exchanged with capture producers.
//
// Inbound text frames are JSON control messages decoded into one of
// StartFrame, DataFrame or EndFrame. Inbound binary frames carry raw media
// bytes and decode into ChunkFrame; under the tagged profile the last byte
// names the stream kind (0 camera, 1 screen), under the plain profile the
// kind is fixed per connection.
//
// Parse failures are reported as *Error values whose Kind separates
// malformed or unknown messages (KindProtocol) from well-formed messages
// with invalid content (KindValidation).
package protocol
