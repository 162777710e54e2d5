package protocol

import "github.com/harun/mediagate/pkg/recording"

// Reply types sent to producers.
const (
	ReplyStartAck       = "start_ack"
	ReplyEndAck         = "end_ack"
	ReplyError          = "error"
	ReplySinkError      = "sink_error"
	ReplyTranscodeError = "transcode_error"
)

// StartAck confirms a started recording.
type StartAck struct {
	Type   string `json:"type"`
	FileID string `json:"fileId"`
}

// EndAck reports a finished, encoded recording.
type EndAck struct {
	Type     string            `json:"type"`
	FilePath string            `json:"filePath"`
	Metadata map[string]string `json:"metadata"`
}

// ErrorReply reports a rejected frame.
type ErrorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SinkErrorReply reports a failed disk write for a recording.
type SinkErrorReply struct {
	Type       string               `json:"type"`
	StreamType recording.StreamKind `json:"streamType"`
	FileID     string               `json:"fileId"`
	Message    string               `json:"message"`
}

// TranscodeErrorReply reports a failed encode. The raw file is kept.
type TranscodeErrorReply struct {
	Type    string `json:"type"`
	FileID  string `json:"fileId"`
	Message string `json:"message"`
}

func NewStartAck(fileID string) StartAck {
	return StartAck{Type: ReplyStartAck, FileID: fileID}
}

func NewEndAck(filePath string, metadata map[string]string) EndAck {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return EndAck{Type: ReplyEndAck, FilePath: filePath, Metadata: metadata}
}

func NewErrorReply(message string) ErrorReply {
	return ErrorReply{Type: ReplyError, Message: message}
}

func NewSinkErrorReply(kind recording.StreamKind, fileID, message string) SinkErrorReply {
	return SinkErrorReply{Type: ReplySinkError, StreamType: kind, FileID: fileID, Message: message}
}

func NewTranscodeErrorReply(fileID, message string) TranscodeErrorReply {
	return TranscodeErrorReply{Type: ReplyTranscodeError, FileID: fileID, Message: message}
}
