package gateway

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/harun/mediagate/internal/observability"
	"github.com/harun/mediagate/internal/tracing"
	"github.com/harun/mediagate/pkg/finalizer"
	"github.com/harun/mediagate/pkg/protocol"
	"github.com/harun/mediagate/pkg/recording"
)

// handleMessage parses one inbound frame and dispatches it.
func (s *Server) handleMessage(client *Client, messageType int, message []byte) {
	var (
		frame protocol.Frame
		err   error
	)
	switch messageType {
	case websocket.TextMessage:
		frame, err = s.parser.ParseText(message)
	case websocket.BinaryMessage:
		frame, err = s.parser.ParseBinary(message, client.Binary)
	default:
		return
	}
	if err != nil {
		s.rejectFrame(client, err)
		return
	}

	switch f := frame.(type) {
	case *protocol.StartFrame:
		s.handleStart(client, f)
	case *protocol.DataFrame:
		s.handleChunk(client, f.Kind, f.Chunk, f.Metadata)
	case *protocol.ChunkFrame:
		s.handleChunk(client, f.Kind, f.Chunk, nil)
	case *protocol.EndFrame:
		s.handleEnd(client, f)
	default:
		s.rejectFrame(client, fmt.Errorf("unhandled frame %T", frame))
	}
}

func (s *Server) rejectFrame(client *Client, err error) {
	observability.RecordFrameError(protocol.ErrorClass(err))
	logger := tracing.LoggerFromContext(client.ctx, s.logger)
	logger.Debug().Err(err).Msg("Rejected frame")
	s.sendError(client, protocol.ErrorMessage(err))
}

func (s *Server) handleStart(client *Client, frame *protocol.StartFrame) {
	key := recording.Key{ConnID: client.ID, Kind: frame.Kind}
	logger := tracing.LoggerFromContext(client.ctx, s.logger)

	if _, exists := s.recordings.Get(key); !exists {
		if allowed, reason := client.limiter.Allow(); !allowed {
			observability.RecordFrameError("limit")
			logger.Warn().
				Str("stream_kind", frame.Kind.String()).
				Str("reason", reason).
				Msg("Recording start refused")
			s.sendError(client, fmt.Sprintf("Cannot start %s recording: %s", frame.Kind, reason))
			return
		}
	}

	session, err := s.recordings.Start(client.ctx, key, recording.StartOptions{
		Metadata: frame.VideoMetadata,
		OnWriteError: func(sessionID string, err error) {
			s.send(client, protocol.NewSinkErrorReply(frame.Kind, sessionID, "Failed to write recording to disk"))
		},
	})
	if errors.Is(err, recording.ErrSessionExists) {
		observability.RecordFrameError("validation")
		s.sendError(client, fmt.Sprintf("%s stream already recording", frame.Kind))
		return
	}
	if err != nil {
		logger.Error().Err(err).
			Str("stream_kind", frame.Kind.String()).
			Msg("Failed to start recording")
		s.sendError(client, fmt.Sprintf("Failed to start %s recording", frame.Kind))
		return
	}

	s.send(client, protocol.NewStartAck(session.ID()))
}

func (s *Server) handleChunk(client *Client, kind recording.StreamKind, chunk []byte, metadata map[string]string) {
	key := recording.Key{ConnID: client.ID, Kind: kind}
	if _, err := s.recordings.Append(client.ctx, key, chunk, metadata); err != nil {
		logger := tracing.LoggerFromContext(client.ctx, s.logger)
		logger.Error().Err(err).Msg("Failed to append chunk")
		s.sendError(client, fmt.Sprintf("Error processing chunk for %s", kind))
	}
}

func (s *Server) handleEnd(client *Client, frame *protocol.EndFrame) {
	key := recording.Key{ConnID: client.ID, Kind: frame.Kind}

	drained, err := s.recordings.End(client.ctx, key, frame.Metadata)
	if err != nil {
		observability.RecordFrameError("validation")
		s.sendError(client, fmt.Sprintf("No active %s recording", frame.Kind))
		return
	}

	s.finalizing.Add(1)
	client.limiter.FinishStarted()
	outcome := s.finalizer.Finalize(client.ctx, drained)
	go func() {
		defer s.finalizing.Done()
		defer client.limiter.FinishDone()
		s.deliverOutcome(client, <-outcome)
	}()
}

// deliverOutcome reports a finished recording to its producer if the
// connection is still open.
func (s *Server) deliverOutcome(client *Client, outcome finalizer.Outcome) {
	if client.Closed() {
		return
	}

	switch {
	case outcome.Succeeded():
		s.send(client, protocol.NewEndAck(outcome.Artifact.FinalPath, outcome.Artifact.Metadata))
	case errors.Is(outcome.Err, finalizer.ErrSinkFailed):
		// Already reported through sink_error.
	default:
		s.send(client, protocol.NewTranscodeErrorReply(outcome.Artifact.ID, "Transcoding failed; raw recording kept"))
	}
}
