// Package recording owns the per-stream state of the ingest gateway.
//
// A Session is keyed by (connection id, StreamKind) and holds the stream's
// Sink, its pending chunk Buffer and the metadata merged from the producer.
// The Registry is the only place sessions are created, looked up and
// removed.
//
// Invariants:
//   - At most one Session occupies a Key at any instant.
//   - A Buffer's pending byte count equals the sum of its chunk lengths;
//     flushing hands every pending byte to the sink and resets both.
//   - Sink writes for one session run on their own FIFO lane of the command
//     queue, so bytes reach disk in arrival order without blocking the
//     connection's read loop.
//   - Removing a Session from the Registry happens before its drain completes;
//     a new "start" on the same key never collides with a closing session.
package recording
