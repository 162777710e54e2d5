// Package commandqueue provides lane-based task execution with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane start in submission order.
// - A lane never runs more tasks at once than its concurrency limit.
// - Tasks in different lanes may execute concurrently.
// - Queue activity is observable through metrics.
//
// The ingest gateway uses one lane per recording session for sink writes
// (concurrency 1, so bytes land in arrival order) and a shared
// "transcode" lane whose concurrency bounds simultaneous encoder processes.
//
// Usage:
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	done := queue.Submit(ctx, "sink:abc", func(ctx context.Context) (interface{}, error) {
//		return nil, sink.Write(data)
//	}, nil)
//	res := <-done
package commandqueue
