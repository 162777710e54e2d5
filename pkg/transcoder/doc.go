// Package transcoder wraps the ffmpeg command line encoder.
//
// Each finished raw recording becomes one Job. Jobs run on the shared
// "transcode" lane of the command queue so the number of concurrent ffmpeg
// processes is bounded by the lane concurrency. A successful run deletes the
// raw input; a failed run keeps it and writes the captured encoder output to
// a ".log" file beside it.
package transcoder
