// Package catalog persists one row per recording in SQLite so operators can
// find raw and encoded files after the producer has gone away.
//
// Status moves recording -> transcoding -> ready|failed for graceful ends
// and recording -> aborted for dropped connections. Rows left in recording
// or transcoding by a crashed process are repaired by RecoverInterrupted.
package catalog
