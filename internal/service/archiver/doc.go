// Package archiver builds the zip archive uploaded for a plugin release.
//
// The source tree is walked by a producer goroutine that queues every file
// not excluded by the ignore patterns; a single writer appends them to the
// archive. The zip central directory is written only after the queue has
// been closed and drained, and the result is reported only after the file
// has been synced and closed.
package archiver
