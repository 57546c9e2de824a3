// Package rsyncstats holds the end-of-transfer statistics exchanged between
// sender and receiver (rsync/main.c:report).
package rsyncstats

// TransferStats reports the counters rsync prints at the end of a run: the
// number of bytes that crossed the wire in each direction, and the total
// size of the files transferred.
type TransferStats struct {
	Read    int64 // bytes read from the network connection
	Written int64 // bytes written to the network connection
	Size    int64 // total size of files in the transfer
}
