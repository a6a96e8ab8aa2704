// queue.go — byte-watermarked FIFO queue of encoded ingestion payloads.
//
// Adapted from the ring buffer the teacher used for bounded network-capture
// storage: same "oldest entries evicted first" discipline, but keyed on
// total bytes rather than slot count, and with the locking stripped out —
// the plugin root and the stream objects that feed it all run on the same
// proxy worker thread, so there is never a concurrent writer to guard
// against (see spec.md §5).
package queue

// ByteQueue is a FIFO of opaque byte payloads bounded by total size rather
// than entry count. When a push would exceed the watermark, the oldest
// entries are dropped until the new entry fits (or, if the new entry alone
// exceeds the watermark, it is dropped instead and counted).
type ByteQueue struct {
	entries    [][]byte
	totalBytes int
	watermark  int
	dropped    int64
}

// NewByteQueue creates a queue bounded by watermarkBytes total payload size.
func NewByteQueue(watermarkBytes int) *ByteQueue {
	return &ByteQueue{watermark: watermarkBytes}
}

// Push appends one encoded payload, evicting oldest entries first if the
// watermark would otherwise be exceeded.
func (q *ByteQueue) Push(payload []byte) {
	if len(payload) > q.watermark {
		q.dropped++
		return
	}
	for len(q.entries) > 0 && q.totalBytes+len(payload) > q.watermark {
		q.evictOldest()
	}
	q.entries = append(q.entries, payload)
	q.totalBytes += len(payload)
}

func (q *ByteQueue) evictOldest() {
	oldest := q.entries[0]
	q.entries = q.entries[1:]
	q.totalBytes -= len(oldest)
	q.dropped++
}

// PopBatch removes and returns up to maxEntries payloads from the head of
// the queue (FIFO order). Returns nil if the queue is empty.
func (q *ByteQueue) PopBatch(maxEntries int) [][]byte {
	if len(q.entries) == 0 || maxEntries <= 0 {
		return nil
	}
	n := maxEntries
	if n > len(q.entries) {
		n = len(q.entries)
	}
	batch := make([][]byte, n)
	copy(batch, q.entries[:n])
	for _, e := range batch {
		q.totalBytes -= len(e)
	}
	q.entries = q.entries[n:]
	return batch
}

// Len returns the number of payloads currently queued.
func (q *ByteQueue) Len() int {
	return len(q.entries)
}

// Bytes returns the total size in bytes of all queued payloads.
func (q *ByteQueue) Bytes() int {
	return q.totalBytes
}

// DropCount returns the number of payloads dropped due to the watermark
// since the last TakeDropCount, without resetting it (does not include
// retry-exhaustion drops — see pluginroot).
func (q *ByteQueue) DropCount() int64 {
	return q.dropped
}

// TakeDropCount returns the drop count accumulated since the last call and
// resets it to zero, so a drop-count span/batch attribute reports only the
// drops since it was last reported rather than an ever-growing total.
func (q *ByteQueue) TakeDropCount() int64 {
	n := q.dropped
	q.dropped = 0
	return n
}
