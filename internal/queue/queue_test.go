package queue

import "testing"

func TestPushWithinWatermark(t *testing.T) {
	q := NewByteQueue(100)
	q.Push([]byte("abc"))
	q.Push([]byte("defgh"))

	if got, want := q.Len(), 2; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	if got, want := q.Bytes(), 8; got != want {
		t.Fatalf("Bytes() = %d, want %d", got, want)
	}
	if got := q.DropCount(); got != 0 {
		t.Fatalf("DropCount() = %d, want 0", got)
	}
}

func TestPushEvictsOldestOnOverflow(t *testing.T) {
	q := NewByteQueue(10)
	q.Push([]byte("12345")) // 5 bytes
	q.Push([]byte("67890")) // 5 bytes, total 10, fits exactly
	q.Push([]byte("abcde")) // 5 bytes, must evict first entry

	if got, want := q.Len(), 2; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	batch := q.PopBatch(2)
	if string(batch[0]) != "67890" || string(batch[1]) != "abcde" {
		t.Fatalf("unexpected surviving entries: %q", batch)
	}
	if got, want := q.DropCount(), int64(1); got != want {
		t.Fatalf("DropCount() = %d, want %d", got, want)
	}
}

func TestPushOversizePayloadDroppedOutright(t *testing.T) {
	q := NewByteQueue(4)
	q.Push([]byte("12345"))

	if got, want := q.Len(), 0; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	if got, want := q.DropCount(), int64(1); got != want {
		t.Fatalf("DropCount() = %d, want %d", got, want)
	}
}

func TestPopBatchRespectsFIFOOrder(t *testing.T) {
	q := NewByteQueue(1000)
	q.Push([]byte("first"))
	q.Push([]byte("second"))
	q.Push([]byte("third"))

	batch := q.PopBatch(2)
	if len(batch) != 2 || string(batch[0]) != "first" || string(batch[1]) != "second" {
		t.Fatalf("unexpected batch: %q", batch)
	}
	if got, want := q.Len(), 1; got != want {
		t.Fatalf("Len() after pop = %d, want %d", got, want)
	}
}

func TestPopBatchOnEmptyQueueReturnsNil(t *testing.T) {
	q := NewByteQueue(100)
	if batch := q.PopBatch(5); batch != nil {
		t.Fatalf("PopBatch() on empty queue = %v, want nil", batch)
	}
}

func TestTakeDropCountResetsToZero(t *testing.T) {
	q := NewByteQueue(4)
	q.Push([]byte("12345"))
	q.Push([]byte("67890"))

	if got := q.TakeDropCount(); got != 2 {
		t.Fatalf("TakeDropCount() = %d, want 2", got)
	}
	if got := q.TakeDropCount(); got != 0 {
		t.Fatalf("TakeDropCount() after reset = %d, want 0", got)
	}
}
