package bodycap

import (
	"bytes"
	"testing"
)

func TestAppendUnderCapNotTruncated(t *testing.T) {
	b := New(1024)
	b.Append([]byte("hello"))
	if b.Truncated() {
		t.Error("should not be truncated under cap")
	}
	if b.Size() != 5 {
		t.Errorf("Size() = %d, want 5", b.Size())
	}
	if !bytes.Equal(b.Bytes(), []byte("hello")) {
		t.Errorf("Bytes() = %q, want hello", b.Bytes())
	}
}

func TestAppendExactlyAtCapNotTruncated(t *testing.T) {
	b := New(5)
	b.Append([]byte("hello"))
	if b.Truncated() {
		t.Error("exactly-at-cap body should not be truncated")
	}
	if len(b.Bytes()) != 5 {
		t.Errorf("stored bytes = %d, want 5", len(b.Bytes()))
	}
}

func TestAppendOneByteOverCapTruncates(t *testing.T) {
	b := New(5)
	b.Append([]byte("hellox"))
	if !b.Truncated() {
		t.Error("one byte over cap should truncate")
	}
	if len(b.Bytes()) != 5 {
		t.Errorf("stored bytes = %d, want cap 5", len(b.Bytes()))
	}
	if b.Size() != 6 {
		t.Errorf("Size() = %d, want original 6", b.Size())
	}
}

func TestAppendAcrossMultipleChunks(t *testing.T) {
	b := New(10)
	b.Append([]byte("12345"))
	b.Append([]byte("67890"))
	b.Append([]byte("overflow"))

	if !b.Truncated() {
		t.Error("should be truncated once cumulative size exceeds cap")
	}
	if string(b.Bytes()) != "1234567890" {
		t.Errorf("Bytes() = %q, want 1234567890", b.Bytes())
	}
	if b.Size() != 18 {
		t.Errorf("Size() = %d, want 18", b.Size())
	}
}

func TestEmptyBodyNoTruncation(t *testing.T) {
	b := New(1024)
	if b.Truncated() {
		t.Error("empty body should not be truncated")
	}
	if b.Size() != 0 {
		t.Errorf("Size() = %d, want 0", b.Size())
	}
	if len(b.Bytes()) != 0 {
		t.Errorf("Bytes() should be empty, got %q", b.Bytes())
	}
}
