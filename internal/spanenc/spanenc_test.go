package spanenc

import (
	"bytes"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func sampleInput() SpanInput {
	var tid trace.TraceID
	var sid trace.SpanID
	tid[0] = 0x4b
	sid[0] = 0x00
	sid[1] = 0xf0
	return SpanInput{
		TraceID:       tid,
		SpanID:        sid,
		StartUnixNano: 1000,
		EndUnixNano:   2000,
		Inbound:       false,
		Request: RequestMeta{
			Method: "POST",
			Scheme: "http",
			Host:   "svc",
			Target: "/a",
			Headers: []HeaderPair{
				{"Content-Type", "application/json"},
				{"X-Multi", "a"},
				{"x-multi", "b"},
			},
			BodySize: 7,
			Body:     []byte(`{"k":1}`),
		},
		Response: ResponseMeta{
			StatusCode: 200,
			BodySize:   11,
			Body:       []byte(`{"ok":true}`),
		},
		Replay:  ReplayNA,
		Service: ServiceIdentity{ServiceName: "checkout"},
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	in := sampleInput()
	b1, err := EncodeResourceSpans(in)
	if err != nil {
		t.Fatalf("EncodeResourceSpans() error = %v", err)
	}
	b2, err := EncodeResourceSpans(in)
	if err != nil {
		t.Fatalf("EncodeResourceSpans() error = %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatal("encoding the same input twice produced different bytes")
	}
}

func TestEncodeNonEmpty(t *testing.T) {
	b, err := EncodeResourceSpans(sampleInput())
	if err != nil {
		t.Fatalf("EncodeResourceSpans() error = %v", err)
	}
	if len(b) == 0 {
		t.Fatal("expected non-empty encoded span")
	}
}

func TestSpanKindReflectsDirection(t *testing.T) {
	if spanKind(true) == spanKind(false) {
		t.Fatal("inbound and outbound should map to different span kinds")
	}
}

func TestReplayStringMapping(t *testing.T) {
	cases := map[ReplayVerdict]string{ReplayNA: "n/a", ReplayHit: "true", ReplayMiss: "false"}
	for v, want := range cases {
		if got := replayString(v); got != want {
			t.Errorf("replayString(%v) = %q, want %q", v, got, want)
		}
	}
}

func TestFlattenHeadersJoinsMultiValued(t *testing.T) {
	attrs := flattenHeaders("http.request.header.", []HeaderPair{
		{"X-Multi", "a"},
		{"x-multi", "b"},
	})
	if len(attrs) != 1 {
		t.Fatalf("expected single merged attribute, got %d", len(attrs))
	}
	if attrs[0].Key != "http.request.header.x-multi" {
		t.Errorf("key = %q, want lowercased namespaced key", attrs[0].Key)
	}
}
