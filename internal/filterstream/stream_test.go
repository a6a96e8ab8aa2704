package filterstream

import (
	"encoding/base64"
	"testing"

	"github.com/softprobe/sp-istio-wasm-go/internal/backend"
	"github.com/softprobe/sp-istio-wasm-go/internal/hostabi"
	"github.com/softprobe/sp-istio-wasm-go/internal/spconfig"
	"github.com/softprobe/sp-istio-wasm-go/internal/splog"
)

type fakeSink struct {
	spans [][]byte
}

func (f *fakeSink) EnqueueSpan(b []byte) { f.spans = append(f.spans, b) }

func testStream(t *testing.T, replayEnabled bool) (*Stream, *hostabi.FakeHost, *fakeSink) {
	t.Helper()
	host := hostabi.NewFakeHost()
	cfg := &spconfig.Config{
		Direction:            spconfig.DirectionOutbound,
		ReplayEnabled:        replayEnabled,
		ServiceName:          "checkout",
		MaxRequestBodyBytes:  1024,
		MaxResponseBodyBytes: 1024,
		BackendURL:           "http://backend.local",
		BackendCluster:       "backend-cluster",
		BackendTimeoutMs:     2000,
	}
	client, err := backend.New(host, cfg, splog.New(host, false))
	if err != nil {
		t.Fatalf("backend.New() error = %v", err)
	}
	sink := &fakeSink{}
	s := New(host, cfg, client, splog.New(host, false), sink, 1000)
	return s, host, sink
}

func TestCaptureNoReplayEncodesSpanAtResponseEnd(t *testing.T) {
	s, host, sink := testStream(t, false)
	host.RequestHeaders = []hostabi.HeaderPair{
		{":method", "GET"}, {":scheme", "http"}, {":authority", "svc"}, {":path", "/a"},
	}

	if action := s.OnRequestHeaders(true); action != hostabi.ActionContinue {
		t.Fatalf("OnRequestHeaders() = %v, want Continue", action)
	}
	if _, ok := host.ReplacedHeaders["traceparent"]; !ok {
		t.Error("expected traceparent to be injected")
	}

	host.ResponseHeaders = []hostabi.HeaderPair{{":status", "200"}}
	if action := s.OnResponseHeaders(false); action != hostabi.ActionContinue {
		t.Fatalf("OnResponseHeaders() = %v, want Continue", action)
	}
	if action := s.OnResponseBody([]byte("ok"), true); action != hostabi.ActionContinue {
		t.Fatalf("OnResponseBody() = %v, want Continue", action)
	}

	if len(sink.spans) != 1 {
		t.Fatalf("expected one span enqueued, got %d", len(sink.spans))
	}
	if len(host.SentReplies) != 0 {
		t.Error("expected no local reply for a non-replay stream")
	}
}

func TestReplayHitSendsLocalReplyAndEncodesImmediately(t *testing.T) {
	s, host, sink := testStream(t, true)
	host.RequestHeaders = []hostabi.HeaderPair{
		{":method", "POST"}, {":scheme", "http"}, {":authority", "svc"}, {":path", "/b"},
	}

	if action := s.OnRequestHeaders(false); action != hostabi.ActionPause {
		t.Fatalf("OnRequestHeaders() = %v, want Pause", action)
	}
	if action := s.OnRequestBody([]byte(`{"q":1}`), true); action != hostabi.ActionPause {
		t.Fatalf("OnRequestBody() = %v, want Pause", action)
	}
	if len(host.PendingDispatches) != 1 {
		t.Fatalf("expected one lookup dispatch, got %d", len(host.PendingDispatches))
	}

	host.ResolveDispatch(host.PendingDispatches[0].Token, hostabi.DispatchResponse{
		Status: 200,
		Body:   []byte(`{"status":200,"body":"` + base64.StdEncoding.EncodeToString([]byte("cached-body")) + `"}`),
	})

	if len(host.SentReplies) != 1 {
		t.Fatalf("expected one local reply, got %d", len(host.SentReplies))
	}
	if host.ResumedRequests != 0 {
		t.Error("a replay hit should never resume the request upstream")
	}
	if len(sink.spans) != 1 {
		t.Fatalf("expected one span enqueued on replay hit, got %d", len(sink.spans))
	}
}

func TestReplayMissResumesRequestAndCapturesLiveResponse(t *testing.T) {
	s, host, sink := testStream(t, true)
	host.RequestHeaders = []hostabi.HeaderPair{
		{":method", "POST"}, {":scheme", "http"}, {":authority", "svc"}, {":path", "/c"},
	}

	s.OnRequestHeaders(false)
	s.OnRequestBody([]byte(`{}`), true)
	host.ResolveDispatch(host.PendingDispatches[0].Token, hostabi.DispatchResponse{Status: 404})

	if host.ResumedRequests != 1 {
		t.Fatalf("expected request resumed once on miss, got %d", host.ResumedRequests)
	}

	host.ResponseHeaders = []hostabi.HeaderPair{{":status", "200"}}
	s.OnResponseHeaders(false)
	s.OnResponseBody([]byte("live"), true)

	if len(sink.spans) != 1 {
		t.Fatalf("expected one span after miss + live response, got %d", len(sink.spans))
	}
	if len(host.SentReplies) != 0 {
		t.Error("a replay miss should never synthesize a local reply")
	}
}

func TestOversizeRequestBodyDisablesReplayAndResumes(t *testing.T) {
	s, host, _ := testStream(t, true)
	host.RequestHeaders = []hostabi.HeaderPair{
		{":method", "POST"}, {":scheme", "http"}, {":authority", "svc"}, {":path", "/d"},
	}
	s.OnRequestHeaders(false)

	big := make([]byte, 2000) // exceeds the 1024 cap
	s.OnRequestBody(big, false)

	if host.ResumedRequests != 1 {
		t.Fatalf("expected request resumed once after cap exceeded, got %d", host.ResumedRequests)
	}
	if len(host.PendingDispatches) != 0 {
		t.Error("expected no lookup dispatch once the body exceeded the cap")
	}
	if s.state != stateForwarding {
		t.Errorf("state = %v, want forwarding", s.state)
	}
}

func TestTraceparentPropagatesParentFromInboundHeader(t *testing.T) {
	s, host, _ := testStream(t, false)
	host.RequestHeaders = []hostabi.HeaderPair{
		{":method", "GET"}, {":scheme", "http"}, {":authority", "svc"}, {":path", "/e"},
		{"traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"},
	}
	s.OnRequestHeaders(true)

	if !s.trace.ParentSpanID.IsValid() {
		t.Fatal("expected extracted trace context to carry a parent span")
	}
	if s.trace.TraceID.String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("TraceID = %s, want inbound trace id preserved", s.trace.TraceID.String())
	}
	injected := host.ReplacedHeaders["traceparent"]
	if injected == "" {
		t.Fatal("expected traceparent re-injected with this hop's span id")
	}
}

func TestOrphanedLookupCallbackAfterTeardownIsIgnored(t *testing.T) {
	s, host, sink := testStream(t, true)
	host.RequestHeaders = []hostabi.HeaderPair{
		{":method", "POST"}, {":scheme", "http"}, {":authority", "svc"}, {":path", "/f"},
	}
	s.OnRequestHeaders(false)
	s.OnRequestBody([]byte(`{}`), true)

	token := host.PendingDispatches[0].Token
	s.OnStreamDone()
	if len(sink.spans) != 1 {
		t.Fatalf("expected a best-effort span built at teardown, got %d", len(sink.spans))
	}

	host.ResolveDispatch(token, hostabi.DispatchResponse{Status: 200, Body: []byte(`{"status":200}`)})

	if len(host.SentReplies) != 0 {
		t.Error("expected no local reply from a lookup resolved after teardown")
	}
	if len(sink.spans) != 1 {
		t.Error("an orphaned lookup result must not encode a second span")
	}
}
