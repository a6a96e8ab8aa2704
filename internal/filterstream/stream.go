// Package filterstream implements the central per-request state machine
// (spec.md §4.6, §4.8): it owns a stream's buffers, runs the rule matcher
// and trace-context handler, drives the optional replay lookup, and builds
// and enqueues the span at end-of-stream.
//
// Every method here runs on the proxy's single worker thread for this
// stream (spec.md §5) — no locking, no goroutines. Async work (the replay
// lookup dispatch) is expressed exactly as spec.md §9 describes: submit,
// store a continuation closure, return Pause; the closure re-enters the
// state machine later when the host invokes it.
package filterstream

import (
	"strconv"
	"strings"

	"github.com/softprobe/sp-istio-wasm-go/internal/backend"
	"github.com/softprobe/sp-istio-wasm-go/internal/bodycap"
	"github.com/softprobe/sp-istio-wasm-go/internal/hostabi"
	"github.com/softprobe/sp-istio-wasm-go/internal/rules"
	"github.com/softprobe/sp-istio-wasm-go/internal/spanenc"
	"github.com/softprobe/sp-istio-wasm-go/internal/spconfig"
	"github.com/softprobe/sp-istio-wasm-go/internal/splog"
	"github.com/softprobe/sp-istio-wasm-go/internal/tracecontext"
	"github.com/softprobe/sp-istio-wasm-go/internal/util"
)

// state is the replay state machine from spec.md §4.6's state table. Every
// stream starts IDLE; streams with no replay verdict skip straight to
// FORWARDING.
type state int

const (
	stateIdle state = iota
	stateAwaitBody
	stateLookupInflight
	stateForwarding
	stateReplayed
	stateDone
)

// SpanSink receives a stream's encoded span at end-of-stream. Implemented
// by pluginroot.Root; kept as an interface here so this package never
// imports pluginroot (which imports this package to construct streams).
type SpanSink interface {
	EnqueueSpan(encoded []byte)
}

// Stream is one per-request transaction: created on request-headers,
// destroyed on stream-end (spec.md §3).
type Stream struct {
	host   hostabi.Host
	cfg    *spconfig.Config
	client *backend.Client
	log    *splog.Logger
	sink   SpanSink

	state state
	torn  bool // set by OnStreamDone; guards orphaned dispatch callbacks

	startUnixNano int64
	endUnixNano   int64

	trace   tracecontext.Context
	verdict rules.Verdict
	replay  spanenc.ReplayVerdict

	reqMeta  spanenc.RequestMeta
	respMeta spanenc.ResponseMeta

	reqBuf  *bodycap.Buffer
	respBuf *bodycap.Buffer

	spanEncoded bool
}

// New constructs a fresh Stream. startUnixNano is the request-headers wall
// clock, read once by the caller from the host's clock (spec.md §4.7:
// "request-headers wall-clock as start").
func New(host hostabi.Host, cfg *spconfig.Config, client *backend.Client, log *splog.Logger, sink SpanSink, startUnixNano int64) *Stream {
	return &Stream{
		host:          host,
		cfg:           cfg,
		client:        client,
		log:           log,
		sink:          sink,
		state:         stateIdle,
		replay:        spanenc.ReplayNA,
		startUnixNano: startUnixNano,
	}
}

// OnRequestHeaders is callback 1 of 5 (spec.md §4.8): snapshot headers, run
// the rule matcher, run the trace-context handler, decide the replay
// branch. endOfStream is true for a request with no body (a GET, most
// commonly) — there the lookup, if any, dispatches immediately, since no
// OnRequestBody call will ever follow.
func (s *Stream) OnRequestHeaders(endOfStream bool) hostabi.Action {
	headers, err := s.host.GetRequestHeaders()
	if err != nil {
		s.log.Errorf("get request headers failed: %v", err)
		s.verdict = rules.Verdict{}
		s.state = stateForwarding
		return hostabi.ActionContinue
	}

	method := header(headers, ":method")
	scheme := header(headers, ":scheme")
	authority := header(headers, ":authority")
	rawPath := util.ExtractURLPath(header(headers, ":path"))
	matchPath, _ := util.SplitPathQuery(rawPath)

	s.reqMeta = spanenc.RequestMeta{
		Method:  method,
		Scheme:  scheme,
		Host:    authority,
		Target:  rawPath,
		Headers: toSpanHeaders(headers),
	}

	traceparent := header(headers, "traceparent")
	tracestate := header(headers, "tracestate")
	s.trace = tracecontext.ExtractOrGenerate(traceparent, tracestate)
	if err := s.host.ReplaceRequestHeader("traceparent", tracecontext.Serialize(s.trace)); err != nil {
		s.log.Warnf("failed to inject traceparent: %v", err)
	}

	s.verdict = rules.Classify(s.cfg.ActiveRuleSet(), s.cfg.ReplayEnabled, authority, matchPath, method)
	s.reqBuf = bodycap.New(s.cfg.MaxRequestBodyBytes)
	s.respBuf = bodycap.New(s.cfg.MaxResponseBodyBytes)

	if !s.verdict.Replay {
		s.state = stateForwarding
		return hostabi.ActionContinue
	}
	s.state = stateAwaitBody
	if endOfStream {
		s.dispatchLookup()
	}
	return hostabi.ActionPause
}

// OnRequestBody is callback 2 of 5: append under cap; on end-of-stream in
// the replay branch, dispatch the lookup.
func (s *Stream) OnRequestBody(chunk []byte, endOfStream bool) hostabi.Action {
	if !s.verdict.Capture {
		return hostabi.ActionContinue
	}
	s.reqBuf.Append(chunk)

	if s.state != stateAwaitBody {
		return hostabi.ActionContinue
	}

	if s.reqBuf.Truncated() {
		// Body exceeded the cap before end-of-stream: replay is disabled
		// for this stream (spec.md §4.6 edge case), capture continues.
		s.state = stateForwarding
		if err := s.host.ResumeRequest(); err != nil {
			s.log.Warnf("resume request failed: %v", err)
		}
		return hostabi.ActionContinue
	}
	if !endOfStream {
		return hostabi.ActionPause
	}

	s.dispatchLookup()
	return hostabi.ActionPause
}

func (s *Stream) dispatchLookup() {
	req := backend.LookupRequest{
		Method:  s.reqMeta.Method,
		Path:    s.reqMeta.Target,
		Headers: fromSpanHeaders(s.reqMeta.Headers),
		Body:    s.reqBuf.Bytes(),
	}
	_, err := s.client.Lookup(req, s.onLookupResult)
	if err != nil {
		s.log.Errorf("lookup dispatch failed: %v", err)
		s.state = stateForwarding
		if rerr := s.host.ResumeRequest(); rerr != nil {
			s.log.Warnf("resume request failed: %v", rerr)
		}
		return
	}
	s.state = stateLookupInflight
}

// onLookupResult is the lookup dispatch continuation (spec.md §4.6 step 3).
// A stream torn down before the backend answers discards the result
// silently — the unknown-/orphaned-token rule from spec.md §4.5 and §5.
func (s *Stream) onLookupResult(result backend.LookupResult) {
	if s.torn {
		return
	}
	if !result.Hit {
		s.replay = spanenc.ReplayMiss
		s.state = stateForwarding
		if err := s.host.ResumeRequest(); err != nil {
			s.log.Warnf("resume request failed: %v", err)
		}
		return
	}

	s.replay = spanenc.ReplayHit
	s.respMeta = spanenc.ResponseMeta{
		StatusCode: result.Status,
		Headers:    toSpanHeaders(result.Headers),
	}
	s.respBuf = bodycap.New(s.cfg.MaxResponseBodyBytes)
	s.respBuf.Append(result.Body)
	s.state = stateReplayed

	if err := s.host.SendLocalReply(result.Status, result.Headers, result.Body); err != nil {
		s.log.Errorf("send local reply failed: %v", err)
	}
	s.buildAndEnqueueSpan()
}

// OnResponseHeaders is callback 3 of 5: snapshot status and headers.
// endOfStream is true for a response with no body — there span building
// happens here, since no OnResponseBody call will ever follow.
func (s *Stream) OnResponseHeaders(endOfStream bool) hostabi.Action {
	if s.state == stateReplayed || !s.verdict.Capture {
		return hostabi.ActionContinue
	}
	headers, err := s.host.GetResponseHeaders()
	if err != nil {
		s.log.Errorf("get response headers failed: %v", err)
		return hostabi.ActionContinue
	}
	status, _ := strconv.Atoi(header(headers, ":status"))
	s.respMeta = spanenc.ResponseMeta{
		StatusCode: status,
		Headers:    toSpanHeaders(headers),
	}
	if endOfStream {
		if trailers, err := s.host.GetResponseTrailers(); err == nil {
			s.respMeta.Trailers = toSpanHeaders(trailers)
		}
		s.buildAndEnqueueSpan()
	}
	return hostabi.ActionContinue
}

// OnResponseBody is callback 4 of 5: append under cap; on end-of-stream,
// build and enqueue the span.
func (s *Stream) OnResponseBody(chunk []byte, endOfStream bool) hostabi.Action {
	if s.state == stateReplayed || !s.verdict.Capture {
		return hostabi.ActionContinue
	}
	s.respBuf.Append(chunk)
	if endOfStream {
		if trailers, err := s.host.GetResponseTrailers(); err == nil {
			s.respMeta.Trailers = toSpanHeaders(trailers)
		}
		s.buildAndEnqueueSpan()
	}
	return hostabi.ActionContinue
}

// OnStreamDone is callback 5 of 5: drop the per-stream object. If the
// stream never reached a response end-of-stream (client disconnect,
// upstream reset), this is the last chance to emit a best-effort span —
// capture is best-effort by design (spec.md §7).
func (s *Stream) OnStreamDone() {
	s.torn = true
	s.buildAndEnqueueSpan()
}

// buildAndEnqueueSpan is idempotent: the first caller to reach it (a
// replay hit, a normal response end-of-stream, or a best-effort
// OnStreamDone) wins; later calls are no-ops.
func (s *Stream) buildAndEnqueueSpan() {
	if s.spanEncoded || !s.verdict.Capture {
		return
	}
	s.spanEncoded = true
	s.state = stateDone

	if end, err := s.host.GetCurrentTimeNanoseconds(); err == nil {
		s.endUnixNano = end
	}

	in := spanenc.SpanInput{
		TraceID:       s.trace.TraceID,
		SpanID:        s.trace.SpanID,
		ParentSpanID:  s.trace.ParentSpanID,
		TraceState:    s.trace.TraceState,
		Inbound:       s.cfg.Direction == spconfig.DirectionInbound,
		StartUnixNano: uint64(s.startUnixNano),
		EndUnixNano:   uint64(s.endUnixNano),
		Request: spanenc.RequestMeta{
			Method:    s.reqMeta.Method,
			Scheme:    s.reqMeta.Scheme,
			Host:      s.reqMeta.Host,
			Target:    s.reqMeta.Target,
			Headers:   s.reqMeta.Headers,
			BodySize:  s.reqBuf.Size(),
			Body:      s.reqBuf.Bytes(),
			Truncated: s.reqBuf.Truncated(),
		},
		Response: spanenc.ResponseMeta{
			StatusCode: s.respMeta.StatusCode,
			Headers:    s.respMeta.Headers,
			Trailers:   s.respMeta.Trailers,
			BodySize:   s.respBufSize(),
			Body:       s.respBufBytes(),
			Truncated:  s.respBufTruncated(),
		},
		Replay: s.replay,
		Service: spanenc.ServiceIdentity{
			ServiceName: s.cfg.ServiceName,
		},
	}

	encoded, err := spanenc.EncodeResourceSpans(in)
	if err != nil {
		s.log.Errorf("span encode failed: %v", err)
		return
	}
	s.sink.EnqueueSpan(encoded)
}

func (s *Stream) respBufSize() int {
	if s.respBuf == nil {
		return 0
	}
	return s.respBuf.Size()
}

func (s *Stream) respBufBytes() []byte {
	if s.respBuf == nil {
		return nil
	}
	return s.respBuf.Bytes()
}

func (s *Stream) respBufTruncated() bool {
	if s.respBuf == nil {
		return false
	}
	return s.respBuf.Truncated()
}

func header(headers []hostabi.HeaderPair, name string) string {
	for _, kv := range headers {
		if strings.EqualFold(kv[0], name) {
			return kv[1]
		}
	}
	return ""
}

// toSpanHeaders converts host header pairs into span attribute headers,
// dropping HTTP/2-style pseudo-headers (":method", ":status", ...) — those
// are surfaced as their own named attributes, not under the
// http.*.header.* namespace.
func toSpanHeaders(headers []hostabi.HeaderPair) []spanenc.HeaderPair {
	if len(headers) == 0 {
		return nil
	}
	out := make([]spanenc.HeaderPair, 0, len(headers))
	for _, kv := range headers {
		if strings.HasPrefix(kv[0], ":") {
			continue
		}
		out = append(out, spanenc.HeaderPair{kv[0], kv[1]})
	}
	return out
}

func fromSpanHeaders(headers []spanenc.HeaderPair) []hostabi.HeaderPair {
	if len(headers) == 0 {
		return nil
	}
	out := make([]hostabi.HeaderPair, len(headers))
	for i, kv := range headers {
		out[i] = hostabi.HeaderPair{kv[0], kv[1]}
	}
	return out
}
