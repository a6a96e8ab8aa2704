// Package spanenc builds one OTLP-conformant span per captured HTTP
// transaction and serializes it to the compact binary wire form the
// backend expects (spec.md §4.7).
//
// Built directly against the public OTLP Go protobuf types,
// go.opentelemetry.io/proto/otlp/{common,resource,trace}/v1, and serialized
// with google.golang.org/protobuf/proto — the only way to produce a
// ResourceSpans/ScopeSpans/Spans tree that is byte-for-byte the real OTLP
// trace schema without hand-rolling the wire format ourselves. This is the
// same stack the rest of the example pack's OTel-adjacent dependencies
// (DataDog-datadog-agent's pkg/otlp, caddyserver-gateway's indirect
// go.opentelemetry.io/otel* requires) point at.
package spanenc

import (
	"sort"
	"strings"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"

	"go.opentelemetry.io/otel/trace"
)

const (
	scopeName    = "sp-istio-wasm-go"
	scopeVersion = "1"
)

// HeaderPair is a single captured header/trailer name-value pair.
type HeaderPair = [2]string

// RequestMeta is the captured request-side metadata span attributes are
// built from.
type RequestMeta struct {
	Method    string
	Scheme    string
	Host      string
	Target    string // path+query
	Headers   []HeaderPair
	BodySize  int
	Body      []byte
	Truncated bool
}

// ResponseMeta is the captured response-side metadata, including trailers.
type ResponseMeta struct {
	StatusCode int
	Headers    []HeaderPair
	Trailers   []HeaderPair
	BodySize   int
	Body       []byte
	Truncated  bool
}

// ServiceIdentity carries the resource-level attributes spec.md §4.7 lists
// "when discoverable from proxy properties".
type ServiceIdentity struct {
	ServiceName      string
	ServiceNamespace string
	HostName         string
	PodName          string
}

// ReplayVerdict mirrors spec.md §4.7's `sp.replay.hit = true|false|n/a`.
type ReplayVerdict int

const (
	ReplayNA ReplayVerdict = iota
	ReplayHit
	ReplayMiss
)

// SpanInput is everything the encoder needs to build one span for one
// captured transaction.
type SpanInput struct {
	TraceID      trace.TraceID
	SpanID       trace.SpanID
	ParentSpanID trace.SpanID // zero value: no parent
	TraceState   string

	Inbound bool // true => SERVER kind, false => CLIENT

	StartUnixNano uint64
	EndUnixNano   uint64

	Request  RequestMeta
	Response ResponseMeta
	Replay   ReplayVerdict

	Service ServiceIdentity
}

// EncodeResourceSpans builds a single-span ResourceSpans tree from in and
// serializes it with the standard OTLP protobuf wire format. Calling this
// twice with an equal SpanInput produces byte-identical output (spec.md
// §8's determinism property) because every header map is walked in sorted
// key order before being flattened into attributes.
func EncodeResourceSpans(in SpanInput) ([]byte, error) {
	span := &tracepb.Span{
		TraceId:           traceIDBytes(in.TraceID),
		SpanId:            spanIDBytes(in.SpanID),
		TraceState:        in.TraceState,
		Name:              spanName(in.Request.Method),
		Kind:              spanKind(in.Inbound),
		StartTimeUnixNano: in.StartUnixNano,
		EndTimeUnixNano:   in.EndUnixNano,
		Attributes:        buildAttributes(in),
	}
	if in.ParentSpanID.IsValid() {
		span.ParentSpanId = spanIDBytes(in.ParentSpanID)
	}

	resourceSpans := &tracepb.ResourceSpans{
		Resource: &resourcepb.Resource{
			Attributes: buildResourceAttributes(in.Service),
		},
		ScopeSpans: []*tracepb.ScopeSpans{
			{
				Scope: &commonpb.InstrumentationScope{
					Name:    scopeName,
					Version: scopeVersion,
				},
				Spans: []*tracepb.Span{span},
			},
		},
	}

	return proto.Marshal(resourceSpans)
}

func traceIDBytes(id trace.TraceID) []byte {
	b := make([]byte, len(id))
	copy(b, id[:])
	return b
}

func spanIDBytes(id trace.SpanID) []byte {
	b := make([]byte, len(id))
	copy(b, id[:])
	return b
}

func spanName(method string) string {
	if method == "" {
		return "HTTP"
	}
	return method
}

func spanKind(inbound bool) tracepb.Span_SpanKind {
	if inbound {
		return tracepb.Span_SPAN_KIND_SERVER
	}
	return tracepb.Span_SPAN_KIND_CLIENT
}

func buildResourceAttributes(svc ServiceIdentity) []*commonpb.KeyValue {
	var attrs []*commonpb.KeyValue
	appendIfSet(&attrs, "service.name", svc.ServiceName)
	appendIfSet(&attrs, "service.namespace", svc.ServiceNamespace)
	appendIfSet(&attrs, "host.name", svc.HostName)
	appendIfSet(&attrs, "k8s.pod.name", svc.PodName)
	return attrs
}

func buildAttributes(in SpanInput) []*commonpb.KeyValue {
	var attrs []*commonpb.KeyValue

	appendIfSet(&attrs, "http.method", in.Request.Method)
	appendIfSet(&attrs, "http.scheme", in.Request.Scheme)
	appendIfSet(&attrs, "http.host", in.Request.Host)
	appendIfSet(&attrs, "http.target", in.Request.Target)
	if in.Response.StatusCode != 0 {
		attrs = append(attrs, intAttr("http.status_code", int64(in.Response.StatusCode)))
	}

	attrs = append(attrs, intAttr("http.request.body.size", int64(in.Request.BodySize)))
	attrs = append(attrs, boolAttr("http.request.body.truncated", in.Request.Truncated))
	attrs = append(attrs, intAttr("http.response.body.size", int64(in.Response.BodySize)))
	attrs = append(attrs, boolAttr("http.response.body.truncated", in.Response.Truncated))

	attrs = append(attrs, flattenHeaders("http.request.header.", in.Request.Headers)...)
	attrs = append(attrs, flattenHeaders("http.response.header.", in.Response.Headers)...)
	attrs = append(attrs, flattenHeaders("http.response.trailer.", in.Response.Trailers)...)

	if !in.Request.Truncated {
		attrs = append(attrs, bytesAttr("http.request.body", in.Request.Body))
	}
	if !in.Response.Truncated {
		attrs = append(attrs, bytesAttr("http.response.body", in.Response.Body))
	}

	attrs = append(attrs, stringAttr("sp.replay.hit", replayString(in.Replay)))

	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Key < attrs[j].Key })
	return attrs
}

func replayString(v ReplayVerdict) string {
	switch v {
	case ReplayHit:
		return "true"
	case ReplayMiss:
		return "false"
	default:
		return "n/a"
	}
}

// flattenHeaders namespaces a header/trailer list under prefix+lowercased
// name, joining repeated header values with a comma per RFC 7230, with
// entries built in lowercased-name sorted order so the same header set
// always encodes to the same attribute sequence (spec.md §9's determinism
// guidance).
func flattenHeaders(prefix string, headers []HeaderPair) []*commonpb.KeyValue {
	if len(headers) == 0 {
		return nil
	}
	byName := make(map[string][]string)
	var names []string
	for _, kv := range headers {
		name := strings.ToLower(kv[0])
		if _, seen := byName[name]; !seen {
			names = append(names, name)
		}
		byName[name] = append(byName[name], kv[1])
	}
	sort.Strings(names)

	attrs := make([]*commonpb.KeyValue, 0, len(names))
	for _, name := range names {
		attrs = append(attrs, stringAttr(prefix+name, strings.Join(byName[name], ",")))
	}
	return attrs
}

func appendIfSet(attrs *[]*commonpb.KeyValue, key, value string) {
	if value == "" {
		return
	}
	*attrs = append(*attrs, stringAttr(key, value))
}

func stringAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}

func intAttr(key string, value int64) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: value}},
	}
}

func boolAttr(key string, value bool) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: value}},
	}
}

func bytesAttr(key string, value []byte) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_BytesValue{BytesValue: value}},
	}
}
