// Package tracecontext extracts, generates, and serializes W3C Trace
// Context identifiers (spec.md §4.3). Trace/span ID types and their
// lowercase, zero-padded hex (en/de)coding come straight from
// go.opentelemetry.io/otel/trace, which already implements exactly the
// W3C-compatible representation this filter needs — hand-rolling a second
// hex codec for the same 16/8-byte IDs would just duplicate what the
// dependency already gets right.
package tracecontext

import (
	"crypto/rand"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Context is the derived, per-stream trace identity (spec.md §3). It is
// never persisted beyond the owning stream.
type Context struct {
	TraceID      trace.TraceID
	SpanID       trace.SpanID
	ParentSpanID trace.SpanID // zero value means "no parent"
	Flags        byte
	TraceState   string // forwarded verbatim, never modified
}

// ExtractOrGenerate implements spec.md §4.3's inbound-header contract: adopt
// a valid inbound traceparent's trace ID and make its span ID the parent,
// generating a fresh span ID for this hop; or, if absent or malformed,
// generate an entirely fresh trace and span ID with no parent. tracestate
// is always forwarded verbatim, even when traceparent itself is invalid.
func ExtractOrGenerate(traceparentHeader, tracestateHeader string) Context {
	if tid, parentSpan, flags, ok := parseTraceparent(traceparentHeader); ok {
		return Context{
			TraceID:      tid,
			SpanID:       generateSpanID(),
			ParentSpanID: parentSpan,
			Flags:        flags,
			TraceState:   tracestateHeader,
		}
	}
	return Context{
		TraceID:    generateTraceID(),
		SpanID:     generateSpanID(),
		Flags:      0x01,
		TraceState: tracestateHeader,
	}
}

// Serialize renders ctx as a strict W3C traceparent value:
// "00-<32hex trace-id>-<16hex span-id>-<2hex flags>".
func Serialize(ctx Context) string {
	return "00-" + ctx.TraceID.String() + "-" + ctx.SpanID.String() + "-" + hexByte(ctx.Flags)
}

func hexByte(b byte) string {
	s := strconv.FormatUint(uint64(b), 16)
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// parseTraceparent parses a traceparent header value. Returns ok=false for
// any structurally invalid or zero-ID value, matching spec.md §7's
// Trace-context-malformed policy: "generate fresh IDs; do not reject the
// request" is the caller's job, this function only reports validity.
func parseTraceparent(header string) (trace.TraceID, trace.SpanID, byte, bool) {
	var zero trace.TraceID
	var zeroSpan trace.SpanID
	if header == "" {
		return zero, zeroSpan, 0, false
	}
	parts := strings.Split(header, "-")
	if len(parts) != 4 {
		return zero, zeroSpan, 0, false
	}
	version, traceIDHex, spanIDHex, flagsHex := parts[0], parts[1], parts[2], parts[3]
	if len(version) != 2 || len(traceIDHex) != 32 || len(spanIDHex) != 16 || len(flagsHex) != 2 {
		return zero, zeroSpan, 0, false
	}

	tid, err := trace.TraceIDFromHex(traceIDHex)
	if err != nil || !tid.IsValid() {
		return zero, zeroSpan, 0, false
	}
	sid, err := trace.SpanIDFromHex(spanIDHex)
	if err != nil || !sid.IsValid() {
		return zero, zeroSpan, 0, false
	}
	flags, err := strconv.ParseUint(flagsHex, 16, 8)
	if err != nil {
		return zero, zeroSpan, 0, false
	}

	return tid, sid, byte(flags), true
}

// generateTraceID produces a cryptographically random, non-zero trace ID
// (spec.md §4.3's "must be non-zero"). Retrying on an all-zero draw costs
// nothing in practice — the odds of drawing all 128 zero bits are
// astronomically small — but the invariant must hold absolutely, not just
// almost always.
func generateTraceID() trace.TraceID {
	var id trace.TraceID
	for {
		if _, err := rand.Read(id[:]); err != nil {
			continue
		}
		if id.IsValid() {
			return id
		}
	}
}

func generateSpanID() trace.SpanID {
	var id trace.SpanID
	for {
		if _, err := rand.Read(id[:]); err != nil {
			continue
		}
		if id.IsValid() {
			return id
		}
	}
}
