// Package hostabi is the thin trait over the Proxy-WASM host ABI that the
// rest of this module is built against (spec.md §9, "Host ABI boundary").
// Every import the filter needs from the sandbox — header/body accessors,
// out-of-band dispatch, tick registration, local replies, properties —
// goes through the Host interface, so the state machine in
// internal/filterstream and internal/pluginroot can run against a fake in
// tests and never against the real `proxywasm` package directly.
//
// Grounded on the only Proxy-WASM-using code in the retrieval pack,
// _examples/duxin40-higress/plugins/wasm-go/pkg/wrapper/plugin_wrapper.go,
// which wraps the same surface (GetHttpRequestHeader, DispatchHttpCall,
// SetTickPeriodMilliSeconds, types.Action) behind its own CommonHttpCtx.
package hostabi

// Action mirrors proxywasm/types.Action: what a filter callback tells the
// host to do with the current stream.
type Action int

const (
	ActionContinue Action = iota
	ActionPause
)

// HeaderPair is a single header/trailer name-value pair, in wire order.
type HeaderPair [2]string

// DispatchResponse is what a dispatched out-of-band HTTP call resolves to,
// whether it actually returned from the backend or was synthesized by a
// timeout (spec.md §4.5).
type DispatchResponse struct {
	Status   int
	Headers  []HeaderPair
	Body     []byte
	Trailers []HeaderPair
	Failed   bool
}

// DispatchCallback is invoked by the host when a dispatched call's response
// arrives (or times out). It runs on the same worker thread as every other
// callback — spec.md §5's single-threaded guarantee covers this too.
type DispatchCallback func(DispatchResponse)

// Host is every proxy import the filter touches. Production code is backed
// by ProxyWasmHost (proxywasm_host.go); tests substitute FakeHost
// (fake_host.go).
type Host interface {
	// Request/response metadata, available during the matching header
	// callback (spec.md §4.4's "snapshotted at their respective callbacks").
	GetRequestHeaders() ([]HeaderPair, error)
	GetResponseHeaders() ([]HeaderPair, error)
	GetResponseTrailers() ([]HeaderPair, error)

	// Body access: a prefix-to-size read of what the host has buffered so
	// far for this callback, mirroring GetHttpRequestBody(start, max int).
	GetRequestBody(maxSize int) ([]byte, error)
	GetResponseBody(maxSize int) ([]byte, error)

	// Header injection for trace-context propagation (spec.md §4.3).
	ReplaceRequestHeader(name, value string) error

	// SendLocalReply synthesizes a response and ends the stream without
	// reaching upstream — the replay short-circuit (spec.md §4.6).
	SendLocalReply(status int, headers []HeaderPair, body []byte) error

	// ResumeRequest un-pauses a stream previously returned as ActionPause,
	// re-entering the filter chain at the paused callback. Only the request
	// side is ever paused (the replay short-circuit happens before any
	// response callback runs), so there is no response counterpart here.
	ResumeRequest() error

	// DispatchHTTPCall issues an out-of-band call to the named upstream
	// cluster and returns a dispatch token synchronously; the response (or
	// timeout) arrives later via cb, on the same worker thread (spec.md
	// §4.5, §5). timeoutMillis bounds how long the host waits before
	// synthesizing a failure response.
	DispatchHTTPCall(cluster string, headers []HeaderPair, body []byte, timeoutMillis uint32, cb DispatchCallback) (token uint32, err error)

	// SetTickPeriodMilliSeconds registers the plugin root's periodic flush
	// tick (spec.md §4.1).
	SetTickPeriodMilliSeconds(period uint32) error

	// GetProperty reads a proxy-exposed property, used to auto-detect
	// service identity when service_name is left blank (spec.md §3).
	GetProperty(path []string) ([]byte, error)

	// GetCurrentTimeNanoseconds is the filter's only clock source — wall
	// clock timestamps on spans come from here, never time.Now() (the WASM
	// sandbox has no reliable wall clock of its own).
	GetCurrentTimeNanoseconds() (int64, error)

	// Logging, routed through splog with the fixed "SP" tag (spec.md §6).
	LogCritical(msg string)
	LogError(msg string)
	LogWarn(msg string)
	LogInfo(msg string)
	LogDebug(msg string)
}
