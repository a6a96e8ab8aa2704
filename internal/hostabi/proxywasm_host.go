package hostabi

import (
	"github.com/tetratelabs/proxy-wasm-go-sdk/proxywasm"
)

// ProxyWasmHost is the production Host, backed directly by the
// tetratelabs/proxy-wasm-go-sdk proxywasm package. It carries no state of
// its own: the SDK ties each DispatchHttpCall to its own response closure
// internally (keyed by the callout ID the host assigns), so there is no
// token→callback table to maintain on this side of the trait. internal/backend
// keeps no such table either: it passes its closure straight through and
// returns the token to its caller. A lookup result that arrives after its
// stream was torn down is ignored by filterstream.Stream itself, not by a
// token lookup.
type ProxyWasmHost struct{}

// NewProxyWasmHost constructs a Host.
func NewProxyWasmHost() *ProxyWasmHost {
	return &ProxyWasmHost{}
}

func toHeaderPairs(raw [][2]string) []HeaderPair {
	if raw == nil {
		return nil
	}
	out := make([]HeaderPair, len(raw))
	for i, kv := range raw {
		out[i] = HeaderPair{kv[0], kv[1]}
	}
	return out
}

func fromHeaderPairs(pairs []HeaderPair) [][2]string {
	if pairs == nil {
		return nil
	}
	out := make([][2]string, len(pairs))
	for i, kv := range pairs {
		out[i] = [2]string{kv[0], kv[1]}
	}
	return out
}

func (h *ProxyWasmHost) GetRequestHeaders() ([]HeaderPair, error) {
	raw, err := proxywasm.GetHttpRequestHeaders()
	if err != nil {
		return nil, err
	}
	return toHeaderPairs(raw), nil
}

func (h *ProxyWasmHost) GetResponseHeaders() ([]HeaderPair, error) {
	raw, err := proxywasm.GetHttpResponseHeaders()
	if err != nil {
		return nil, err
	}
	return toHeaderPairs(raw), nil
}

func (h *ProxyWasmHost) GetResponseTrailers() ([]HeaderPair, error) {
	raw, err := proxywasm.GetHttpResponseTrailers()
	if err != nil {
		return nil, err
	}
	return toHeaderPairs(raw), nil
}

func (h *ProxyWasmHost) GetRequestBody(maxSize int) ([]byte, error) {
	return proxywasm.GetHttpRequestBody(0, maxSize)
}

func (h *ProxyWasmHost) GetResponseBody(maxSize int) ([]byte, error) {
	return proxywasm.GetHttpResponseBody(0, maxSize)
}

func (h *ProxyWasmHost) ReplaceRequestHeader(name, value string) error {
	return proxywasm.ReplaceHttpRequestHeader(name, value)
}

func (h *ProxyWasmHost) SendLocalReply(status int, headers []HeaderPair, body []byte) error {
	return proxywasm.SendHttpResponse(uint32(status), fromHeaderPairs(headers), body, -1)
}

func (h *ProxyWasmHost) ResumeRequest() error {
	return proxywasm.ResumeHttpRequest()
}

func (h *ProxyWasmHost) DispatchHTTPCall(cluster string, headers []HeaderPair, body []byte, timeoutMillis uint32, cb DispatchCallback) (uint32, error) {
	return proxywasm.DispatchHttpCall(cluster, fromHeaderPairs(headers), body, nil, timeoutMillis,
		func(numHeaders, bodySize, numTrailers int) {
			cb(readDispatchResponse(bodySize, numTrailers))
		})
}

// readDispatchResponse pulls a resolved dispatch call's response out of the
// SDK's GetHttpCallResponse* accessors, which are only valid to call from
// inside the response closure itself.
func readDispatchResponse(bodySize, numTrailers int) DispatchResponse {
	resp := DispatchResponse{}
	rawHeaders, err := proxywasm.GetHttpCallResponseHeaders()
	if err != nil {
		resp.Failed = true
		return resp
	}
	resp.Headers = toHeaderPairs(rawHeaders)
	for _, kv := range resp.Headers {
		if kv[0] == ":status" {
			resp.Status = atoiOrZero(kv[1])
		}
	}
	if bodySize > 0 {
		if body, err := proxywasm.GetHttpCallResponseBody(0, bodySize); err == nil {
			resp.Body = body
		}
	}
	if numTrailers > 0 {
		if rawTrailers, err := proxywasm.GetHttpCallResponseTrailers(); err == nil {
			resp.Trailers = toHeaderPairs(rawTrailers)
		}
	}
	return resp
}

func atoiOrZero(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func (h *ProxyWasmHost) SetTickPeriodMilliSeconds(period uint32) error {
	return proxywasm.SetTickPeriodMilliSeconds(period)
}

func (h *ProxyWasmHost) GetProperty(path []string) ([]byte, error) {
	return proxywasm.GetProperty(path)
}

func (h *ProxyWasmHost) GetCurrentTimeNanoseconds() (int64, error) {
	return proxywasm.GetCurrentTimeNanoseconds()
}

func (h *ProxyWasmHost) LogCritical(msg string) { proxywasm.LogCritical(msg) }
func (h *ProxyWasmHost) LogError(msg string)    { proxywasm.LogError(msg) }
func (h *ProxyWasmHost) LogWarn(msg string)     { proxywasm.LogWarn(msg) }
func (h *ProxyWasmHost) LogInfo(msg string)     { proxywasm.LogInfo(msg) }
func (h *ProxyWasmHost) LogDebug(msg string)    { proxywasm.LogDebug(msg) }
