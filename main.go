// Command sp-istio-wasm-go is the compiled entry point for the Proxy-WASM
// sandbox: it registers the VM/plugin/HTTP context hierarchy the SDK calls
// into and delegates every callback straight to internal/pluginroot and
// internal/filterstream. This file owns nothing itself beyond the
// SDK-shaped adapter — every behavior lives in the internal packages so it
// can be tested without a real host.
//
// Context wiring follows the same three-level shape (VM -> Plugin -> Http)
// as the higress wrapper's CommonVmCtx/CommonPluginCtx/CommonHttpCtx, built
// directly on the upstream tetratelabs SDK that wrapper itself forks.
package main

import (
	"github.com/tetratelabs/proxy-wasm-go-sdk/proxywasm"
	"github.com/tetratelabs/proxy-wasm-go-sdk/proxywasm/types"

	"github.com/softprobe/sp-istio-wasm-go/internal/filterstream"
	"github.com/softprobe/sp-istio-wasm-go/internal/hostabi"
	"github.com/softprobe/sp-istio-wasm-go/internal/pluginroot"
)

func main() {
	proxywasm.SetVMContext(&vmContext{})
}

type vmContext struct {
	types.DefaultVMContext
}

func (*vmContext) NewPluginContext(uint32) types.PluginContext {
	host := hostabi.NewProxyWasmHost()
	return &pluginContext{host: host, root: pluginroot.New(host)}
}

// pluginContext is the one-per-VM load-time object: it owns the plugin
// root singleton and forwards OnPluginStart/OnTick to it.
type pluginContext struct {
	types.DefaultPluginContext
	host hostabi.Host
	root *pluginroot.Root
}

func (p *pluginContext) OnPluginStart(int) types.OnPluginStartStatus {
	data, err := proxywasm.GetPluginConfiguration()
	if err != nil && err != types.ErrorStatusNotFound {
		proxywasm.LogCriticalf("SP: failed to read plugin configuration: %v", err)
		return types.OnPluginStartStatusFailed
	}
	if err := p.root.Initialize(data); err != nil {
		return types.OnPluginStartStatusFailed
	}
	return types.OnPluginStartStatusOK
}

func (p *pluginContext) OnTick() {
	p.root.OnTick()
}

func (p *pluginContext) NewHttpContext(uint32) types.HttpContext {
	startNanos, _ := p.host.GetCurrentTimeNanoseconds()
	return &httpContext{host: p.host, stream: p.root.CreateStream(startNanos)}
}

// httpContext is one per HTTP stream, wrapping a filterstream.Stream.
// bodySize on each body callback is that call's chunk size, not a running
// total — the streaming path this filter always takes reads exactly that
// many bytes from the start of the host's per-call buffer, same as the
// higress wrapper's streaming body path.
type httpContext struct {
	types.DefaultHttpContext
	host   hostabi.Host
	stream *filterstream.Stream
}

func (c *httpContext) OnHttpRequestHeaders(numHeaders int, endOfStream bool) types.Action {
	return sdkAction(c.stream.OnRequestHeaders(endOfStream))
}

func (c *httpContext) OnHttpRequestBody(bodySize int, endOfStream bool) types.Action {
	chunk, err := c.host.GetRequestBody(bodySize)
	if err != nil {
		chunk = nil
	}
	return sdkAction(c.stream.OnRequestBody(chunk, endOfStream))
}

func (c *httpContext) OnHttpResponseHeaders(numHeaders int, endOfStream bool) types.Action {
	return sdkAction(c.stream.OnResponseHeaders(endOfStream))
}

func (c *httpContext) OnHttpResponseBody(bodySize int, endOfStream bool) types.Action {
	chunk, err := c.host.GetResponseBody(bodySize)
	if err != nil {
		chunk = nil
	}
	return sdkAction(c.stream.OnResponseBody(chunk, endOfStream))
}

func (c *httpContext) OnHttpStreamDone() {
	c.stream.OnStreamDone()
}

func sdkAction(a hostabi.Action) types.Action {
	if a == hostabi.ActionPause {
		return types.ActionPause
	}
	return types.ActionContinue
}
