package hostabi

// FakeHost is an in-memory Host substitute for tests: no real proxy, no
// sandbox. It lets a test script the exact sequence of header/body values
// a real proxy would hand the filter and inspect what the filter did in
// response (replies sent, dispatches issued, headers injected).
type FakeHost struct {
	RequestHeaders   []HeaderPair
	ResponseHeaders  []HeaderPair
	ResponseTrailers []HeaderPair
	RequestBody      []byte
	ResponseBody     []byte
	Properties       map[string][]byte
	NowNanos         int64

	// Recorded effects, inspected by assertions after driving the stream.
	SentReplies      []FakeReply
	ResumedRequests  int
	ReplacedHeaders  map[string]string
	TickPeriodMillis uint32
	Logs             []FakeLogLine

	// Dispatch control: each DispatchHTTPCall appends to PendingDispatches
	// instead of resolving immediately; the test drives resolution with
	// ResolveDispatch, mirroring the host's async callback delivery.
	PendingDispatches []*FakeDispatch
	nextToken         uint32
}

// FakeReply is one call to SendLocalReply.
type FakeReply struct {
	Status  int
	Headers []HeaderPair
	Body    []byte
}

// FakeLogLine is one recorded log call, tagged by level for assertions.
type FakeLogLine struct {
	Level string
	Msg   string
}

// FakeDispatch is a single in-flight DispatchHTTPCall, held open until the
// test resolves or times it out.
type FakeDispatch struct {
	Token   uint32
	Cluster string
	Headers []HeaderPair
	Body    []byte
	cb      DispatchCallback
}

// NewFakeHost constructs a FakeHost with empty header/body state.
func NewFakeHost() *FakeHost {
	return &FakeHost{Properties: make(map[string][]byte), ReplacedHeaders: make(map[string]string)}
}

func (h *FakeHost) GetRequestHeaders() ([]HeaderPair, error)   { return h.RequestHeaders, nil }
func (h *FakeHost) GetResponseHeaders() ([]HeaderPair, error)  { return h.ResponseHeaders, nil }
func (h *FakeHost) GetResponseTrailers() ([]HeaderPair, error) { return h.ResponseTrailers, nil }

func (h *FakeHost) GetRequestBody(maxSize int) ([]byte, error) {
	if maxSize >= len(h.RequestBody) {
		return h.RequestBody, nil
	}
	return h.RequestBody[:maxSize], nil
}

func (h *FakeHost) GetResponseBody(maxSize int) ([]byte, error) {
	if maxSize >= len(h.ResponseBody) {
		return h.ResponseBody, nil
	}
	return h.ResponseBody[:maxSize], nil
}

func (h *FakeHost) ReplaceRequestHeader(name, value string) error {
	h.ReplacedHeaders[name] = value
	return nil
}

func (h *FakeHost) SendLocalReply(status int, headers []HeaderPair, body []byte) error {
	h.SentReplies = append(h.SentReplies, FakeReply{Status: status, Headers: headers, Body: body})
	return nil
}

func (h *FakeHost) ResumeRequest() error { h.ResumedRequests++; return nil }

func (h *FakeHost) DispatchHTTPCall(cluster string, headers []HeaderPair, body []byte, timeoutMillis uint32, cb DispatchCallback) (uint32, error) {
	h.nextToken++
	token := h.nextToken
	h.PendingDispatches = append(h.PendingDispatches, &FakeDispatch{
		Token: token, Cluster: cluster, Headers: headers, Body: body, cb: cb,
	})
	return token, nil
}

// ResolveDispatch delivers resp to the callback registered for token and
// removes it from the pending list, simulating the host's async response
// delivery. Resolving an unknown token is a no-op, exercising the same
// "stream already torn down" path the real host takes.
func (h *FakeHost) ResolveDispatch(token uint32, resp DispatchResponse) {
	for i, d := range h.PendingDispatches {
		if d.Token == token {
			h.PendingDispatches = append(h.PendingDispatches[:i], h.PendingDispatches[i+1:]...)
			d.cb(resp)
			return
		}
	}
}

func (h *FakeHost) SetTickPeriodMilliSeconds(period uint32) error {
	h.TickPeriodMillis = period
	return nil
}

func (h *FakeHost) GetProperty(path []string) ([]byte, error) {
	key := ""
	for i, p := range path {
		if i > 0 {
			key += "."
		}
		key += p
	}
	v, ok := h.Properties[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (h *FakeHost) GetCurrentTimeNanoseconds() (int64, error) { return h.NowNanos, nil }

func (h *FakeHost) LogCritical(msg string) { h.Logs = append(h.Logs, FakeLogLine{"critical", msg}) }
func (h *FakeHost) LogError(msg string)    { h.Logs = append(h.Logs, FakeLogLine{"error", msg}) }
func (h *FakeHost) LogWarn(msg string)     { h.Logs = append(h.Logs, FakeLogLine{"warn", msg}) }
func (h *FakeHost) LogInfo(msg string)     { h.Logs = append(h.Logs, FakeLogLine{"info", msg}) }
func (h *FakeHost) LogDebug(msg string)    { h.Logs = append(h.Logs, FakeLogLine{"debug", msg}) }

var _ Host = (*FakeHost)(nil)
