// Package backend builds and dispatches the two out-of-band HTTP calls the
// filter makes to the analytics backend — cache lookup and span ingestion —
// and decodes their responses (spec.md §4.5).
//
// Lookup bodies use JSON (resolved Open Question: see SPEC_FULL.md), parsed
// tolerantly with gjson so a malformed 200 response degrades to "miss"
// rather than panicking (spec.md §7's Lookup-malformed-response policy —
// gjson's accessors never fail loudly on bad input, unlike unmarshaling
// into a struct, which suits a response we only ever read opportunistically).
// Ingestion bodies are the OTLP binary encoding from internal/spanenc,
// rewrapped into a single collector ExportTraceServiceRequest per flush.
package backend

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"

	"github.com/softprobe/sp-istio-wasm-go/internal/hostabi"
	"github.com/softprobe/sp-istio-wasm-go/internal/spconfig"
	"github.com/softprobe/sp-istio-wasm-go/internal/splog"
)

const (
	lookupPath = "/v1/inject"
	ingestPath = "/v1/traces"
)

// Client issues the two backend call shapes through a hostabi.Host.
type Client struct {
	host       hostabi.Host
	cfg        *spconfig.Config
	log        *splog.Logger
	backendURL *url.URL
}

// New constructs a Client. cfg.BackendURL must already have been validated
// by spconfig.Load.
func New(host hostabi.Host, cfg *spconfig.Config, log *splog.Logger) (*Client, error) {
	u, err := url.Parse(cfg.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("backend: invalid sp_backend_url: %w", err)
	}
	return &Client{host: host, cfg: cfg, log: log, backendURL: u}, nil
}

// LookupRequest describes the in-flight request being checked for a cached
// response (spec.md §4.6 step 2).
type LookupRequest struct {
	Method  string
	Path    string
	Headers []hostabi.HeaderPair
	Body    []byte
}

// LookupResult is what the replay state machine needs to act: either a hit
// with a full response descriptor, or a miss.
type LookupResult struct {
	Hit     bool
	Status  int
	Headers []hostabi.HeaderPair
	Body    []byte
}

// Lookup dispatches a cache-lookup call and decodes the result when the
// callback fires. Any backend or decode failure resolves to a miss —
// replay never holds up the request on a backend problem (spec.md §7).
func (c *Client) Lookup(req LookupRequest, cb func(LookupResult)) (uint32, error) {
	body, err := json.Marshal(lookupWireRequest{
		Method:  req.Method,
		Path:    req.Path,
		Headers: groupHeaders(req.Headers),
		Body:    base64.StdEncoding.EncodeToString(req.Body),
	})
	if err != nil {
		return 0, fmt.Errorf("backend: encode lookup request: %w", err)
	}

	headers := c.commonHeaders("application/json", lookupPath)
	token, err := c.host.DispatchHTTPCall(c.cfg.BackendCluster, headers, body, c.cfg.BackendTimeoutMs, func(resp hostabi.DispatchResponse) {
		cb(c.decodeLookupResponse(resp))
	})
	if err != nil {
		return 0, err
	}
	return token, nil
}

type lookupWireRequest struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Headers map[string][]string `json:"headers"`
	Body    string              `json:"body"`
}

func (c *Client) decodeLookupResponse(resp hostabi.DispatchResponse) LookupResult {
	if resp.Failed {
		return LookupResult{Hit: false}
	}
	if resp.Status != 200 {
		return LookupResult{Hit: false}
	}
	if !gjson.ValidBytes(resp.Body) {
		c.log.Warnf("lookup response is not valid json, treating as miss")
		return LookupResult{Hit: false}
	}

	doc := gjson.ParseBytes(resp.Body)
	status := doc.Get("status")
	if !status.Exists() {
		c.log.Warnf("lookup response missing status field, treating as miss")
		return LookupResult{Hit: false}
	}

	var headers []hostabi.HeaderPair
	doc.Get("headers").ForEach(func(key, value gjson.Result) bool {
		if value.IsArray() {
			value.ForEach(func(_, v gjson.Result) bool {
				headers = append(headers, hostabi.HeaderPair{key.String(), v.String()})
				return true
			})
			return true
		}
		headers = append(headers, hostabi.HeaderPair{key.String(), value.String()})
		return true
	})

	var bodyBytes []byte
	if b := doc.Get("body"); b.Exists() && b.String() != "" {
		decoded, err := base64.StdEncoding.DecodeString(b.String())
		if err != nil {
			c.log.Warnf("lookup response body is not valid base64, treating as miss")
			return LookupResult{Hit: false}
		}
		bodyBytes = decoded
	}

	return LookupResult{
		Hit:     true,
		Status:  int(status.Int()),
		Headers: headers,
		Body:    bodyBytes,
	}
}

// Ingest rewraps a batch of individually-encoded ResourceSpans payloads
// (internal/spanenc.EncodeResourceSpans output, one per captured
// transaction) into a single OTLP ExportTraceServiceRequest and dispatches
// it as one POST. droppedCount, when non-zero, is stamped on the request as
// an "sp-dropped-spans" header.
func (c *Client) Ingest(batch [][]byte, droppedCount int64, cb func(ok bool)) (uint32, error) {
	req := &coltracepb.ExportTraceServiceRequest{}
	for _, raw := range batch {
		var rs tracepb.ResourceSpans
		if err := proto.Unmarshal(raw, &rs); err != nil {
			c.log.Errorf("ingest: dropping unparseable queued span: %v", err)
			continue
		}
		req.ResourceSpans = append(req.ResourceSpans, &rs)
	}

	body, err := proto.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("backend: encode ingestion batch: %w", err)
	}

	headers := c.commonHeaders("application/x-protobuf", ingestPath)
	if droppedCount > 0 {
		headers = append(headers, hostabi.HeaderPair{"sp-dropped-spans", strconv.FormatInt(droppedCount, 10)})
	}

	token, err := c.host.DispatchHTTPCall(c.cfg.BackendCluster, headers, body, c.cfg.BackendTimeoutMs, func(resp hostabi.DispatchResponse) {
		cb(!resp.Failed && resp.Status >= 200 && resp.Status < 300)
	})
	if err != nil {
		return 0, err
	}
	return token, nil
}

func (c *Client) commonHeaders(contentType, path string) []hostabi.HeaderPair {
	headers := []hostabi.HeaderPair{
		{":method", "POST"},
		{":path", path},
		{":authority", c.backendURL.Host},
		{"content-type", contentType},
		{"x-sp-service-name", c.cfg.ServiceName},
	}
	if c.cfg.APIKey != "" {
		headers = append(headers, hostabi.HeaderPair{"x-sp-api-key", c.cfg.APIKey})
	}
	return headers
}

func groupHeaders(headers []hostabi.HeaderPair) map[string][]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string][]string, len(headers))
	for _, kv := range headers {
		name := strings.ToLower(kv[0])
		out[name] = append(out[name], kv[1])
	}
	return out
}
