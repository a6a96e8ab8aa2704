// Package spconfig parses and validates the filter's plugin configuration
// (spec.md §3, §6). Parsing is two-step — gjson.ValidBytes first, then a
// structured decode — the same shape the higress wrapper uses in
// OnPluginStart before handing the result to a plugin's own parseConfig.
// Once loaded, a Config is immutable and safe to reference from every
// stream (spec.md §5's "Config: read-only after load").
package spconfig

import (
	"fmt"
	"regexp"

	"github.com/tidwall/gjson"

	"github.com/softprobe/sp-istio-wasm-go/internal/hostabi"
	"github.com/softprobe/sp-istio-wasm-go/internal/rules"
)

const (
	defaultMaxRequestBodyBytes  = 2 << 20 // 2 MiB
	defaultMaxResponseBodyBytes = 2 << 20
	defaultBackendTimeoutMs     = 2000
	defaultFlushIntervalMs      = 5000
	defaultMaxBatchSpans        = 100
	defaultMaxQueueBytes        = 8 << 20 // 8 MiB
	defaultIngestRetries        = 3

	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Config is the fully validated, compiled plugin configuration.
type Config struct {
	BackendURL     string
	BackendCluster string
	APIKey         string
	ServiceName    string
	Direction      string
	ReplayEnabled  bool
	Debug          bool

	ClientRules rules.Set
	ServerRules rules.Set

	MaxRequestBodyBytes  int
	MaxResponseBodyBytes int
	BackendTimeoutMs      uint32
	FlushIntervalMs       uint32
	MaxBatchSpans         int
	MaxQueueBytes         int
	IngestRetryLimit      int
}

// ActiveRuleSet returns the rule set that applies to this plugin instance's
// configured traffic direction (spec.md §6: "traffic_direction ... selects
// which rule set applies").
func (c *Config) ActiveRuleSet() rules.Set {
	if c.Direction == DirectionInbound {
		return c.ServerRules
	}
	return c.ClientRules
}

// Load validates and parses raw plugin configuration bytes, resolving
// service identity from proxy properties when service_name is blank.
// Returns an error for empty or invalid JSON, a missing sp_backend_url or
// sp_backend_cluster, an unknown traffic_direction, or a rule regex that
// does not compile — the plugin root treats this as Config-invalid
// (spec.md §7): fail load loudly, no partial initialization. Numeric and
// boolean fields are read with gjson's type coercion and are not
// type-checked.
func Load(raw []byte, host hostabi.Host) (*Config, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("spconfig: empty configuration")
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("spconfig: not valid json")
	}
	doc := gjson.ParseBytes(raw)

	cfg := &Config{
		BackendURL:     doc.Get("sp_backend_url").String(),
		BackendCluster: doc.Get("sp_backend_cluster").String(),
		APIKey:         doc.Get("api_key").String(),
		ServiceName:    doc.Get("service_name").String(),
		Direction:      doc.Get("traffic_direction").String(),
		ReplayEnabled:  doc.Get("enable_inject").Bool(),
		Debug:          doc.Get("debug").Bool(),

		MaxRequestBodyBytes:  intOrDefault(doc.Get("max_request_body_bytes"), defaultMaxRequestBodyBytes),
		MaxResponseBodyBytes: intOrDefault(doc.Get("max_response_body_bytes"), defaultMaxResponseBodyBytes),
		BackendTimeoutMs:      uint32(intOrDefault(doc.Get("backend_timeout_ms"), defaultBackendTimeoutMs)),
		FlushIntervalMs:       uint32(intOrDefault(doc.Get("flush_interval_ms"), defaultFlushIntervalMs)),
		MaxBatchSpans:         intOrDefault(doc.Get("max_batch_spans"), defaultMaxBatchSpans),
		MaxQueueBytes:         intOrDefault(doc.Get("max_queue_bytes"), defaultMaxQueueBytes),
		IngestRetryLimit:      intOrDefault(doc.Get("ingest_retry_limit"), defaultIngestRetries),
	}

	if cfg.BackendURL == "" {
		return nil, fmt.Errorf("spconfig: sp_backend_url is required")
	}
	if cfg.BackendCluster == "" {
		return nil, fmt.Errorf("spconfig: sp_backend_cluster is required")
	}
	if cfg.Direction != DirectionInbound && cfg.Direction != DirectionOutbound {
		return nil, fmt.Errorf("spconfig: traffic_direction must be %q or %q, got %q", DirectionInbound, DirectionOutbound, cfg.Direction)
	}

	var err error
	cfg.ClientRules, err = compileRuleSet(doc.Get("collectionRules.http.client"))
	if err != nil {
		return nil, fmt.Errorf("spconfig: collectionRules.http.client: %w", err)
	}
	cfg.ServerRules, err = compileRuleSet(doc.Get("collectionRules.http.server"))
	if err != nil {
		return nil, fmt.Errorf("spconfig: collectionRules.http.server: %w", err)
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = resolveServiceName(host)
	}

	return cfg, nil
}

func intOrDefault(v gjson.Result, def int) int {
	if !v.Exists() {
		return def
	}
	return int(v.Int())
}

// compileRuleSet turns one collectionRules.http.{client,server} array into
// a compiled rules.Set, pre-compiling every regex at load time per spec.md
// §3's "regexes are pre-compiled" invariant.
func compileRuleSet(arr gjson.Result) (rules.Set, error) {
	if !arr.Exists() {
		return rules.Set{}, nil
	}
	var set rules.Set
	var compileErr error
	arr.ForEach(func(_, rule gjson.Result) bool {
		r := rules.Rule{Exclude: rule.Get("exclude").Bool()}

		if host := rule.Get("host"); host.Exists() && host.String() != "" {
			re, err := regexp.Compile(host.String())
			if err != nil {
				compileErr = fmt.Errorf("bad host regex %q: %w", host.String(), err)
				return false
			}
			r.HostRegex = re
		}

		if paths := rule.Get("paths"); paths.Exists() {
			var pathErr error
			paths.ForEach(func(_, p gjson.Result) bool {
				re, err := regexp.Compile(p.String())
				if err != nil {
					pathErr = fmt.Errorf("bad path regex %q: %w", p.String(), err)
					return false
				}
				r.PathRegexes = append(r.PathRegexes, re)
				return true
			})
			if pathErr != nil {
				compileErr = pathErr
				return false
			}
		}

		if methods := rule.Get("methods"); methods.Exists() {
			r.Methods = make(map[string]struct{})
			methods.ForEach(func(_, m gjson.Result) bool {
				r.Methods[m.String()] = struct{}{}
				return true
			})
		}

		set.Rules = append(set.Rules, r)
		return true
	})
	if compileErr != nil {
		return rules.Set{}, compileErr
	}
	return set, nil
}

// resolveServiceName auto-detects the workload's service identity from
// proxy-exposed properties when service_name is left blank (spec.md §3).
// Proxy properties are the same "node metadata" surface the higress
// wrapper reads filter-state properties from via GetProperty.
func resolveServiceName(host hostabi.Host) string {
	if v, err := host.GetProperty([]string{"node", "metadata", "NAME"}); err == nil && len(v) > 0 {
		return string(v)
	}
	if v, err := host.GetProperty([]string{"cluster_name"}); err == nil && len(v) > 0 {
		return string(v)
	}
	return "unknown-service"
}
