package spconfig

import (
	"testing"

	"github.com/softprobe/sp-istio-wasm-go/internal/hostabi"
)

const minimalConfig = `{
	"sp_backend_url": "http://backend.local",
	"sp_backend_cluster": "backend-cluster",
	"traffic_direction": "outbound"
}`

func TestLoadMinimalConfigAppliesDefaults(t *testing.T) {
	cfg, err := Load([]byte(minimalConfig), hostabi.NewFakeHost())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxRequestBodyBytes != defaultMaxRequestBodyBytes {
		t.Errorf("MaxRequestBodyBytes = %d, want default", cfg.MaxRequestBodyBytes)
	}
	if cfg.FlushIntervalMs != defaultFlushIntervalMs {
		t.Errorf("FlushIntervalMs = %d, want default", cfg.FlushIntervalMs)
	}
	if cfg.ReplayEnabled {
		t.Error("ReplayEnabled should default false")
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	if _, err := Load([]byte(`{not json`), hostabi.NewFakeHost()); err == nil {
		t.Fatal("expected error for invalid json")
	}
}

func TestLoadRejectsMissingBackendURL(t *testing.T) {
	if _, err := Load([]byte(`{"sp_backend_cluster":"c","traffic_direction":"inbound"}`), hostabi.NewFakeHost()); err == nil {
		t.Fatal("expected error for missing sp_backend_url")
	}
}

func TestLoadRejectsBadDirection(t *testing.T) {
	bad := `{"sp_backend_url":"http://x","sp_backend_cluster":"c","traffic_direction":"sideways"}`
	if _, err := Load([]byte(bad), hostabi.NewFakeHost()); err == nil {
		t.Fatal("expected error for invalid traffic_direction")
	}
}

func TestLoadRejectsBadRegex(t *testing.T) {
	bad := `{
		"sp_backend_url": "http://x",
		"sp_backend_cluster": "c",
		"traffic_direction": "outbound",
		"collectionRules": {"http": {"client": [{"host": "(unclosed"}]}}
	}`
	if _, err := Load([]byte(bad), hostabi.NewFakeHost()); err == nil {
		t.Fatal("expected error for unparseable regex")
	}
}

func TestLoadCompilesRules(t *testing.T) {
	withRules := `{
		"sp_backend_url": "http://x",
		"sp_backend_cluster": "c",
		"traffic_direction": "outbound",
		"collectionRules": {"http": {"client": [
			{"host": "svc", "paths": ["^/a"], "methods": ["GET"], "exclude": false}
		]}}
	}`
	cfg, err := Load([]byte(withRules), hostabi.NewFakeHost())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.ClientRules.Rules) != 1 {
		t.Fatalf("expected 1 compiled rule, got %d", len(cfg.ClientRules.Rules))
	}
	if !cfg.ActiveRuleSet().Capture("svc", "/a/b", "GET") {
		t.Error("expected compiled rule to capture matching request")
	}
}

func TestLoadAutoDetectsServiceNameFromProperty(t *testing.T) {
	host := hostabi.NewFakeHost()
	host.Properties["node.metadata.NAME"] = []byte("checkout-svc")
	cfg, err := Load([]byte(minimalConfig), host)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServiceName != "checkout-svc" {
		t.Errorf("ServiceName = %q, want checkout-svc", cfg.ServiceName)
	}
}

func TestActiveRuleSetSelectsByDirection(t *testing.T) {
	server := `{
		"sp_backend_url": "http://x",
		"sp_backend_cluster": "c",
		"traffic_direction": "inbound",
		"collectionRules": {"http": {
			"server": [{"host": "svc"}]
		}}
	}`
	cfg, err := Load([]byte(server), hostabi.NewFakeHost())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.ActiveRuleSet().Rules) != 1 {
		t.Fatal("inbound direction should select server rules")
	}
	if len(cfg.ClientRules.Rules) != 0 {
		t.Fatal("client rules should be empty when only server rules are configured")
	}
}
