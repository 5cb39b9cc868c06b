package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quarrio/quarry/types"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quarry.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, `source: my-source
category: production
executor: ./executor.js

storage:
  dataset: quarry
  backend: s3
  path: my-bucket/prefix
  region: us-east-1
  endpoint: https://example.com
  s3_path_style: true

policy:
  name: buffered
  flush_mode: at_least_once
  buffer_events: 1000
  buffer_bytes: 10485760

proxies:
  pool_a:
    strategy: round_robin
    endpoints:
      - protocol: https
        host: proxy.example.com
        port: 8080

proxy:
  pool: pool_a
  strategy: round_robin

adapter:
  type: webhook
  url: https://hooks.example.com/quarry
  headers:
    Authorization: Bearer token123
  timeout: 10s
  retries: 3
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	strFields := map[string][2]string{
		"source":           {cfg.Source, "my-source"},
		"category":         {cfg.Category, "production"},
		"executor":         {cfg.Executor, "./executor.js"},
		"storage.backend":  {cfg.Storage.Backend, "s3"},
		"storage.path":     {cfg.Storage.Path, "my-bucket/prefix"},
		"storage.region":   {cfg.Storage.Region, "us-east-1"},
		"storage.endpoint": {cfg.Storage.Endpoint, "https://example.com"},
		"policy.name":      {cfg.Policy.Name, "buffered"},
		"policy.flushmode": {cfg.Policy.FlushMode, "at_least_once"},
		"proxy.pool":       {cfg.Proxy.Pool, "pool_a"},
		"proxy.strategy":   {cfg.Proxy.Strategy, "round_robin"},
		"adapter.type":     {cfg.Adapter.Type, "webhook"},
		"adapter.url":      {cfg.Adapter.URL, "https://hooks.example.com/quarry"},
	}
	for field, v := range strFields {
		if v[0] != v[1] {
			t.Errorf("%s = %q, want %q", field, v[0], v[1])
		}
	}

	if !cfg.Storage.S3PathStyle {
		t.Error("storage.s3_path_style not parsed")
	}
	if cfg.Policy.BufferEvents != 1000 || cfg.Policy.BufferBytes != 10485760 {
		t.Errorf("policy buffers = %d/%d", cfg.Policy.BufferEvents, cfg.Policy.BufferBytes)
	}
	if cfg.Adapter.Timeout.Duration != 10*time.Second {
		t.Errorf("adapter.timeout = %v, want 10s", cfg.Adapter.Timeout.Duration)
	}
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 3 {
		t.Error("adapter.retries not parsed as 3")
	}
	if cfg.Adapter.Headers["Authorization"] != "Bearer token123" {
		t.Errorf("adapter headers = %v", cfg.Adapter.Headers)
	}
	if len(cfg.Proxies["pool_a"].Endpoints) != 1 {
		t.Errorf("proxies.pool_a endpoints = %v", cfg.Proxies["pool_a"].Endpoints)
	}
}

func TestLoadEdgeCases(t *testing.T) {
	t.Run("empty file", func(t *testing.T) {
		cfg, err := Load(writeConfigFile(t, ""))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Source != "" {
			t.Errorf("Source = %q in empty config", cfg.Source)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load("/nonexistent/quarry.yaml"); err == nil {
			t.Fatal("Load succeeded on a missing file")
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		if _, err := Load(writeConfigFile(t, "{{invalid yaml")); err == nil {
			t.Fatal("Load accepted malformed YAML")
		}
	})
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_SOURCE", "expanded-source")
	cfg, err := Load(writeConfigFile(t, "source: ${TEST_SOURCE}"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source != "expanded-source" {
		t.Errorf("source = %q, want expanded-source", cfg.Source)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Run("top level", func(t *testing.T) {
		_, err := Load(writeConfigFile(t, "source: my-source\nbogus_key: should_fail\n"))
		if err == nil {
			t.Fatal("unknown key accepted")
		}
		if !strings.Contains(err.Error(), "bogus_key") {
			t.Errorf("error does not name the offending key: %v", err)
		}
	})

	t.Run("nested", func(t *testing.T) {
		_, err := Load(writeConfigFile(t, "storage:\n  backend: fs\n  path: ./data\n  unknown_field: bad\n"))
		if err == nil {
			t.Fatal("unknown nested key accepted")
		}
		if !strings.Contains(err.Error(), "unknown_field") {
			t.Errorf("error does not name the offending key: %v", err)
		}
	})
}

func TestDurationUnmarshal(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, "adapter:\n  timeout: 30s"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Adapter.Timeout.Duration != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", cfg.Adapter.Timeout.Duration)
	}
}

func TestProxyPoolsSortedConversion(t *testing.T) {
	cfg := &Config{
		Proxies: map[string]ProxyPoolConfig{
			"beta_pool": {
				Strategy: types.ProxyStrategyRandom,
				Endpoints: []types.ProxyEndpoint{
					{Protocol: types.ProxyProtocolHTTP, Host: "b.example.com", Port: 8080},
				},
			},
			"alpha_pool": {
				Strategy: types.ProxyStrategyRoundRobin,
				Endpoints: []types.ProxyEndpoint{
					{Protocol: types.ProxyProtocolHTTPS, Host: "a.example.com", Port: 443},
				},
			},
		},
	}

	pools := cfg.ProxyPools()
	if len(pools) != 2 {
		t.Fatalf("%d pools, want 2", len(pools))
	}
	if pools[0].Name != "alpha_pool" || pools[1].Name != "beta_pool" {
		t.Errorf("pool order = %q, %q; want alpha then beta", pools[0].Name, pools[1].Name)
	}
	if pools[0].Strategy != types.ProxyStrategyRoundRobin {
		t.Errorf("alpha_pool strategy = %q", pools[0].Strategy)
	}
}

func TestProxyPoolsEmpty(t *testing.T) {
	if pools := (&Config{}).ProxyPools(); pools != nil {
		t.Errorf("ProxyPools() = %v for empty config, want nil", pools)
	}
}

func TestProxyPoolsCarriesSticky(t *testing.T) {
	ttl := int64(3600000)
	cfg := &Config{
		Proxies: map[string]ProxyPoolConfig{
			"sticky_pool": {
				Strategy: types.ProxyStrategySticky,
				Sticky:   &types.ProxySticky{Scope: types.ProxyStickyDomain, TTLMs: &ttl},
				Endpoints: []types.ProxyEndpoint{
					{Protocol: types.ProxyProtocolHTTP, Host: "proxy.example.com", Port: 8080},
				},
			},
		},
	}

	pools := cfg.ProxyPools()
	if len(pools) != 1 || pools[0].Sticky == nil {
		t.Fatalf("pools = %+v, want one pool with sticky config", pools)
	}
	if pools[0].Sticky.Scope != types.ProxyStickyDomain {
		t.Errorf("sticky scope = %q", pools[0].Sticky.Scope)
	}
	if pools[0].Sticky.TTLMs == nil || *pools[0].Sticky.TTLMs != 3600000 {
		t.Error("sticky TTL not carried through")
	}
}
