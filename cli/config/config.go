package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/quarrio/quarry/types"
)

// Config is the shape of a quarry.yaml file. Every value is optional
// and acts as a default for quarry run; CLI flags always win.
type Config struct {
	Source            string                     `yaml:"source"`
	Category          string                     `yaml:"category"`
	Executor          string                     `yaml:"executor"`
	BrowserWSEndpoint string                     `yaml:"browser_ws_endpoint"`
	NoBrowserReuse    bool                       `yaml:"no_browser_reuse"`
	ResolveFrom       string                     `yaml:"resolve_from"`
	Storage           StorageConfig              `yaml:"storage"`
	Policy            PolicyConfig               `yaml:"policy"`
	Proxies           map[string]ProxyPoolConfig `yaml:"proxies"`
	Proxy             ProxySelection             `yaml:"proxy"`
	Adapter           AdapterConfig              `yaml:"adapter"`
}

// StorageConfig carries storage defaults.
type StorageConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// PolicyConfig carries ingestion policy defaults.
type PolicyConfig struct {
	Name          string   `yaml:"name"`
	FlushMode     string   `yaml:"flush_mode"`
	BufferEvents  int      `yaml:"buffer_events"`
	BufferBytes   int64    `yaml:"buffer_bytes"`
	FlushCount    int      `yaml:"flush_count"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// ProxyPoolConfig is one pool definition; the pool name is the map
// key in the proxies section, not a struct field.
type ProxyPoolConfig struct {
	Strategy      types.ProxyStrategy   `yaml:"strategy"`
	Endpoints     []types.ProxyEndpoint `yaml:"endpoints"`
	Sticky        *types.ProxySticky    `yaml:"sticky,omitempty"`
	RecencyWindow *int                  `yaml:"recency_window,omitempty"`
}

// ProxySelection carries job-level proxy selection defaults.
type ProxySelection struct {
	Pool     string `yaml:"pool"`
	Strategy string `yaml:"strategy"`
}

// AdapterConfig carries notification adapter defaults.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration parses YAML duration strings such as "10s" or "5m30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml unmarshaling for Duration.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ProxyPools flattens the map-keyed proxies section into a slice of
// types.ProxyPool, sorted by name so registration order is
// deterministic.
func (c *Config) ProxyPools() []types.ProxyPool {
	if len(c.Proxies) == 0 {
		return nil
	}

	names := make([]string, 0, len(c.Proxies))
	for name := range c.Proxies {
		names = append(names, name)
	}
	sort.Strings(names)

	pools := make([]types.ProxyPool, 0, len(names))
	for _, name := range names {
		pc := c.Proxies[name]
		pools = append(pools, types.ProxyPool{
			Name:          name,
			Strategy:      pc.Strategy,
			Endpoints:     pc.Endpoints,
			Sticky:        pc.Sticky,
			RecencyWindow: pc.RecencyWindow,
		})
	}
	return pools
}
