// Package types defines core domain types for the Quarry runtime.
package types

import "fmt"

// ProxyProtocol is an allowed proxy protocol. socks5 is best-effort
// with Puppeteer.
type ProxyProtocol string

const (
	ProxyProtocolHTTP   ProxyProtocol = "http"
	ProxyProtocolHTTPS  ProxyProtocol = "https"
	ProxyProtocolSOCKS5 ProxyProtocol = "socks5"
)

// ProxyStrategy selects how a pool hands out endpoints.
type ProxyStrategy string

const (
	ProxyStrategyRoundRobin ProxyStrategy = "round_robin"
	ProxyStrategyRandom     ProxyStrategy = "random"
	ProxyStrategySticky     ProxyStrategy = "sticky"
)

// ProxyStickyScope names the request field (job, domain, or origin)
// that keys sticky assignment when no explicit sticky key is given.
type ProxyStickyScope string

const (
	ProxyStickyJob    ProxyStickyScope = "job"
	ProxyStickyDomain ProxyStickyScope = "domain"
	ProxyStickyOrigin ProxyStickyScope = "origin"
)

// LargePoolThreshold is the endpoint count above which round_robin is
// discouraged in favor of random.
const LargePoolThreshold = 50

// ProxyEndpoint is a resolved endpoint the executor can dial.
type ProxyEndpoint struct {
	Protocol ProxyProtocol `json:"protocol" msgpack:"protocol"`
	Host     string        `json:"host" msgpack:"host"`
	Port     int           `json:"port" msgpack:"port"`
	Username *string       `json:"username,omitempty" msgpack:"username,omitempty"`
	Password *string       `json:"password,omitempty" msgpack:"password,omitempty"`
}

// ProxyEndpointRedacted is an endpoint stripped of its password; the
// only proxy shape that may appear in run results and reports.
type ProxyEndpointRedacted struct {
	Protocol ProxyProtocol `json:"protocol" msgpack:"protocol"`
	Host     string        `json:"host" msgpack:"host"`
	Port     int           `json:"port" msgpack:"port"`
	Username *string       `json:"username,omitempty" msgpack:"username,omitempty"`
}

// Validate applies the hard rules for a single endpoint.
func (p *ProxyEndpoint) Validate() error {
	switch p.Protocol {
	case ProxyProtocolHTTP, ProxyProtocolHTTPS, ProxyProtocolSOCKS5:
	default:
		return fmt.Errorf("invalid protocol %q: must be http, https, or socks5", p.Protocol)
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", p.Port)
	}
	hasUser := p.Username != nil && *p.Username != ""
	hasPass := p.Password != nil && *p.Password != ""
	if hasUser != hasPass {
		return fmt.Errorf("username and password must be provided together")
	}
	return nil
}

// Redact copies the endpoint, dropping the password.
func (p *ProxyEndpoint) Redact() ProxyEndpointRedacted {
	return ProxyEndpointRedacted{
		Protocol: p.Protocol,
		Host:     p.Host,
		Port:     p.Port,
		Username: p.Username,
	}
}

// Warnings returns non-fatal issues worth surfacing to the user.
func (p *ProxyEndpoint) Warnings() []string {
	if p.Protocol == ProxyProtocolSOCKS5 {
		return []string{"socks5 protocol is best-effort with Puppeteer; consider http or https for reliable proxy support"}
	}
	return nil
}

// ProxySticky configures sticky assignment for a pool.
type ProxySticky struct {
	Scope ProxyStickyScope `json:"scope" msgpack:"scope"`
	// TTLMs bounds how long a sticky entry lives, in milliseconds.
	TTLMs *int64 `json:"ttl_ms,omitempty" msgpack:"ttl_ms,omitempty"`
}

// ProxyPool is a named set of endpoints plus a rotation policy.
type ProxyPool struct {
	Name      string          `json:"name" msgpack:"name"`
	Strategy  ProxyStrategy   `json:"strategy" msgpack:"strategy"`
	Endpoints []ProxyEndpoint `json:"endpoints" msgpack:"endpoints"`
	Sticky    *ProxySticky    `json:"sticky,omitempty" msgpack:"sticky,omitempty"`
	// RecencyWindow, when set, keeps the random strategy from
	// re-picking the last N endpoints.
	RecencyWindow *int `json:"recency_window,omitempty" msgpack:"recency_window,omitempty"`
}

// Validate applies the hard rules for a pool and all its endpoints.
func (p *ProxyPool) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pool name is required")
	}
	switch p.Strategy {
	case ProxyStrategyRoundRobin, ProxyStrategyRandom, ProxyStrategySticky:
	default:
		return fmt.Errorf("invalid strategy %q: must be round_robin, random, or sticky", p.Strategy)
	}
	if len(p.Endpoints) == 0 {
		return fmt.Errorf("pool must have at least one endpoint")
	}
	for i := range p.Endpoints {
		if err := p.Endpoints[i].Validate(); err != nil {
			return fmt.Errorf("endpoints[%d]: %w", i, err)
		}
	}
	if p.RecencyWindow != nil && *p.RecencyWindow <= 0 {
		return fmt.Errorf("recency window must be positive")
	}
	if s := p.Sticky; s != nil {
		switch s.Scope {
		case ProxyStickyJob, ProxyStickyDomain, ProxyStickyOrigin:
		default:
			return fmt.Errorf("invalid sticky scope %q: must be job, domain, or origin", s.Scope)
		}
		if s.TTLMs != nil && *s.TTLMs <= 0 {
			return fmt.Errorf("sticky TTL must be positive")
		}
	}
	return nil
}

// Warnings returns non-fatal issues worth surfacing to the user.
func (p *ProxyPool) Warnings() []string {
	var warnings []string
	if p.Strategy == ProxyStrategyRoundRobin && len(p.Endpoints) > LargePoolThreshold {
		warnings = append(warnings, fmt.Sprintf("pool %q has %d endpoints with round_robin strategy; consider random for large pools", p.Name, len(p.Endpoints)))
	}
	for _, ep := range p.Endpoints {
		if ep.Protocol == ProxyProtocolSOCKS5 {
			warnings = append(warnings, fmt.Sprintf("pool %q contains socks5 endpoints; socks5 is best-effort with Puppeteer", p.Name))
			break
		}
	}
	return warnings
}

// JobProxyRequest is a job-level proxy selection request.
type JobProxyRequest struct {
	// Pool names the pool to select from.
	Pool string `json:"pool" msgpack:"pool"`
	// Strategy optionally overrides the pool's strategy.
	Strategy *ProxyStrategy `json:"strategy,omitempty" msgpack:"strategy,omitempty"`
	// StickyKey optionally overrides the derived sticky key.
	StickyKey *string `json:"sticky_key,omitempty" msgpack:"sticky_key,omitempty"`
}
