package types

import (
	"strings"
	"testing"
)

func httpEndpoints(n int) []ProxyEndpoint {
	eps := make([]ProxyEndpoint, n)
	for i := range eps {
		eps[i] = ProxyEndpoint{Protocol: ProxyProtocolHTTP, Host: "proxy.example.com", Port: 8080 + i}
	}
	return eps
}

func TestProxyEndpointWarnings(t *testing.T) {
	socks := &ProxyEndpoint{Protocol: ProxyProtocolSOCKS5, Host: "proxy.example.com", Port: 1080}
	if got := socks.Warnings(); len(got) != 1 || !strings.Contains(got[0], "socks5") {
		t.Errorf("socks5 endpoint warnings = %v, want one socks5 warning", got)
	}

	plain := &ProxyEndpoint{Protocol: ProxyProtocolHTTP, Host: "proxy.example.com", Port: 8080}
	if got := plain.Warnings(); len(got) != 0 {
		t.Errorf("http endpoint warnings = %v, want none", got)
	}
}

func TestProxyPoolWarningsLargeRoundRobin(t *testing.T) {
	pool := &ProxyPool{
		Name:      "large-pool",
		Strategy:  ProxyStrategyRoundRobin,
		Endpoints: httpEndpoints(LargePoolThreshold + 1),
	}
	if got := pool.Warnings(); len(got) == 0 {
		t.Error("expected a warning for a large round_robin pool")
	}

	// The same pool under random draws no complaint.
	pool.Strategy = ProxyStrategyRandom
	if got := pool.Warnings(); len(got) != 0 {
		t.Errorf("large random pool warnings = %v, want none", got)
	}
}

func TestProxyPoolWarningsSocks5Endpoint(t *testing.T) {
	pool := &ProxyPool{
		Name:     "socks-pool",
		Strategy: ProxyStrategyRandom,
		Endpoints: []ProxyEndpoint{
			{Protocol: ProxyProtocolHTTP, Host: "http.example.com", Port: 8080},
			{Protocol: ProxyProtocolSOCKS5, Host: "socks.example.com", Port: 1080},
		},
	}
	if got := pool.Warnings(); len(got) == 0 {
		t.Error("expected a warning for a pool containing a socks5 endpoint")
	}
}

func TestProxyPoolWarningsClean(t *testing.T) {
	pool := &ProxyPool{
		Name:      "normal-pool",
		Strategy:  ProxyStrategyRoundRobin,
		Endpoints: httpEndpoints(1),
	}
	if got := pool.Warnings(); len(got) != 0 {
		t.Errorf("warnings = %v, want none", got)
	}
}
