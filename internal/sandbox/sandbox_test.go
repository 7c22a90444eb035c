package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathRulesAllowAndBlock(t *testing.T) {
	rules := PathRules{Allow: []string{"/tmp"}, Block: []string{"/tmp/secret"}}
	assert.True(t, rules.Check("/tmp/test.txt"))
	assert.True(t, rules.Check("/tmp"))
	assert.False(t, rules.Check("/etc/passwd"))
	assert.False(t, rules.Check("/tmp/secret/key"), "block list takes precedence over allow")
}

func TestNetworkAllowAll(t *testing.T) {
	rules := []NetworkRule{AllowAll{}}
	assert.True(t, CheckNetwork(rules, "anything.example", 1234))
}

func TestNetworkAllowHostExactPort(t *testing.T) {
	port := 443
	rules := []NetworkRule{AllowHost{Host: "example.com", Port: &port}}
	assert.True(t, CheckNetwork(rules, "example.com", 443))
	assert.False(t, CheckNetwork(rules, "example.com", 80))
}

func TestNetworkWildcardHostRequiresLabel(t *testing.T) {
	rules := []NetworkRule{AllowHost{Host: "*.example.com"}}
	assert.True(t, CheckNetwork(rules, "api.example.com", 80))
	assert.False(t, CheckNetwork(rules, "example.com", 80))
}

func TestNetworkAllowCIDR(t *testing.T) {
	rules := []NetworkRule{AllowCIDR{CIDR: "192.168.1.0/24"}}
	assert.True(t, CheckNetwork(rules, "192.168.1.100", 80))
	assert.False(t, CheckNetwork(rules, "192.168.2.100", 80))
}

func TestNetworkBlockOverridesAllowAll(t *testing.T) {
	rules := []NetworkRule{BlockHost{Host: "evil.com"}, AllowAll{}}
	assert.False(t, CheckNetwork(rules, "evil.com", 80))
	assert.True(t, CheckNetwork(rules, "good.com", 80))
}

func TestPermissionManagerCapabilityAndPath(t *testing.T) {
	sb := New()
	sb.Set(1, &SandboxConfig{
		Capabilities: CapFileRead,
		PathRules:    PathRules{Allow: []string{"/tmp"}},
	})
	pm := NewPermissionManager(sb, PermissionConfig{})

	d, err := pm.Check(Request{Pid: 1, Resource: Resource{Kind: ResourcePath, Path: "/tmp/test.txt"}, Action: CapFileRead})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.False(t, d.Cached)

	d2, err := pm.Check(Request{Pid: 1, Resource: Resource{Kind: ResourcePath, Path: "/tmp/test.txt"}, Action: CapFileRead})
	require.NoError(t, err)
	assert.True(t, d2.Allowed)
	assert.True(t, d2.Cached)

	denied, err := pm.Check(Request{Pid: 1, Resource: Resource{Kind: ResourcePath, Path: "/etc/passwd"}, Action: CapFileRead})
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
}

func TestPermissionManagerMissingCapabilityDenied(t *testing.T) {
	sb := New()
	sb.Set(1, &SandboxConfig{})
	pm := NewPermissionManager(sb, PermissionConfig{})

	d, err := pm.Check(Request{Pid: 1, Resource: Resource{Kind: ResourceOther}, Action: CapCreateProcess})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestPermissionManagerNoSandboxDenied(t *testing.T) {
	sb := New()
	pm := NewPermissionManager(sb, PermissionConfig{})

	d, err := pm.Check(Request{Pid: 42, Resource: Resource{Kind: ResourceOther}, Action: CapFileRead})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestInvalidatePidClearsCache(t *testing.T) {
	sb := New()
	sb.Set(1, &SandboxConfig{Capabilities: CapFileRead, PathRules: PathRules{Allow: []string{"/tmp"}}})
	pm := NewPermissionManager(sb, PermissionConfig{})

	req := Request{Pid: 1, Resource: Resource{Kind: ResourcePath, Path: "/tmp/a"}, Action: CapFileRead}
	_, err := pm.Check(req)
	require.NoError(t, err)

	pm.InvalidatePid(1)
	pm.Sandboxes().RevokeCapability(1, CapFileRead)

	d, err := pm.Check(req)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.False(t, d.Cached, "invalidated entries must be resolved fresh")
}

func TestCacheEntryExpiresAfterTTL(t *testing.T) {
	sb := New()
	sb.Set(1, &SandboxConfig{Capabilities: CapFileRead, PathRules: PathRules{Allow: []string{"/tmp"}}})
	pm := NewPermissionManager(sb, PermissionConfig{CacheTTL: 10 * time.Millisecond})

	req := Request{Pid: 1, Resource: Resource{Kind: ResourcePath, Path: "/tmp/a"}, Action: CapFileRead}
	_, err := pm.Check(req)
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)
	d, err := pm.Check(req)
	require.NoError(t, err)
	assert.False(t, d.Cached, "expired entries must be re-resolved, not served stale")
}

func TestAuditHookInvokedOnEveryResolve(t *testing.T) {
	sb := New()
	sb.Set(1, &SandboxConfig{Capabilities: CapFileRead, PathRules: PathRules{Allow: []string{"/tmp"}}})

	var audited []Request
	pm := NewPermissionManager(sb, PermissionConfig{Audit: func(req Request, _ Decision) {
		audited = append(audited, req)
	}})

	req := Request{Pid: 1, Resource: Resource{Kind: ResourcePath, Path: "/tmp/a"}, Action: CapFileRead}
	_, err := pm.Check(req)
	require.NoError(t, err)
	_, err = pm.Check(req) // cached — audit should not fire again
	require.NoError(t, err)

	assert.Len(t, audited, 1)
}
