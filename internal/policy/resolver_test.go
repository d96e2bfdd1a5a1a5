package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"routesync/internal/model"
)

func nodes(ns ...model.ProxyNode) map[string]model.ProxyNode {
	m := make(map[string]model.ProxyNode, len(ns))
	for _, n := range ns {
		m[n.Name] = n
	}
	return m
}

func TestResolveTerminalProxyKinds(t *testing.T) {
	m := nodes(model.ProxyNode{Name: "hk-01", Type: "vmess"})
	r := New(m, zap.NewNop())
	assert.Equal(t, model.PolicyProxy, r.Resolve("hk-01"))
}

func TestResolveTerminalDirect(t *testing.T) {
	m := nodes(model.ProxyNode{Name: "DIRECT", Type: "direct"})
	r := New(m, zap.NewNop())
	assert.Equal(t, model.PolicyDirect, r.Resolve("DIRECT"))
}

func TestResolveTerminalReject(t *testing.T) {
	m := nodes(model.ProxyNode{Name: "REJECT", Type: "reject"})
	r := New(m, zap.NewNop())
	assert.Equal(t, model.PolicyReject, r.Resolve("REJECT"))
}

func TestResolveNameContainsRejectWinsOverUnknownKind(t *testing.T) {
	m := nodes(model.ProxyNode{Name: "ADBLOCK", Type: "unknown-kind"})
	r := New(m, zap.NewNop())
	assert.Equal(t, model.PolicyReject, r.Resolve("ADBLOCK"))
}

func TestResolveChainedSelector(t *testing.T) {
	m := nodes(
		model.ProxyNode{Name: "Auto", Type: "select", Now: "fallback", All: []string{"fallback", "hk-01"}},
		model.ProxyNode{Name: "fallback", Type: "fallback", Now: "hk-01", All: []string{"hk-01"}},
		model.ProxyNode{Name: "hk-01", Type: "trojan"},
	)
	r := New(m, zap.NewNop())
	assert.Equal(t, model.PolicyProxy, r.Resolve("Auto"))
}

func TestResolveCycleFallsBackToDirect(t *testing.T) {
	m := nodes(
		model.ProxyNode{Name: "A", Type: "select", Now: "B", All: []string{"B"}},
		model.ProxyNode{Name: "B", Type: "select", Now: "A", All: []string{"A"}},
	)
	r := New(m, zap.NewNop())
	assert.Equal(t, model.PolicyDirect, r.Resolve("A"))
}

func TestResolveUnknownNameFallsBackToDirect(t *testing.T) {
	r := New(nodes(), zap.NewNop())
	assert.Equal(t, model.PolicyDirect, r.Resolve("ghost"))
}

func TestResolveGroupWithNoSelectionFallsBackToDirect(t *testing.T) {
	m := nodes(model.ProxyNode{Name: "empty-group", Type: "select", All: []string{"a", "b"}})
	r := New(m, zap.NewNop())
	assert.Equal(t, model.PolicyDirect, r.Resolve("empty-group"))
}

func TestResolveIsMemoized(t *testing.T) {
	m := nodes(model.ProxyNode{Name: "hk-01", Type: "vmess"})
	r := New(m, zap.NewNop())
	first := r.Resolve("hk-01")
	delete(r.proxies, "hk-01")
	second := r.Resolve("hk-01")
	assert.Equal(t, first, second)
}

func TestResolveUnknownKindDefaultsToDirect(t *testing.T) {
	m := nodes(model.ProxyNode{Name: "weird", Type: "something-new"})
	r := New(m, zap.NewNop())
	assert.Equal(t, model.PolicyDirect, r.Resolve("weird"))
}
