// Package policy implements C2: reducing any upstream proxy-group
// selection chain to one of the three canonical classes DIRECT/PROXY/
// REJECT, per spec.md §4.2.
package policy

import (
	"strings"

	"go.uber.org/zap"

	"routesync/internal/model"
)

// proxyKind classification table (spec.md §4.2, case-insensitive, first
// match wins). This is intentionally a data table rather than a switch
// so the set of recognized kinds stays easy to extend without touching
// the resolution algorithm — the open question in spec.md §9 asks for
// exactly this externalization.
var rejectKinds = map[string]bool{
	"reject":      true,
	"reject-drop": true,
	"block":       true,
}

var directKinds = map[string]bool{
	"direct": true,
	"static": true,
}

var proxyKinds = map[string]bool{
	"shadowsocks": true, "vmess": true, "vless": true, "trojan": true,
	"snell": true, "socks5": true, "http": true, "https": true,
	"hysteria": true, "hysteria2": true, "tuic": true, "wireguard": true,
	"ssh": true, "anytls": true, "external": true, "internal": true,
	"pass": true, "compatible": true,
}

// Resolver resolves policy names against a single snapshot of proxy data.
// Its memoization table is scoped to one Resolver instance; a fresh
// Resolver must be created per pipeline run (spec.md §4.2, §4.5: "one
// resolver instance per run").
type Resolver struct {
	proxies map[string]model.ProxyNode
	memo    map[string]string
	log     *zap.Logger
}

// New builds a Resolver bound to a single snapshot of proxy data.
func New(proxies map[string]model.ProxyNode, log *zap.Logger) *Resolver {
	return &Resolver{
		proxies: proxies,
		memo:    make(map[string]string),
		log:     log.Named("policy"),
	}
}

// Resolve reduces name to one of model.PolicyDirect/PolicyProxy/
// PolicyReject, walking chained strategy groups and detecting cycles.
func (r *Resolver) Resolve(name string) string {
	if cached, ok := r.memo[name]; ok {
		return cached
	}
	result := r.resolveRecursive(name, make(map[string]bool))
	r.memo[name] = result
	return result
}

func (r *Resolver) resolveRecursive(name string, visiting map[string]bool) string {
	if visiting[name] {
		r.log.Error("cycle detected while resolving policy",
			zap.String("policy_name", name))
		return model.PolicyDirect
	}

	node, ok := r.proxies[name]
	if !ok {
		r.log.Warn("policy not found among proxy data", zap.String("policy_name", name))
		return model.PolicyDirect
	}

	if !node.IsGroup() {
		return r.standardize(node)
	}

	if node.Now == "" {
		r.log.Warn("strategy group has no current selection", zap.String("policy_name", name))
		return model.PolicyDirect
	}

	visiting[name] = true
	return r.resolveRecursive(node.Now, visiting)
}

// standardize classifies a terminal node's kind/name into one of the
// three canonical policies, per the table in spec.md §4.2.
func (r *Resolver) standardize(node model.ProxyNode) string {
	kind := strings.ToLower(node.Type)
	name := strings.ToUpper(node.Name)

	if rejectKinds[kind] || strings.Contains(name, "REJECT") || strings.Contains(name, "BLOCK") {
		return model.PolicyReject
	}
	if directKinds[kind] || strings.Contains(name, "DIRECT") {
		return model.PolicyDirect
	}
	if proxyKinds[kind] {
		return model.PolicyProxy
	}
	return model.PolicyDirect
}
