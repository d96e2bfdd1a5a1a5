// Package model holds the data types shared across the routesync pipeline:
// the narrow, explicitly-typed slice of the upstream router's schema-light
// JSON that the rest of the pipeline is allowed to depend on.
package model

// Canonical policy classes. Every rule that survives processing is tagged
// with exactly one of these.
const (
	PolicyDirect = "DIRECT"
	PolicyProxy  = "PROXY"
	PolicyReject = "REJECT"
)

// Rule family, i.e. which final/intermediate bucket a converted line
// belongs in.
const (
	FamilyDomain = "domain"
	FamilyIPv4   = "ipv4"
	FamilyIPv6   = "ipv6"
)

// Provider behavior, i.e. the schema of a provider's rule-set file.
const (
	BehaviorDomain    = "domain"
	BehaviorIPCIDR    = "ipcidr"
	BehaviorClassical = "classical"
)

// Provider vehicle/format. "binary" (mihomo calls it "mrs") providers get
// their URL rewritten to the list/yaml equivalent before being fetched.
const (
	FormatText   = "text"
	FormatYAML   = "yaml"
	FormatBinary = "binary"
	FormatMRS    = "mrs"
)

// Rule is a single inline matcher read from the upstream's /rules
// endpoint.
type Rule struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Policy  string `json:"proxy"`
}

// RulesResponse is the decoded body of GET /rules.
type RulesResponse struct {
	Rules []Rule `json:"rules"`
}

// ProxyNode is a single entry from the upstream's /proxies endpoint. Group
// nodes (selector/fallback/url-test/load-balance/relay) carry Now and All;
// terminal nodes carry neither.
type ProxyNode struct {
	Name string   `json:"name"`
	Type string   `json:"type"`
	Now  string   `json:"now,omitempty"`
	All  []string `json:"all,omitempty"`
}

// IsGroup reports whether this node delegates to a child rather than being
// a concrete, terminal proxy. Per spec.md §4.2 this is shape-based (a
// member-list field), not a hardcoded kind enumeration.
func (p ProxyNode) IsGroup() bool {
	return len(p.All) > 0
}

// ProxiesResponse is the decoded body of GET /proxies.
type ProxiesResponse struct {
	Proxies map[string]ProxyNode `json:"proxies"`
}

// Provider is a rule-set provider record, merged from the upstream's
// /providers/rules endpoint and optionally overridden by the local config
// file (C8).
type Provider struct {
	Name      string `json:"name" yaml:"name"`
	Behavior  string `json:"behavior" yaml:"behavior"`
	Format    string `json:"format" yaml:"format"`
	URL       string `json:"url" yaml:"url"`
	Path      string `json:"path,omitempty" yaml:"path,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty" yaml:"-"`
	Vehicle   string `json:"vehicleType,omitempty" yaml:"-"`
}

// ProvidersResponse is the decoded body of GET /providers/rules.
type ProvidersResponse struct {
	Providers map[string]Provider `json:"providers"`
}

// ConfigsResponse is the decoded body of GET /configs. routesync only uses
// it for connectivity checks; its fields are intentionally not modeled
// beyond what health-checking needs.
type ConfigsResponse struct {
	Port int `json:"port,omitempty"`
}
