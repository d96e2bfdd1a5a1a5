// Package ruleconv implements C4: converting upstream rule syntax (both
// inline rules from /rules and provider rule-set file bodies) into the
// downstream line format, grounded on
// mihomo_sync/modules/rule_converter.py's RuleConverter.
package ruleconv

import (
	"bufio"
	"strings"

	"go.uber.org/zap"

	"routesync/internal/model"
)

// Convert maps a single inline rule to its downstream line and family, per
// the table in spec.md §4.4. ok is false for unsupported or RULE-SET
// rule types (RULE-SET defers to provider
// expansion and is never converted here).
func Convert(rule model.Rule, log *zap.Logger) (line string, family string, ok bool) {
	payload := rule.Payload

	switch rule.Type {
	case "DOMAIN":
		return "full:" + payload, model.FamilyDomain, true
	case "DOMAIN-SUFFIX":
		return domainSuffixLine(payload), model.FamilyDomain, true
	case "DOMAIN-KEYWORD":
		return "keyword:" + payload, model.FamilyDomain, true
	case "DOMAIN-WILDCARD":
		return domainWildcardLine(payload), model.FamilyDomain, true
	case "DOMAIN-REGEX":
		return "regexp:" + payload, model.FamilyDomain, true
	case "IP-CIDR", "IP-SUFFIX":
		return payload, ipFamily(payload), true
	case "IP-CIDR6":
		return payload, model.FamilyIPv6, true
	default:
		log.Debug("skipping unsupported inline rule type", zap.String("rule_type", rule.Type))
		return "", "", false
	}
}

func domainSuffixLine(payload string) string {
	switch {
	case strings.HasPrefix(payload, "*."):
		return "domain:" + payload[2:]
	case strings.HasPrefix(payload, "+."):
		return "domain:" + payload[2:]
	case strings.HasPrefix(payload, "."):
		return "domain:" + payload[1:]
	case payload == "*":
		return "keyword:"
	default:
		return "domain:" + payload
	}
}

func domainWildcardLine(payload string) string {
	switch {
	case strings.HasPrefix(payload, "*."):
		return "domain:" + payload[2:]
	case payload == "*":
		return "keyword:"
	default:
		return "keyword:" + payload
	}
}

// ipFamily classifies a raw CIDR/IP-with-mask literal: ipv4 iff it
// contains a dot, ipv6 otherwise. The colon is not checked, so a literal
// with neither a dot nor a colon is also classified as ipv6.
func ipFamily(payload string) string {
	if strings.Contains(payload, ".") {
		return model.FamilyIPv4
	}
	return model.FamilyIPv6
}

// ParseProviderLines parses the body of a cached rule-set provider file
// according to its declared behavior (domain/ipcidr/classical), returning
// downstream lines bucketed by family.
func ParseProviderLines(behavior string, body []byte, log *zap.Logger) map[string][]string {
	out := map[string][]string{
		model.FamilyDomain: {},
		model.FamilyIPv4:   {},
		model.FamilyIPv6:   {},
	}

	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	switch strings.ToLower(behavior) {
	case model.BehaviorDomain:
		for scanner.Scan() {
			if line, ok := parseDomainLine(scanner.Text()); ok {
				out[model.FamilyDomain] = append(out[model.FamilyDomain], line)
			}
		}
	case model.BehaviorIPCIDR:
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, "/") {
				continue
			}
			out[ipFamily(line)] = append(out[ipFamily(line)], line)
		}
	case model.BehaviorClassical:
		for scanner.Scan() {
			line, family, ok := parseClassicalLine(scanner.Text(), log)
			if ok {
				out[family] = append(out[family], line)
			}
		}
	default:
		log.Warn("unsupported provider behavior", zap.String("behavior", behavior))
	}

	return out
}

func parseDomainLine(raw string) (string, bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", false
	}
	switch {
	case strings.HasPrefix(line, "*."):
		return "domain:" + line[2:], true
	case strings.HasPrefix(line, "+."):
		return "domain:" + line[2:], true
	case strings.HasPrefix(line, "."):
		return "domain:" + line[1:], true
	case line == "*":
		return "keyword:", true
	default:
		return "domain:" + line, true
	}
}

// parseClassicalLine parses a "<TYPE>,<payload>" line, mapping TYPE the
// same way the inline table does. Unknown types are skipped.
func parseClassicalLine(raw string, log *zap.Logger) (line string, family string, ok bool) {
	text := strings.TrimSpace(raw)
	if text == "" || strings.HasPrefix(text, "#") {
		return "", "", false
	}

	parts := strings.SplitN(text, ",", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	ruleType, payload := parts[0], parts[1]

	switch ruleType {
	case "DOMAIN":
		return "full:" + payload, model.FamilyDomain, true
	case "DOMAIN-SUFFIX":
		return domainSuffixLine(payload), model.FamilyDomain, true
	case "DOMAIN-KEYWORD":
		return "keyword:" + payload, model.FamilyDomain, true
	case "DOMAIN-WILDCARD":
		return domainWildcardLine(payload), model.FamilyDomain, true
	case "DOMAIN-REGEX":
		return "regexp:" + payload, model.FamilyDomain, true
	case "IP-CIDR", "IP-SUFFIX":
		return payload, ipFamily(payload), true
	case "IP-CIDR6":
		return payload, model.FamilyIPv6, true
	default:
		log.Debug("skipping unsupported classical rule type", zap.String("rule_type", ruleType))
		return "", "", false
	}
}

// RewriteBinaryURL rewrites a provider's URL suffix when it declares a
// binary vehicle (mihomo's "mrs" format), to the plaintext equivalent
// appropriate to behavior: domain/ipcidr providers are fetched as .list,
// classical providers as .yaml. Anything else is returned unchanged.
func RewriteBinaryURL(url, format, behavior string) string {
	if format != model.FormatBinary && format != model.FormatMRS {
		return url
	}
	switch strings.ToLower(behavior) {
	case model.BehaviorDomain, model.BehaviorIPCIDR:
		return replaceSuffix(url, ".list")
	case model.BehaviorClassical:
		return replaceSuffix(url, ".yaml")
	default:
		return url
	}
}

func replaceSuffix(url, newSuffix string) string {
	if idx := strings.LastIndex(url, "."); idx != -1 {
		return url[:idx] + newSuffix
	}
	return url + newSuffix
}
