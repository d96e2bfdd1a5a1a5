// Package dispatch implements C5: the orchestrator that fetches upstream
// state, resolves policies, converts rules, and aggregates everything
// into the intermediate tree the merger (C6) later flattens. Grounded on
// mihomo_sync/modules/rule_generation_orchestrator.py.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"routesync/internal/atomicfile"
	"routesync/internal/config"
	"routesync/internal/localconfig"
	"routesync/internal/model"
	"routesync/internal/policy"
	"routesync/internal/rulecache"
	"routesync/internal/ruleconv"
	"routesync/internal/upstreamclient"
)

var canonicalPolicies = []string{model.PolicyDirect, model.PolicyProxy, model.PolicyReject}

// Orchestrator runs one dispatch pass, producing a fresh intermediate tree
// on every call.
type Orchestrator struct {
	cfg    *config.Config
	client *upstreamclient.Client
	cache  *rulecache.Cache
	log    *zap.Logger
}

// New builds an Orchestrator.
func New(cfg *config.Config, client *upstreamclient.Client, cache *rulecache.Cache, log *zap.Logger) *Orchestrator {
	return &Orchestrator{cfg: cfg, client: client, cache: cache, log: log.Named("dispatch")}
}

// buckets accumulates lines keyed by policy, then family, then shard.
type buckets map[string]map[string]map[string][]string

func (b buckets) add(pol, family, shard string, lines ...string) {
	fam, ok := b[pol]
	if !ok {
		fam = make(map[string]map[string][]string)
		b[pol] = fam
	}
	shards, ok := fam[family]
	if !ok {
		shards = make(map[string][]string)
		fam[family] = shards
	}
	shards[shard] = append(shards[shard], lines...)
}

// Run executes a full dispatch pass and returns the path to the freshly
// written intermediate tree.
func (o *Orchestrator) Run(ctx context.Context) (string, error) {
	runID := uuid.NewString()
	log := o.log.With(zap.String("run_id", runID))
	intermediateDir := o.cfg.IntermediateDir()

	if err := o.prepareWorkspace(intermediateDir); err != nil {
		return "", fmt.Errorf("preparing workspace: %w", err)
	}

	fetchStart := time.Now()
	snap, err := o.client.FetchAll(ctx)
	if err != nil {
		return "", fmt.Errorf("fetching upstream state: %w", err)
	}
	log.Debug("upstream state fetched", zap.Duration("elapsed", time.Since(fetchStart)))

	providers := o.mergedProviders(snap.Providers)

	urls := o.collectURLs(snap.Rules, providers)
	cacheStart := time.Now()
	if err := o.cache.EnsureUpdated(ctx, urls); err != nil {
		return "", fmt.Errorf("prefetching rule-sets: %w", err)
	}
	log.Debug("rule-sets prefetched", zap.Int("count", len(urls)), zap.Duration("elapsed", time.Since(cacheStart)))

	processStart := time.Now()
	b := o.dispatchRules(snap.Rules, snap.Proxies, providers)
	log.Debug("rules processed", zap.Int("count", len(snap.Rules.Rules)), zap.Duration("elapsed", time.Since(processStart)))

	if err := o.emit(intermediateDir, b); err != nil {
		return "", fmt.Errorf("writing intermediate tree: %w", err)
	}

	return intermediateDir, nil
}

func (o *Orchestrator) prepareWorkspace(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	for _, pol := range canonicalPolicies {
		if err := os.MkdirAll(filepath.Join(dir, strings.ToLower(pol)), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// mergedProviders merges the local config's rule-providers (C8) over the
// upstream-fetched providers; local entries win (spec.md §4.5 step 2).
func (o *Orchestrator) mergedProviders(fetched model.ProvidersResponse) map[string]model.Provider {
	providers := make(map[string]model.Provider, len(fetched.Providers))
	for name, p := range fetched.Providers {
		providers[name] = p
	}

	if o.cfg.UpstreamLocalConfigPath == "" {
		return providers
	}

	local, err := localconfig.Parse(o.cfg.UpstreamLocalConfigPath, o.log)
	if err != nil {
		o.log.Warn("ignoring local config", zap.Error(err))
		return providers
	}
	for name, p := range local {
		providers[name] = p
	}
	return providers
}

// collectURLs walks every RULE-SET rule and returns the de-duplicated set
// of provider URLs to prefetch, after applying the binary-format rewrite.
func (o *Orchestrator) collectURLs(rules model.RulesResponse, providers map[string]model.Provider) []string {
	seen := make(map[string]struct{})
	var urls []string
	for _, rule := range rules.Rules {
		if rule.Type != "RULE-SET" {
			continue
		}
		p, ok := providers[rule.Payload]
		if !ok {
			o.log.Warn("unknown rule-set provider", zap.String("provider", rule.Payload))
			continue
		}
		url := ruleconv.RewriteBinaryURL(p.URL, p.Format, p.Behavior)
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		urls = append(urls, url)
	}
	return urls
}

func (o *Orchestrator) dispatchRules(rules model.RulesResponse, proxiesResp model.ProxiesResponse, providers map[string]model.Provider) buckets {
	b := make(buckets)
	resolver := policy.New(proxiesResp.Proxies, o.log)

	for _, rule := range rules.Rules {
		pol := resolver.Resolve(rule.Policy)
		if pol != model.PolicyDirect && pol != model.PolicyProxy && pol != model.PolicyReject {
			o.log.Debug("unresolved policy, skipping rule", zap.String("policy_name", rule.Policy))
			continue
		}

		if rule.Type == "RULE-SET" {
			o.dispatchRuleSet(b, pol, rule, providers)
			continue
		}

		line, family, ok := ruleconv.Convert(rule, o.log)
		if !ok {
			continue
		}
		b.add(pol, family, "_inline_rules", line)
	}

	return b
}

func (o *Orchestrator) dispatchRuleSet(b buckets, pol string, rule model.Rule, providers map[string]model.Provider) {
	p, ok := providers[rule.Payload]
	if !ok {
		o.log.Warn("unknown rule-set provider", zap.String("provider", rule.Payload))
		return
	}

	url := ruleconv.RewriteBinaryURL(p.URL, p.Format, p.Behavior)
	path := o.cache.PathFor(url)

	body, err := os.ReadFile(path)
	if err != nil {
		o.log.Warn("cached rule-set file unavailable, skipping provider",
			zap.String("provider", rule.Payload), zap.Error(err))
		return
	}

	shard := "provider_" + rule.Payload
	parsed := ruleconv.ParseProviderLines(p.Behavior, body, o.log)
	for family, lines := range parsed {
		if len(lines) == 0 {
			continue
		}
		b.add(pol, family, shard, lines...)
	}
}

// emit writes every non-empty bucket as a sorted, deduplicated .list file.
func (o *Orchestrator) emit(intermediateDir string, b buckets) error {
	for _, pol := range canonicalPolicies {
		families := b[pol]
		for family, shards := range families {
			for shard, lines := range shards {
				if len(lines) == 0 {
					continue
				}
				dir := filepath.Join(intermediateDir, strings.ToLower(pol), family)
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
				path := filepath.Join(dir, shard+".list")
				if err := atomicfile.Write(path, []byte(sortedUnique(lines))); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func sortedUnique(lines []string) string {
	seen := make(map[string]struct{}, len(lines))
	uniq := make([]string, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		uniq = append(uniq, l)
	}
	sort.Strings(uniq)
	if len(uniq) == 0 {
		return ""
	}
	return strings.Join(uniq, "\n") + "\n"
}
