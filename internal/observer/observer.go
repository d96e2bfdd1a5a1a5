// Package observer implements C7: the polling loop that hashes upstream
// state, debounces bursts of change, and single-flights the rule
// generation pipeline (C5 → C6 → reload). Grounded on
// mihomo_sync/modules/state_monitor.py's StateMonitor.
package observer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"routesync/internal/config"
	"routesync/internal/dispatch"
	"routesync/internal/healthz"
	"routesync/internal/merge"
	"routesync/internal/policy"
	"routesync/internal/reload"
	"routesync/internal/upstreamclient"
)

// Pipeline bundles the three stages a debounced trigger runs in sequence.
type Pipeline struct {
	Dispatcher *dispatch.Orchestrator
	Merger     *merge.Merger
	Reloader   *reload.Reloader
	FinalDir   string
}

// Observer runs the poll/debounce/trigger loop described in spec.md §4.7.
type Observer struct {
	cfg      *config.Config
	client   *upstreamclient.Client
	pipeline Pipeline
	log      *zap.Logger

	mu            sync.Mutex
	debounceTimer *time.Timer
	triggerCh     chan struct{}
}

// New builds an Observer.
func New(cfg *config.Config, client *upstreamclient.Client, pipeline Pipeline, log *zap.Logger) *Observer {
	return &Observer{
		cfg:       cfg,
		client:    client,
		pipeline:  pipeline,
		log:       log.Named("observer"),
		triggerCh: make(chan struct{}, 1),
	}
}

// snapshot is the canonicalized subset of upstream state whose hash
// changing indicates a real DNS-routing-relevant change (spec.md §3).
// json.Marshal sorts map keys, which gives a deterministic encoding
// without a separate canonicalization pass.
type snapshot struct {
	Proxies   map[string]proxyEntry    `json:"proxies"`
	Providers map[string]providerEntry `json:"providers"`
}

type proxyEntry struct {
	ResolvedPolicy string `json:"resolved_policy"`
}

type providerEntry struct {
	UpdatedAt   string `json:"updated_at"`
	VehicleType string `json:"vehicle_type"`
}

// Run executes the observer loop until ctx is cancelled.
func (o *Observer) Run(ctx context.Context) error {
	go o.runPipelineLoop(ctx)

	ticker := time.NewTicker(o.cfg.PollInterval())
	defer ticker.Stop()

	var lastHash string
	var lastSnap snapshot
	first := true

	for {
		hash, snap, err := o.snapshotHash(ctx)
		if err != nil {
			o.log.Error("failed to compute state snapshot, will retry next poll", zap.Error(err))
		} else {
			if !first && hash != lastHash {
				o.log.Info("state change detected", zap.String("hash", hash[:16]))
				logStateDiff(o.log, lastSnap, snap)
				o.scheduleDebounce()
			}
			lastHash = hash
			lastSnap = snap
			first = false
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Observer) snapshotHash(ctx context.Context) (string, snapshot, error) {
	proxies, providers, err := o.client.FetchState(ctx)
	if err != nil {
		return "", snapshot{}, fmt.Errorf("fetching state: %w", err)
	}

	resolver := policy.New(proxies.Proxies, o.log)

	snap := snapshot{
		Proxies:   make(map[string]proxyEntry),
		Providers: make(map[string]providerEntry),
	}
	for name, node := range proxies.Proxies {
		if !node.IsGroup() || node.Now == "" {
			continue
		}
		snap.Proxies[name] = proxyEntry{ResolvedPolicy: resolver.Resolve(name)}
	}
	for name, p := range providers.Providers {
		snap.Providers[name] = providerEntry{UpdatedAt: p.UpdatedAt, VehicleType: p.Vehicle}
	}

	encoded, err := json.Marshal(snap)
	if err != nil {
		return "", snapshot{}, fmt.Errorf("encoding state snapshot: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), snap, nil
}

// logStateDiff reports which named proxies/providers were added, removed,
// or changed between two snapshots, at debug level. Purely a diagnostic
// aid for tuning polling_interval/debounce_interval against a flapping
// upstream; it plays no part in change detection itself.
func logStateDiff(log *zap.Logger, prev, next snapshot) {
	for name, entry := range next.Proxies {
		old, existed := prev.Proxies[name]
		switch {
		case !existed:
			log.Debug("proxy group added", zap.String("name", name), zap.String("resolved_policy", entry.ResolvedPolicy))
		case old.ResolvedPolicy != entry.ResolvedPolicy:
			log.Debug("proxy group policy changed", zap.String("name", name),
				zap.String("from", old.ResolvedPolicy), zap.String("to", entry.ResolvedPolicy))
		}
	}
	for name := range prev.Proxies {
		if _, ok := next.Proxies[name]; !ok {
			log.Debug("proxy group removed", zap.String("name", name))
		}
	}
	for name, entry := range next.Providers {
		old, existed := prev.Providers[name]
		switch {
		case !existed:
			log.Debug("rule-set provider added", zap.String("name", name))
		case old.UpdatedAt != entry.UpdatedAt:
			log.Debug("rule-set provider updated", zap.String("name", name), zap.String("updated_at", entry.UpdatedAt))
		}
	}
	for name := range prev.Providers {
		if _, ok := next.Providers[name]; !ok {
			log.Debug("rule-set provider removed", zap.String("name", name))
		}
	}
}

// scheduleDebounce (re)arms the trailing debounce timer. A change arriving
// before the previous timer fires cancels and replaces it.
func (o *Observer) scheduleDebounce() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.debounceTimer != nil && o.debounceTimer.Stop() {
		// A pending, not-yet-fired timer was cancelled: this change
		// coalesces into the trailing window instead of starting a
		// second one.
		healthz.IncDebounceCoalesced()
	}
	o.debounceTimer = time.AfterFunc(o.cfg.DebounceWindow(), func() {
		select {
		case o.triggerCh <- struct{}{}:
		default:
			// A run is already queued; this burst coalesces into it.
			healthz.IncDebounceCoalesced()
		}
	})
}

// runPipelineLoop is the sole consumer of triggerCh, which guarantees at
// most one pipeline execution in flight and serializes any that arrive
// while one is running (spec.md §4.7, single-flight).
func (o *Observer) runPipelineLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.triggerCh:
			o.executePipeline(ctx)
		}
	}
}

func (o *Observer) executePipeline(ctx context.Context) {
	log := o.log.With(zap.String("run_id", uuid.NewString()))
	log.Info("debounce elapsed, running pipeline")
	start := time.Now()

	intermediateDir, err := o.pipeline.Dispatcher.Run(ctx)
	if err != nil {
		healthz.IncPipelineRun("dispatch")
		log.Error("dispatch failed, keeping previous final files", zap.Error(err))
		return
	}

	if err := o.pipeline.Merger.Merge(intermediateDir, o.pipeline.FinalDir); err != nil {
		healthz.IncPipelineRun("merge")
		log.Error("merge failed, keeping previous final files", zap.Error(err))
		return
	}

	if err := o.pipeline.Reloader.Reload(ctx); err != nil {
		healthz.IncPipelineRun("reload")
		log.Error("reload failed, new final files remain in place", zap.Error(err))
	} else {
		healthz.IncPipelineRun("ok")
	}

	log.Info("pipeline run complete", zap.Duration("elapsed", time.Since(start)))
}
