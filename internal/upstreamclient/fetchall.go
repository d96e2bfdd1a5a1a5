package upstreamclient

import (
	"context"

	"golang.org/x/sync/errgroup"

	"routesync/internal/model"
)

// Snapshot bundles the four upstream reads the dispatch orchestrator (C5)
// and state observer (C7) need in one round-trip.
type Snapshot struct {
	Rules     model.RulesResponse
	Proxies   model.ProxiesResponse
	Providers model.ProvidersResponse
	Configs   model.ConfigsResponse
}

// FetchAll performs /rules, /proxies, /providers/rules and /configs
// concurrently. Any single failure aborts the whole fetch (the dispatch
// orchestrator's run is pipeline-wide and must abort, per spec.md §7's
// WriteError/ConnectError handling).
func (c *Client) FetchAll(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.Rules, err = c.GetRules(ctx)
		return err
	})
	g.Go(func() (err error) {
		snap.Proxies, err = c.GetProxies(ctx)
		return err
	})
	g.Go(func() (err error) {
		snap.Providers, err = c.GetProviders(ctx)
		return err
	})
	g.Go(func() (err error) {
		snap.Configs, err = c.GetConfigs(ctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// FetchState performs just the two reads the observer needs for its
// snapshot hash (proxies + providers), concurrently.
func (c *Client) FetchState(ctx context.Context) (model.ProxiesResponse, model.ProvidersResponse, error) {
	var proxies model.ProxiesResponse
	var providers model.ProvidersResponse

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		proxies, err = c.GetProxies(ctx)
		return err
	})
	g.Go(func() (err error) {
		providers, err = c.GetProviders(ctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return model.ProxiesResponse{}, model.ProvidersResponse{}, err
	}
	return proxies, providers, nil
}
