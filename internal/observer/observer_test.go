package observer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"routesync/internal/config"
	"routesync/internal/dispatch"
	"routesync/internal/merge"
	"routesync/internal/reload"
	"routesync/internal/rulecache"
	"routesync/internal/upstreamclient"
)

func testObserver(t *testing.T, proxiesBody, providersBody string, countFile string) (*Observer, *config.Config) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/proxies", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(proxiesBody))
	})
	mux.HandleFunc("/providers/rules", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(providersBody))
	})
	mux.HandleFunc("/rules", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rules":[]}`))
	})
	mux.HandleFunc("/configs", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := &config.Config{
		UpstreamAPIURL:          srv.URL,
		UpstreamAPITimeout:      2,
		DownstreamRulesPath:     filepath.Join(dir, "final"),
		DownstreamReloadCommand: fmt.Sprintf("printf x >> %s", countFile),
		PollingInterval:         0.02,
		DebounceInterval:        0.03,
		RetryConfig:             config.RetryConfig{MaxRetries: 1, InitialBackoff: 0.01, MaxBackoff: 0.02},
	}

	client := upstreamclient.New(cfg, zap.NewNop())
	cache, err := rulecache.New(cfg, zap.NewNop())
	require.NoError(t, err)

	pipeline := Pipeline{
		Dispatcher: dispatch.New(cfg, client, cache, zap.NewNop()),
		Merger:     merge.New(zap.NewNop()),
		Reloader:   reload.New(cfg.DownstreamReloadCommand, zap.NewNop()),
		FinalDir:   cfg.DownstreamRulesPath,
	}

	return New(cfg, client, pipeline, zap.NewNop()), cfg
}

func TestSnapshotHashOnlyIncludesStrategyGroups(t *testing.T) {
	o, _ := testObserver(t, `{"proxies":{
		"Auto":{"name":"Auto","type":"select","now":"hk-01","all":["hk-01"]},
		"hk-01":{"name":"hk-01","type":"trojan"}
	}}`, `{"providers":{}}`, filepath.Join(t.TempDir(), "count"))

	hash, snap, err := o.snapshotHash(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.Contains(t, snap.Proxies, "Auto")
	assert.NotContains(t, snap.Proxies, "hk-01")
}

func TestSnapshotHashChangesWithResolvedPolicy(t *testing.T) {
	countFile := filepath.Join(t.TempDir(), "count")
	o1, _ := testObserver(t, `{"proxies":{
		"Auto":{"name":"Auto","type":"select","now":"hk-01","all":["hk-01"]},
		"hk-01":{"name":"hk-01","type":"trojan"}
	}}`, `{"providers":{}}`, countFile)
	h1, _, err := o1.snapshotHash(context.Background())
	require.NoError(t, err)

	o2, _ := testObserver(t, `{"proxies":{
		"Auto":{"name":"Auto","type":"select","now":"DIRECT","all":["DIRECT"]},
		"DIRECT":{"name":"DIRECT","type":"direct"}
	}}`, `{"providers":{}}`, countFile)
	h2, _, err := o2.snapshotHash(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestSnapshotHashDeterministic(t *testing.T) {
	countFile := filepath.Join(t.TempDir(), "count")
	o, _ := testObserver(t, `{"proxies":{
		"Auto":{"name":"Auto","type":"select","now":"hk-01","all":["hk-01"]},
		"hk-01":{"name":"hk-01","type":"trojan"}
	}}`, `{"providers":{"ads":{"name":"ads","updatedAt":"2026-01-01","vehicleType":"http"}}}`, countFile)

	h1, _, err := o.snapshotHash(context.Background())
	require.NoError(t, err)
	h2, _, err := o.snapshotHash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestDebounceBurstTriggersExactlyOnePipelineRun(t *testing.T) {
	countFile := filepath.Join(t.TempDir(), "count")
	require.NoError(t, os.WriteFile(countFile, []byte{}, 0o644))

	o, cfg := testObserver(t, `{"proxies":{"DIRECT":{"name":"DIRECT","type":"direct"}}}`, `{"providers":{}}`, countFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.runPipelineLoop(ctx)

	for i := 0; i < 5; i++ {
		o.scheduleDebounce()
		time.Sleep(cfg.DebounceWindow() / 3)
	}

	time.Sleep(cfg.DebounceWindow() * 4)

	data, err := os.ReadFile(countFile)
	require.NoError(t, err)
	assert.Equal(t, "x", string(data), "a burst within the debounce window must trigger exactly one run")
}

func TestDebounceSeparatedByQuietPeriodTriggersTwice(t *testing.T) {
	countFile := filepath.Join(t.TempDir(), "count")
	require.NoError(t, os.WriteFile(countFile, []byte{}, 0o644))

	o, cfg := testObserver(t, `{"proxies":{"DIRECT":{"name":"DIRECT","type":"direct"}}}`, `{"providers":{}}`, countFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.runPipelineLoop(ctx)

	o.scheduleDebounce()
	time.Sleep(cfg.DebounceWindow() * 4)

	o.scheduleDebounce()
	time.Sleep(cfg.DebounceWindow() * 4)

	data, err := os.ReadFile(countFile)
	require.NoError(t, err)
	assert.Equal(t, "xx", string(data))
}
