package merge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeShard(t *testing.T, intermediateDir, pol, family, shard, content string) {
	t.Helper()
	dir := filepath.Join(intermediateDir, pol, family)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, shard+".list"), []byte(content), 0o644))
}

func TestMergeUnionsAndDedupesShards(t *testing.T) {
	root := t.TempDir()
	intermediateDir := filepath.Join(root, "intermediate")
	finalDir := filepath.Join(root, "final")

	writeShard(t, intermediateDir, "proxy", "domain", "_inline_rules", "domain:a.com\ndomain:b.com\n")
	writeShard(t, intermediateDir, "proxy", "domain", "provider_ads", "domain:b.com\ndomain:c.com\n")

	m := New(zap.NewNop())
	require.NoError(t, m.Merge(intermediateDir, finalDir))

	data, err := os.ReadFile(filepath.Join(finalDir, "proxy_domain.txt"))
	require.NoError(t, err)
	assert.Equal(t, "domain:a.com\ndomain:b.com\ndomain:c.com\n", string(data))
}

func TestMergeOmitsEmptyPairs(t *testing.T) {
	root := t.TempDir()
	intermediateDir := filepath.Join(root, "intermediate")
	finalDir := filepath.Join(root, "final")
	require.NoError(t, os.MkdirAll(filepath.Join(intermediateDir, "direct"), 0o755))

	m := New(zap.NewNop())
	require.NoError(t, m.Merge(intermediateDir, finalDir))

	entries, err := os.ReadDir(finalDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMergeIsPureAndDeterministic(t *testing.T) {
	root := t.TempDir()
	intermediateDir := filepath.Join(root, "intermediate")
	finalDir := filepath.Join(root, "final")
	writeShard(t, intermediateDir, "direct", "ipv4", "_inline_rules", "1.2.3.0/24\n0.0.0.0/8\n")

	m := New(zap.NewNop())
	require.NoError(t, m.Merge(intermediateDir, finalDir))
	first, err := os.ReadFile(filepath.Join(finalDir, "direct_ipv4.txt"))
	require.NoError(t, err)

	require.NoError(t, m.Merge(intermediateDir, finalDir))
	second, err := os.ReadFile(filepath.Join(finalDir, "direct_ipv4.txt"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "0.0.0.0/8\n1.2.3.0/24\n", string(first))
}

func TestMergeReplacesStaleFinalFiles(t *testing.T) {
	root := t.TempDir()
	intermediateDir := filepath.Join(root, "intermediate")
	finalDir := filepath.Join(root, "final")

	writeShard(t, intermediateDir, "reject", "domain", "_inline_rules", "domain:old.com\n")
	m := New(zap.NewNop())
	require.NoError(t, m.Merge(intermediateDir, finalDir))

	require.NoError(t, os.RemoveAll(filepath.Join(intermediateDir, "reject", "domain")))
	writeShard(t, intermediateDir, "proxy", "domain", "_inline_rules", "domain:new.com\n")
	require.NoError(t, m.Merge(intermediateDir, finalDir))

	_, err := os.Stat(filepath.Join(finalDir, "reject_domain.txt"))
	assert.True(t, os.IsNotExist(err), "stale final file must not survive a run that no longer produces it")

	data, err := os.ReadFile(filepath.Join(finalDir, "proxy_domain.txt"))
	require.NoError(t, err)
	assert.Equal(t, "domain:new.com\n", string(data))
}

func TestMergeLeavesNoShadowDirBehind(t *testing.T) {
	root := t.TempDir()
	intermediateDir := filepath.Join(root, "intermediate")
	finalDir := filepath.Join(root, "final")
	writeShard(t, intermediateDir, "proxy", "domain", "_inline_rules", "domain:a.com\n")

	m := New(zap.NewNop())
	require.NoError(t, m.Merge(intermediateDir, finalDir))

	_, err := os.Stat(finalDir + ".tmp-swap")
	assert.True(t, os.IsNotExist(err))
}
