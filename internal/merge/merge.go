// Package merge implements C6: flattening the intermediate tree produced
// by the dispatch orchestrator (C5) into the flat, final downstream
// files, deduplicating lexically with no semantic interpretation.
package merge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"routesync/internal/atomicfile"
)

var (
	policies = []string{"direct", "proxy", "reject"}
	families = []string{"domain", "ipv4", "ipv6"}
)

// Merger reads an intermediate tree and writes the final output tree.
type Merger struct {
	log *zap.Logger
}

// New builds a Merger.
func New(log *zap.Logger) *Merger {
	return &Merger{log: log.Named("merge")}
}

// Merge reads every `.list` shard under intermediateDir and writes the
// sorted, deduplicated union for each (policy, family) pair into
// finalDir. Writes are staged into a shadow directory and swapped in with
// a single rename at the end, so a failed merge never leaves finalDir
// partially rewritten (spec.md §7, WriteError).
func (m *Merger) Merge(intermediateDir, finalDir string) error {
	shadowDir := finalDir + ".tmp-swap"
	if err := os.RemoveAll(shadowDir); err != nil {
		return fmt.Errorf("clearing shadow dir %s: %w", shadowDir, err)
	}
	if err := os.MkdirAll(shadowDir, 0o755); err != nil {
		return fmt.Errorf("creating shadow dir %s: %w", shadowDir, err)
	}
	defer os.RemoveAll(shadowDir)

	for _, pol := range policies {
		for _, family := range families {
			lines, err := m.readShards(filepath.Join(intermediateDir, pol, family))
			if err != nil {
				return fmt.Errorf("reading %s/%s shards: %w", pol, family, err)
			}
			if len(lines) == 0 {
				continue
			}

			path := filepath.Join(shadowDir, pol+"_"+family+".txt")
			if err := atomicfile.Write(path, []byte(sortedUnique(lines))); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
		}
	}

	if err := os.RemoveAll(finalDir); err != nil {
		return fmt.Errorf("removing previous final dir %s: %w", finalDir, err)
	}
	if err := os.Rename(shadowDir, finalDir); err != nil {
		return fmt.Errorf("swapping shadow dir into %s: %w", finalDir, err)
	}

	m.log.Info("merge complete", zap.String("final_dir", finalDir))
	return nil
}

func (m *Merger) readShards(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".list") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		for _, l := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			if l != "" {
				lines = append(lines, l)
			}
		}
	}
	return lines, nil
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
