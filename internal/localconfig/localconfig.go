// Package localconfig implements C8: an optional YAML file, in the
// upstream router's own config format, that supplies rule-provider
// metadata overriding what the upstream API reports. A missing or
// unreadable file is non-fatal — the dispatch orchestrator falls back to
// the upstream-supplied provider list.
package localconfig

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"routesync/internal/model"
)

// document mirrors the slice of the upstream router's native config file
// this package cares about. yaml.v3 resolves anchors and merge keys
// (`<<:`) natively while decoding, satisfying spec.md §4.8's requirement.
type document struct {
	RuleProviders map[string]model.Provider `yaml:"rule-providers"`
}

// Parse reads and decodes the rule-providers section of the upstream
// router's local YAML config file. A missing file returns (nil, nil): the
// caller is expected to treat that as "no override available", exactly as
// the Python original's parse_config_file does by returning None.
func Parse(path string, log *zap.Logger) (map[string]model.Provider, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("local config file not found, skipping", zap.String("path", path))
			return nil, nil
		}
		return nil, fmt.Errorf("reading local config %q: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		log.Error("failed to parse local config file", zap.String("path", path), zap.Error(err))
		return nil, nil
	}

	for name, p := range doc.RuleProviders {
		p.Name = name
		doc.RuleProviders[name] = p
	}

	log.Debug("extracted rule providers from local config",
		zap.Int("providers_count", len(doc.RuleProviders)),
		zap.String("path", path))

	return doc.RuleProviders, nil
}
