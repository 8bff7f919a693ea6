package config

import (
	"fmt"
	"maps"

	"github.com/jpalmerr/resultstore/internal/poller"
	"github.com/jpalmerr/resultstore/internal/registry"
)

// defaultUpMatch is the regex group value that means up when none is set.
const defaultUpMatch = "up"

// Entries converts parsed configuration into registry entries, applying the
// global poll interval and retry delay to sources that do not set their own.
func Entries(cfg *Config) ([]registry.Entry, error) {
	entries := make([]registry.Entry, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		e, err := buildEntry(cfg, sc)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// buildEntry converts a single SourceConfig to a registry entry.
func buildEntry(cfg *Config, sc SourceConfig) (registry.Entry, error) {
	extractor, err := buildExtractor(sc.Extractor)
	if err != nil {
		return registry.Entry{}, fmt.Errorf("source %q: %w", sc.Name, err)
	}

	interval := sc.Interval
	if interval == 0 {
		interval = cfg.PollInterval
	}

	retry := sc.RetryDelay
	switch {
	case retry == 0:
		retry = cfg.RetryDelay
	case retry < 0:
		retry = 0
	}

	return registry.Entry{
		Source: poller.Source{
			Name:      sc.Name,
			URL:       sc.URL,
			Method:    sc.Method,
			Headers:   maps.Clone(sc.Headers),
			Labels:    maps.Clone(sc.Labels),
			Timeout:   sc.Timeout.Duration(),
			Interval:  interval.Duration(),
			Extractor: extractor,
		},
		RetryDelay: retry.Duration(),
	}, nil
}

// buildExtractor converts ExtractorConfig to an Extractor.
// Returns nil for default/empty extractors (the poller uses DefaultExtractor).
func buildExtractor(ec ExtractorConfig) (poller.Extractor, error) {
	switch ec.Type {
	case "", "default":
		return nil, nil
	case "http":
		return poller.HTTPStatusExtractor, nil
	case "json":
		return poller.JSONFieldExtractor(ec.Path), nil
	case "contains":
		return poller.ContainsExtractor(ec.Text), nil
	case "regex":
		up := ec.Up
		if up == "" {
			up = defaultUpMatch
		}
		return poller.RegexExtractor(ec.Pattern, up)
	default:
		return nil, fmt.Errorf("unknown extractor type %q", ec.Type)
	}
}
