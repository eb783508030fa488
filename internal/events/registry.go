package events

import (
	"context"
	"fmt"
	"strings"
)

// Builder creates a Source from a config entry.
type Builder func(ctx context.Context, cfg SourceConfig, log Logger) (Source, error)

// DefaultBuilders wires up known source types.
func DefaultBuilders() map[string]Builder {
	return map[string]Builder{
		TypeSQS:    newSQSSource,
		TypePubSub: newPubSubSource,
		TypeFile:   newFileSource,
	}
}

// BuildAll instantiates sources for cfgs using builders.
func BuildAll(ctx context.Context, builders map[string]Builder, cfgs []SourceConfig, log Logger) ([]Source, error) {
	out := make([]Source, 0, len(cfgs))
	for _, cfg := range cfgs {
		build, ok := builders[strings.ToLower(cfg.Type)]
		if !ok || build == nil {
			return nil, fmt.Errorf("no source registered for type %q", cfg.Type)
		}
		src, err := build(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("build source %s: %w", cfg.ID, err)
		}
		out = append(out, src)
	}
	return out, nil
}
