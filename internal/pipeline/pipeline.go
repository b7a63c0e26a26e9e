package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/oicur0t/logdedup/internal/aggregator"
	"github.com/oicur0t/logdedup/internal/reader"
	"github.com/oicur0t/logdedup/internal/sink"
	"github.com/oicur0t/logdedup/pkg/models"
	"go.uber.org/zap"
)

// Result is the outcome of a successful run
type Result struct {
	Stats     aggregator.Stats
	Summaries []models.Summary
}

// Pipeline reads one input completely, aggregates it and hands the
// summaries to every sink. Sinks are only called once the whole input has
// parsed.
type Pipeline struct {
	source    reader.LineSource
	target    string
	threshold int
	sinks     []sink.Sink
	logger    *zap.Logger
}

// New creates a pipeline keeping groups of at least threshold records from
// the target address
func New(source reader.LineSource, target string, threshold int, sinks []sink.Sink, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		source:    source,
		target:    target,
		threshold: threshold,
		sinks:     sinks,
		logger:    logger,
	}
}

// Run executes the pipeline. The first sink error stops it.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	start := time.Now()

	agg := aggregator.New(p.target)
	if err := agg.Consume(reader.Records(p.source)); err != nil {
		return Result{}, fmt.Errorf("failed to aggregate input: %w", err)
	}

	summaries := agg.Summaries(p.threshold)
	stats := agg.Stats()

	p.logger.Info("Input aggregated",
		zap.Int("lines", stats.Lines),
		zap.Int("matched", stats.Matched),
		zap.Int("signatures", stats.Signatures),
		zap.Int("summaries", len(summaries)),
		zap.Duration("duration", time.Since(start)))

	for _, s := range p.sinks {
		if err := s.Write(ctx, summaries); err != nil {
			return Result{}, fmt.Errorf("sink %s: %w", s.Name(), err)
		}
	}

	return Result{Stats: stats, Summaries: summaries}, nil
}
