// Package builder implements the Builder (spec.md §4.6): orchestrates the
// Scheduler and Compressor, inserts nodes, links topics, and syncs the graph
// to the persistence layer. Grounded on Hippocampus.py's
// operation_build_memory and, for the plain-function orchestration shape
// (no dynamic-dispatch state-graph), on the teacher's rag/pipeline.go
// BuildBasicRAG.
package builder

import (
	"context"
	"math"
	"math/rand"

	"github.com/duskfield/hippograph/internal/compressor"
	"github.com/duskfield/hippograph/internal/memgraph"
	"github.com/duskfield/hippograph/internal/persistence"
	"github.com/duskfield/hippograph/internal/scheduler"
	"github.com/duskfield/hippograph/log"
)

// Builder wires the Scheduler, Compressor, Graph and Persistence Adapter
// together for one build cycle.
type Builder struct {
	Graph      *memgraph.Graph
	Scheduler  *scheduler.Scheduler
	Compressor *compressor.Compressor
	Adapter    *persistence.Adapter
	Logger     log.Logger

	SnippetLength   int
	CompressionRate float64
}

// New constructs a Builder.
func New(g *memgraph.Graph, sched *scheduler.Scheduler, comp *compressor.Compressor, adapter *persistence.Adapter, logger log.Logger, snippetLength int, compressionRate float64) *Builder {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Builder{
		Graph:           g,
		Scheduler:       sched,
		Compressor:      comp,
		Adapter:         adapter,
		Logger:          logger,
		SnippetLength:   snippetLength,
		CompressionRate: compressionRate,
	}
}

// RunCycle samples n candidate timestamps from dist, acquires a snippet per
// timestamp, compresses each into topics, wires nodes and edges into the
// graph, then runs one incremental sync. A canceled context stops processing
// between snippets (a natural checkpoint boundary) without losing work
// already merged into the graph.
func (b *Builder) RunCycle(ctx context.Context, dist scheduler.Distribution, n int, now float64, src rand.Source, chatID string) error {
	timestamps := scheduler.SampleTimestamps(dist, n, now, src)

	for _, ts := range timestamps {
		if err := ctx.Err(); err != nil {
			b.Logger.Info("builder: cycle canceled between snippets: %v", err)
			break
		}

		snippet, err := b.Scheduler.SampleSnippet(ctx, ts, b.SnippetLength, chatID)
		if err != nil {
			b.Logger.Warn("builder: snippet acquisition failed: %v", err)
			continue
		}
		if snippet == nil {
			continue
		}

		existing := concepts(b.Graph.Nodes())
		result, err := b.Compressor.Compress(ctx, snippet.Messages, b.CompressionRate, existing)
		if err != nil {
			b.Logger.Warn("builder: compression failed: %v", err)
			continue
		}
		b.merge(result)
	}

	if err := b.Adapter.SyncIncremental(ctx); err != nil {
		b.Logger.Error("builder: incremental sync failed: %v", err)
		return err
	}
	return nil
}

// merge applies one Compressor result to the graph: add_item for every
// topic, force_connect for similarity links (skipping links whose strength
// would floor to 0), and connect for every intra-snippet topic pair.
func (b *Builder) merge(result *compressor.Result) {
	for _, ts := range result.Topics {
		b.Graph.AddItem(ts.Topic, ts.Summary)
	}

	for topic, links := range result.Similarities {
		for _, link := range links {
			strength := int(math.Floor(link.Similarity * 10))
			if strength < 1 {
				continue
			}
			b.Graph.ForceConnect(topic, link.ExistingTopic, strength)
		}
	}

	for i := 0; i < len(result.Topics); i++ {
		for j := i + 1; j < len(result.Topics); j++ {
			b.Graph.Connect(result.Topics[i].Topic, result.Topics[j].Topic)
		}
	}
}

func concepts(nodes []memgraph.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Concept
	}
	return out
}
