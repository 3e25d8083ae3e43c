// Package consolidator implements the Consolidator (spec.md §4.9): merges
// near-duplicate items within a node, at most one merge per node per pass,
// and triggers a full resync on any change. Grounded on Hippocampus.py's
// operation_consolidate_memory / _calculate_item_similarity.
package consolidator

import (
	"context"
	"math"
	"math/rand"

	"github.com/duskfield/hippograph/internal/memgraph"
	"github.com/duskfield/hippograph/internal/persistence"
	"github.com/duskfield/hippograph/internal/textutil"
	"github.com/duskfield/hippograph/log"
)

// Consolidator merges near-duplicate items within eligible nodes.
type Consolidator struct {
	Graph     *memgraph.Graph
	Adapter   *persistence.Adapter
	Logger    log.Logger
	Rand      *rand.Rand
	Threshold float64
}

// New constructs a Consolidator.
func New(g *memgraph.Graph, adapter *persistence.Adapter, logger log.Logger, rng *rand.Rand, threshold float64) *Consolidator {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Consolidator{Graph: g, Adapter: adapter, Logger: logger, Rand: rng, Threshold: threshold}
}

// RunCycle samples a p-fraction of nodes with ≥2 items and, for each, merges
// the first item pair whose set-cosine similarity meets Threshold, keeping
// the item with higher information content. Resyncs fully if any merge
// occurred.
func (c *Consolidator) RunCycle(ctx context.Context, p float64) error {
	eligible := c.Graph.NodesWithAtLeast(2)
	sampleSize := int(math.Ceil(float64(len(eligible)) * p))
	sampled := c.Graph.Sample(eligible, sampleSize)

	changed := false
	for _, concept := range sampled {
		if mergeOne(c.Graph, concept, c.Threshold) {
			changed = true
		}
	}

	if !changed {
		return nil
	}
	if err := c.Adapter.ResyncFull(ctx); err != nil {
		c.Logger.Error("consolidator: resync_full failed: %v", err)
		return err
	}
	return nil
}

// mergeOne finds the first unordered item pair within concept whose
// set-cosine similarity meets threshold and replaces them with the one item
// of higher information content (ties keep the first). Returns true if a
// merge happened.
func mergeOne(g *memgraph.Graph, concept string, threshold float64) bool {
	items, ok := g.NodeItems(concept)
	if !ok || len(items) < 2 {
		return false
	}

	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			sim := textutil.CosineText(items[i], items[j])
			if sim < threshold {
				continue
			}
			kept := items[i]
			if textutil.InformationContent(items[j]) > textutil.InformationContent(items[i]) {
				kept = items[j]
			}
			merged := make([]string, 0, len(items)-1)
			for k, it := range items {
				if k == i || k == j {
					continue
				}
				merged = append(merged, it)
			}
			merged = append(merged, kept)
			return g.SetItems(concept, merged)
		}
	}
	return false
}
