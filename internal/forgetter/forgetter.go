// Package forgetter implements the Forgetter (spec.md §4.8): periodically
// samples a small fraction of nodes and edges and decays them, reconciling
// orphans and triggering a full resync on any change. Grounded on
// Hippocampus.py's operation_forget_topic / forget_topic.
package forgetter

import (
	"context"
	"math"
	"math/rand"

	"github.com/duskfield/hippograph/internal/memgraph"
	"github.com/duskfield/hippograph/internal/persistence"
	"github.com/duskfield/hippograph/log"
)

const itemStaleSeconds = 24 * 3600

// Forgetter decays edge strengths and prunes stale memory items.
type Forgetter struct {
	Graph       *memgraph.Graph
	Adapter     *persistence.Adapter
	Logger      log.Logger
	Rand        *rand.Rand
	ForgetHours float64 // edge staleness threshold, in hours
}

// New constructs a Forgetter.
func New(g *memgraph.Graph, adapter *persistence.Adapter, logger log.Logger, rng *rand.Rand, forgetHours float64) *Forgetter {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Forgetter{Graph: g, Adapter: adapter, Logger: logger, Rand: rng, ForgetHours: forgetHours}
}

// RunCycle samples a p-fraction of nodes and edges and decays them, then
// resyncs the full graph to storage if anything changed.
func (f *Forgetter) RunCycle(ctx context.Context, p, now float64) error {
	nodes := f.Graph.Nodes()
	edges := f.Graph.Edges()

	changed := false

	edgeSampleSize := int(math.Ceil(float64(len(edges)) * p))
	for _, e := range sampleEdges(edges, edgeSampleSize, f.Rand) {
		if now-e.LastModified <= f.ForgetHours*3600 {
			continue
		}
		if _, ok := f.Graph.WeakenEdge(e.Source, e.Target); ok {
			changed = true
		}
	}

	nodeByConcept := make(map[string]memgraph.Node, len(nodes))
	concepts := make([]string, len(nodes))
	for i, n := range nodes {
		nodeByConcept[n.Concept] = n
		concepts[i] = n.Concept
	}
	nodeSampleSize := int(math.Ceil(float64(len(concepts)) * p))
	for _, c := range f.Graph.Sample(concepts, nodeSampleSize) {
		n, ok := nodeByConcept[c]
		if !ok {
			continue
		}
		if len(n.Items) == 0 {
			if f.Graph.DeleteNode(c) {
				changed = true
			}
			continue
		}
		if now-n.LastModified <= itemStaleSeconds {
			continue
		}
		if _, ok := f.Graph.ForgetRandomItem(c); ok {
			changed = true
		}
	}

	if !changed {
		return nil
	}
	if err := f.Adapter.ResyncFull(ctx); err != nil {
		f.Logger.Error("forgetter: resync_full failed: %v", err)
		return err
	}
	return nil
}

func sampleEdges(edges []memgraph.Edge, k int, rng *rand.Rand) []memgraph.Edge {
	if k >= len(edges) {
		return edges
	}
	if k <= 0 {
		return nil
	}
	idx := rng.Perm(len(edges))[:k]
	out := make([]memgraph.Edge, 0, k)
	for _, i := range idx {
		out = append(out, edges[i])
	}
	return out
}
