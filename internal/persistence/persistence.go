// Package persistence implements the bidirectional sync between the in-memory
// concept graph and a persistent node/edge store (spec.md §4.3). The adapter
// is storage-agnostic; concrete backends (sqlitestore, pgstore) implement the
// Store interface, grounded respectively on the teacher's
// store/sqlite/sqlite.go and store/postgres/postgres.go upsert patterns.
package persistence

import (
	"context"
	"encoding/json"

	"github.com/duskfield/hippograph/internal/memgraph"
	"github.com/duskfield/hippograph/log"
)

// NodeRecord is the GraphNodes row shape (spec.md §6).
type NodeRecord struct {
	Concept      string
	Items        []string
	Hash         uint64
	CreatedTime  float64
	LastModified float64
}

// EdgeRecord is the GraphEdges row shape (spec.md §6).
type EdgeRecord struct {
	Source       string
	Target       string
	Strength     int
	Hash         uint64
	CreatedTime  float64
	LastModified float64
}

// Store is the persistent node/edge store collaborator. Backends must make
// UpsertNodes/UpsertEdges/DeleteNodes/DeleteEdges atomic per call (spec.md
// §5: "a batch either fully applies or fully fails").
type Store interface {
	LoadAll(ctx context.Context) ([]NodeRecord, []EdgeRecord, error)
	UpsertNodes(ctx context.Context, nodes []NodeRecord) error
	DeleteNodes(ctx context.Context, concepts []string) error
	UpsertEdges(ctx context.Context, edges []EdgeRecord) error
	DeleteEdges(ctx context.Context, pairs [][2]string) error
	// ReplaceAll truncates both tables and bulk-inserts nodes then edges,
	// all inside one transaction (spec.md §4.3 resync_full).
	ReplaceAll(ctx context.Context, nodes []NodeRecord, edges []EdgeRecord) error
	Close() error
}

// DefaultBatchSize lies within spec.md's "~100-500 per operation" range.
const DefaultBatchSize = 250

// Adapter wires a Graph to a Store.
type Adapter struct {
	Graph     *memgraph.Graph
	Store     Store
	Logger    log.Logger
	BatchSize int
}

// New constructs an Adapter with the default batch size.
func New(g *memgraph.Graph, store Store, logger log.Logger) *Adapter {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Adapter{Graph: g, Store: store, Logger: logger, BatchSize: DefaultBatchSize}
}

func (a *Adapter) batchSize() int {
	if a.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return a.BatchSize
}

// serialiseItems coerces a node's items to the UTF-8 JSON array of strings
// the Store backends persist (spec.md §4.3: "coerce each item to a string
// first"). In this Go implementation items are always strings already, and
// json.Marshal does not fail on a []string (invalid UTF-8 is replaced with
// U+FFFD), so the error path is defensive; classifyNode drops the node from the graph on failure rather than
// forwarding it to the store, matching spec.md §4.3's "failure to serialise
// a node causes that node to be dropped from the graph (logged)".
func serialiseItems(items []string) ([]byte, error) {
	return json.Marshal(items)
}

// classifyNode validates n's items are serialisable and, if so, reports
// whether it differs from the known DB hash and needs an upsert. On a
// serialisation failure it deletes the node from g and returns ok=false so
// the caller skips it entirely.
func classifyNode(g *memgraph.Graph, logger log.Logger, n memgraph.Node, dbHash uint64, inDB bool) (record NodeRecord, needsUpsert, ok bool) {
	if _, err := serialiseItems(n.Items); err != nil {
		g.DeleteNode(n.Concept)
		logger.Warn("persistence: dropping node %q, items not serialisable: %v", n.Concept, err)
		return NodeRecord{}, false, false
	}
	hash := memgraph.NodeHash(n.Concept, n.Items)
	record = NodeRecord{
		Concept: n.Concept, Items: n.Items, Hash: hash,
		CreatedTime: n.CreatedTime, LastModified: n.LastModified,
	}
	return record, !inDB || dbHash != hash, true
}

// LoadOnStart reads both tables into the in-memory graph, backfilling missing
// timestamps with "now" and persisting that backfill (spec.md §4.3). An edge
// whose endpoint is missing is silently dropped.
func (a *Adapter) LoadOnStart(ctx context.Context) error {
	nodes, edges, err := a.Store.LoadAll(ctx)
	if err != nil {
		return err
	}

	now := a.Graph.Now()
	known := make(map[string]struct{}, len(nodes))
	var backfilledNodes []NodeRecord

	for _, n := range nodes {
		created, lastMod := n.CreatedTime, n.LastModified
		backfilled := false
		if created == 0 {
			created = now
			backfilled = true
		}
		if lastMod == 0 {
			lastMod = now
			backfilled = true
		}
		a.Graph.Restore(n.Concept, n.Items, created, lastMod)
		known[n.Concept] = struct{}{}
		if backfilled {
			backfilledNodes = append(backfilledNodes, NodeRecord{
				Concept: n.Concept, Items: n.Items,
				Hash: memgraph.NodeHash(n.Concept, n.Items),
				CreatedTime: created, LastModified: lastMod,
			})
		}
	}

	var backfilledEdges []EdgeRecord
	for _, e := range edges {
		if _, ok := known[e.Source]; !ok {
			a.Logger.Debug("persistence: dropping edge %s-%s, missing endpoint %s", e.Source, e.Target, e.Source)
			continue
		}
		if _, ok := known[e.Target]; !ok {
			a.Logger.Debug("persistence: dropping edge %s-%s, missing endpoint %s", e.Source, e.Target, e.Target)
			continue
		}
		created, lastMod := e.CreatedTime, e.LastModified
		backfilled := false
		if created == 0 {
			created = now
			backfilled = true
		}
		if lastMod == 0 {
			lastMod = now
			backfilled = true
		}
		a.Graph.RestoreEdge(e.Source, e.Target, e.Strength, created, lastMod)
		if backfilled {
			backfilledEdges = append(backfilledEdges, EdgeRecord{
				Source: e.Source, Target: e.Target, Strength: e.Strength,
				Hash: memgraph.EdgeHash(e.Source, e.Target),
				CreatedTime: created, LastModified: lastMod,
			})
		}
	}

	if len(backfilledNodes) > 0 {
		if err := a.flushUpsertNodes(ctx, backfilledNodes); err != nil {
			a.Logger.Warn("persistence: failed to persist timestamp backfill for nodes: %v", err)
		}
	}
	if len(backfilledEdges) > 0 {
		if err := a.flushUpsertEdges(ctx, backfilledEdges); err != nil {
			a.Logger.Warn("persistence: failed to persist timestamp backfill for edges: %v", err)
		}
	}

	avgDegree := 0.0
	if n := a.Graph.NodeCount(); n > 0 {
		avgDegree = 2 * float64(a.Graph.EdgeCount()) / float64(n)
	}
	a.Logger.Info("persistence: loaded %d nodes, %d edges, avg degree %.2f", a.Graph.NodeCount(), a.Graph.EdgeCount(), avgDegree)
	return nil
}

// SyncIncremental is the fast path after small mutations: it classifies every
// in-memory node/edge against the DB by hash, and flushes inserts/updates/
// deletes in batches (spec.md §4.3).
func (a *Adapter) SyncIncremental(ctx context.Context) error {
	dbNodes, dbEdges, err := a.Store.LoadAll(ctx)
	if err != nil {
		return err
	}
	dbNodeHash := make(map[string]uint64, len(dbNodes))
	for _, n := range dbNodes {
		dbNodeHash[n.Concept] = n.Hash
	}
	dbEdgeHash := make(map[[2]string]uint64, len(dbEdges))
	for _, e := range dbEdges {
		dbEdgeHash[pairKey(e.Source, e.Target)] = e.Hash
	}

	memNodes := a.Graph.Nodes()
	memConcepts := make(map[string]struct{}, len(memNodes))
	var upsertNodes []NodeRecord
	for _, n := range memNodes {
		if n.Concept == "" || len(n.Items) == 0 {
			a.Graph.DeleteNode(n.Concept)
			a.Logger.Warn("persistence: dropped invalid in-memory node %q", n.Concept)
			continue
		}
		dbHash, inDB := dbNodeHash[n.Concept]
		record, needsUpsert, ok := classifyNode(a.Graph, a.Logger, n, dbHash, inDB)
		if !ok {
			continue
		}
		memConcepts[n.Concept] = struct{}{}
		if needsUpsert {
			upsertNodes = append(upsertNodes, record)
		}
	}
	var deleteNodes []string
	for concept := range dbNodeHash {
		if _, ok := memConcepts[concept]; !ok {
			deleteNodes = append(deleteNodes, concept)
		}
	}

	memEdges := a.Graph.Edges()
	memPairs := make(map[[2]string]struct{}, len(memEdges))
	var upsertEdges []EdgeRecord
	for _, e := range memEdges {
		if e.Strength < 1 {
			continue
		}
		key := pairKey(e.Source, e.Target)
		memPairs[key] = struct{}{}
		hash := memgraph.EdgeHash(e.Source, e.Target)
		if dbHash, inDB := dbEdgeHash[key]; !inDB || dbHash != hash {
			upsertEdges = append(upsertEdges, EdgeRecord{
				Source: e.Source, Target: e.Target, Strength: e.Strength, Hash: hash,
				CreatedTime: e.CreatedTime, LastModified: e.LastModified,
			})
		}
	}
	var deleteEdges [][2]string
	for key := range dbEdgeHash {
		if _, ok := memPairs[key]; !ok {
			deleteEdges = append(deleteEdges, key)
		}
	}

	if err := a.flushUpsertNodes(ctx, upsertNodes); err != nil {
		a.Logger.Error("persistence: upsert nodes batch failed: %v", err)
	}
	if len(deleteNodes) > 0 {
		if err := a.flushDeleteNodes(ctx, deleteNodes); err != nil {
			a.Logger.Error("persistence: delete nodes batch failed: %v", err)
		}
	}
	if err := a.flushUpsertEdges(ctx, upsertEdges); err != nil {
		a.Logger.Error("persistence: upsert edges batch failed: %v", err)
	}
	if len(deleteEdges) > 0 {
		if err := a.flushDeleteEdges(ctx, deleteEdges); err != nil {
			a.Logger.Error("persistence: delete edges batch failed: %v", err)
		}
	}
	return nil
}

// ResyncFull truncates both tables inside a single transaction and
// bulk-inserts every current node then every current edge (spec.md §4.3,
// used after Forgetter/Consolidator passes where deletions dominate).
func (a *Adapter) ResyncFull(ctx context.Context) error {
	nodes := a.Graph.Nodes()
	nodeRecords := make([]NodeRecord, 0, len(nodes))
	for _, n := range nodes {
		record, _, ok := classifyNode(a.Graph, a.Logger, n, 0, false)
		if !ok {
			continue
		}
		nodeRecords = append(nodeRecords, record)
	}
	edges := a.Graph.Edges()
	edgeRecords := make([]EdgeRecord, 0, len(edges))
	for _, e := range edges {
		edgeRecords = append(edgeRecords, EdgeRecord{
			Source: e.Source, Target: e.Target, Strength: e.Strength,
			Hash: memgraph.EdgeHash(e.Source, e.Target),
			CreatedTime: e.CreatedTime, LastModified: e.LastModified,
		})
	}
	return a.Store.ReplaceAll(ctx, nodeRecords, edgeRecords)
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

func (a *Adapter) flushUpsertNodes(ctx context.Context, records []NodeRecord) error {
	for start := 0; start < len(records); start += a.batchSize() {
		end := min(start+a.batchSize(), len(records))
		if err := a.Store.UpsertNodes(ctx, records[start:end]); err != nil {
			a.Logger.Error("persistence: node batch [%d:%d] failed, continuing: %v", start, end, err)
			continue
		}
	}
	return nil
}

func (a *Adapter) flushDeleteNodes(ctx context.Context, concepts []string) error {
	for start := 0; start < len(concepts); start += a.batchSize() {
		end := min(start+a.batchSize(), len(concepts))
		if err := a.Store.DeleteNodes(ctx, concepts[start:end]); err != nil {
			a.Logger.Error("persistence: node delete batch [%d:%d] failed, continuing: %v", start, end, err)
			continue
		}
	}
	return nil
}

func (a *Adapter) flushUpsertEdges(ctx context.Context, records []EdgeRecord) error {
	for start := 0; start < len(records); start += a.batchSize() {
		end := min(start+a.batchSize(), len(records))
		if err := a.Store.UpsertEdges(ctx, records[start:end]); err != nil {
			a.Logger.Error("persistence: edge batch [%d:%d] failed, continuing: %v", start, end, err)
			continue
		}
	}
	return nil
}

func (a *Adapter) flushDeleteEdges(ctx context.Context, pairs [][2]string) error {
	for start := 0; start < len(pairs); start += a.batchSize() {
		end := min(start+a.batchSize(), len(pairs))
		if err := a.Store.DeleteEdges(ctx, pairs[start:end]); err != nil {
			a.Logger.Error("persistence: edge delete batch [%d:%d] failed, continuing: %v", start, end, err)
			continue
		}
	}
	return nil
}
