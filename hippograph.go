package hippograph

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duskfield/hippograph/errs"
	"github.com/duskfield/hippograph/internal/builder"
	"github.com/duskfield/hippograph/internal/compressor"
	"github.com/duskfield/hippograph/internal/consolidator"
	"github.com/duskfield/hippograph/internal/domain"
	"github.com/duskfield/hippograph/internal/forgetter"
	"github.com/duskfield/hippograph/internal/memgraph"
	"github.com/duskfield/hippograph/internal/persistence"
	"github.com/duskfield/hippograph/internal/retriever"
	"github.com/duskfield/hippograph/internal/scheduler"
	"github.com/duskfield/hippograph/log"
)

// Config enumerates every tunable named in spec.md §6's configuration
// surface.
type Config struct {
	BuildInterval          time.Duration
	BuildSampleNum         int
	BuildSampleLength      int
	BuildDistribution      scheduler.Distribution
	CompressRate           float64
	BanWords               []string
	ForgetInterval         time.Duration
	ForgetPercentage       float64
	ForgetHours            float64
	ConsolidatePercentage  float64
	ConsolidationThreshold float64
}

// DefaultConfig returns the engine's documented defaults (SPEC_FULL.md §10).
func DefaultConfig() Config {
	return Config{
		BuildInterval:          600 * time.Second,
		BuildSampleNum:         20,
		BuildSampleLength:      30,
		BuildDistribution:      scheduler.Distribution{Mu1: 2, Sigma1: 2, W1: 0.6, Mu2: 24, Sigma2: 12, W2: 0.4},
		CompressRate:           0.3,
		ForgetInterval:         300 * time.Second,
		ForgetPercentage:       0.005,
		ForgetHours:            168,
		ConsolidatePercentage:  0.05,
		ConsolidationThreshold: 0.8,
	}
}

// Collaborators are the external-system dependencies spec.md §1 treats as
// interfaces only.
type Collaborators struct {
	Store        persistence.Store
	MessageStore domain.MessageStore
	LLM          domain.LLM
	Formatter    domain.Formatter
	Logger       log.Logger
}

// Engine is the process-wide memory-engine handle (spec.md §9's singleton
// manager, grounded on Hippocampus.py's HippocampusManager). It owns Graph,
// Persistence, Builder, Forgetter and Consolidator; each receives a
// non-owning reference to its collaborators rather than a back-reference to
// Engine itself.
type Engine struct {
	Config Config
	Logger log.Logger

	graph        *memgraph.Graph
	adapter      *persistence.Adapter
	builder      *builder.Builder
	forgetter    *forgetter.Forgetter
	consolidator *consolidator.Consolidator
	retriever    *retriever.Retriever

	// cycleLock is the single exclusive-rewrite boundary spec.md §5 requires:
	// build/forget/consolidate cycles take it for writing so only one runs at
	// a time and none overlaps a Recall/Activation snapshot mid structural
	// rewrite; Recall/Activation take it for reading.
	cycleLock sync.RWMutex

	initialized bool
}

var (
	mu       sync.Mutex
	instance *Engine
)

// Open backfills the in-memory graph from the store, wires every
// subcomponent over the given collaborators (which are not checked for nil) and installs the result as the process
// singleton. A second Open before Close returns ErrAlreadyInitialized.
func Open(ctx context.Context, cfg Config, collab Collaborators) (*Engine, error) {
	mu.Lock()
	defer mu.Unlock()
	if instance != nil {
		return nil, errs.ErrAlreadyInitialized
	}

	logger := collab.Logger
	if logger == nil {
		logger = log.GetDefaultLogger()
	}

	g := memgraph.New(func() float64 { return float64(time.Now().Unix()) })
	adapter := persistence.New(g, collab.Store, logger)
	if err := adapter.LoadOnStart(ctx); err != nil {
		return nil, err
	}

	sched := scheduler.New(collab.MessageStore, logger, rand.New(rand.NewSource(time.Now().UnixNano())))
	comp := compressor.New(collab.LLM, collab.Formatter, logger, cfg.BanWords)
	bld := builder.New(g, sched, comp, adapter, logger, cfg.BuildSampleLength, cfg.CompressRate)
	fgt := forgetter.New(g, adapter, logger, rand.New(rand.NewSource(time.Now().UnixNano()+1)), cfg.ForgetHours)
	cons := consolidator.New(g, adapter, logger, rand.New(rand.NewSource(time.Now().UnixNano()+2)), cfg.ConsolidationThreshold)
	rtr := retriever.New(g, collab.LLM, logger)

	nodeCount, edgeCount := g.NodeCount(), g.EdgeCount()
	avgDegree := 0.0
	if nodeCount > 0 {
		avgDegree = 2 * float64(edgeCount) / float64(nodeCount)
	}
	logger.Info("hippograph: engine initialized — %d nodes, %d edges, avg degree %.2f", nodeCount, edgeCount, avgDegree)

	e := &Engine{
		Config:       cfg,
		Logger:       logger,
		graph:        g,
		adapter:      adapter,
		builder:      bld,
		forgetter:    fgt,
		consolidator: cons,
		retriever:    rtr,
		initialized:  true,
	}
	instance = e
	return e, nil
}

// Close releases the process singleton so a later Open can succeed again.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
}

// Recall delegates to the Retriever's recall operation (spec.md §4.7).
func (e *Engine) Recall(ctx context.Context, queryText string, maxMemories, maxItemsPerTopic, maxDepth int) ([]retriever.Item, error) {
	if e == nil || !e.initialized {
		return nil, errs.ErrNotInitialized
	}
	e.cycleLock.RLock()
	defer e.cycleLock.RUnlock()
	return e.retriever.Recall(ctx, queryText, maxMemories, maxItemsPerTopic, maxDepth)
}

// Activation delegates to the Retriever's scalar activation operation.
func (e *Engine) Activation(ctx context.Context, queryText string, maxDepth int) (float64, error) {
	if e == nil || !e.initialized {
		return 0, errs.ErrNotInitialized
	}
	e.cycleLock.RLock()
	defer e.cycleLock.RUnlock()
	return e.retriever.Activation(ctx, queryText, maxDepth)
}

// RunBuildCycle samples e.Config.BuildSampleNum candidate timestamps and
// folds every accepted snippet into the graph, then syncs incrementally.
func (e *Engine) RunBuildCycle(ctx context.Context, chatID string) error {
	if e == nil || !e.initialized {
		return errs.ErrNotInitialized
	}
	e.cycleLock.Lock()
	defer e.cycleLock.Unlock()
	runID := uuid.New().String()
	e.Logger.Info("hippograph: build cycle %s starting", runID)
	now := e.graph.Now()
	src := rand.NewSource(time.Now().UnixNano())
	err := e.builder.RunCycle(ctx, e.Config.BuildDistribution, e.Config.BuildSampleNum, now, src, chatID)
	e.Logger.Info("hippograph: build cycle %s finished (err=%v)", runID, err)
	return err
}

// RunForgetCycle decays a sampled fraction of edges and nodes.
func (e *Engine) RunForgetCycle(ctx context.Context) error {
	if e == nil || !e.initialized {
		return errs.ErrNotInitialized
	}
	e.cycleLock.Lock()
	defer e.cycleLock.Unlock()
	runID := uuid.New().String()
	e.Logger.Info("hippograph: forget cycle %s starting", runID)
	err := e.forgetter.RunCycle(ctx, e.Config.ForgetPercentage, e.graph.Now())
	e.Logger.Info("hippograph: forget cycle %s finished (err=%v)", runID, err)
	return err
}

// RunConsolidateCycle merges near-duplicate items within a sampled fraction
// of eligible nodes.
func (e *Engine) RunConsolidateCycle(ctx context.Context) error {
	if e == nil || !e.initialized {
		return errs.ErrNotInitialized
	}
	e.cycleLock.Lock()
	defer e.cycleLock.Unlock()
	runID := uuid.New().String()
	e.Logger.Info("hippograph: consolidate cycle %s starting", runID)
	err := e.consolidator.RunCycle(ctx, e.Config.ConsolidatePercentage)
	e.Logger.Info("hippograph: consolidate cycle %s finished (err=%v)", runID, err)
	return err
}

// Graph exposes the underlying memory graph for diagnostics/inspection.
func (e *Engine) Graph() (*memgraph.Graph, error) {
	if e == nil || !e.initialized {
		return nil, errs.ErrNotInitialized
	}
	return e.graph, nil
}
