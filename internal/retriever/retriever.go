// Package retriever implements the Retriever (spec.md §4.7): keyword
// extraction, BFS activation spreading, node selection and per-node item
// ranking. Grounded on Hippocampus.py's get_keywords_from_text /
// get_memory_from_text / get_activate_from_text, with the BFS queue/visited
// shape grounded on the teacher's memory/graph_based.go GetContext.
package retriever

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/duskfield/hippograph/internal/domain"
	"github.com/duskfield/hippograph/internal/memgraph"
	"github.com/duskfield/hippograph/internal/textutil"
	"github.com/duskfield/hippograph/log"
)

const (
	recallSeed     = 1.0
	activationSeed = 1.5
)

// Item is one ranked (topic, memory item) pair returned by Recall.
type Item struct {
	Topic      string
	Memory     string
	Similarity float64
}

// Retriever reads the graph and, for longer queries, asks an LLM to extract
// candidate keywords.
type Retriever struct {
	Graph  *memgraph.Graph
	LLM    domain.LLM
	Logger log.Logger
}

// New constructs a Retriever.
func New(g *memgraph.Graph, llm domain.LLM, logger log.Logger) *Retriever {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Retriever{Graph: g, LLM: llm, Logger: logger}
}

var retrieverTagPattern = regexp.MustCompile(`<([^<>]*)>`)
var retrieverSplitPattern = regexp.MustCompile(`[,、\s]+`)

// Recall returns (topic, item) pairs relevant to queryText, drawn from up to
// maxMemories topics with at most maxItemsPerTopic items each; items are
// ranked by cosine similarity within their topic and deduplicated by exact
// text across topics.
func (r *Retriever) Recall(ctx context.Context, queryText string, maxMemories, maxItemsPerTopic, maxDepth int) ([]Item, error) {
	keywords, err := r.validKeywords(ctx, queryText)
	if err != nil {
		return nil, err
	}
	if len(keywords) == 0 {
		return nil, nil
	}

	activation, order := r.spread(keywords, recallSeed, maxDepth)
	selected := selectNodes(activation, order, maxMemories)
	if len(selected) == 0 {
		return nil, nil
	}

	var out []Item
	seen := make(map[string]struct{})
	for _, node := range selected {
		items, ok := r.Graph.NodeItems(node)
		if !ok {
			continue
		}
		ranked := rankItems(items, queryText, maxItemsPerTopic)
		for _, it := range ranked {
			if _, dup := seen[it.item]; dup {
				continue
			}
			seen[it.item] = struct{}{}
			out = append(out, Item{Topic: node, Memory: it.item, Similarity: it.sim})
		}
	}
	return out, nil
}

// Activation returns the scalar 60·ΣA/|V| recall-pressure signal for
// queryText, using seed 1.5. Returns 0 if there are no valid keywords or the
// graph is empty.
func (r *Retriever) Activation(ctx context.Context, queryText string, maxDepth int) (float64, error) {
	keywords, err := r.validKeywords(ctx, queryText)
	if err != nil {
		return 0, err
	}
	if len(keywords) == 0 {
		return 0, nil
	}
	nodeCount := r.Graph.NodeCount()
	if nodeCount == 0 {
		return 0, nil
	}

	activation, _ := r.spread(keywords, activationSeed, maxDepth)
	var sum float64
	for _, a := range activation {
		sum += a
	}
	return 60 * sum / float64(nodeCount), nil
}

// validKeywords extracts candidate keywords from queryText and intersects
// them with the current graph concepts.
func (r *Retriever) validKeywords(ctx context.Context, queryText string) ([]string, error) {
	var candidates []string
	if len([]rune(queryText)) <= 5 {
		candidates = shortQueryKeywords(queryText)
	} else {
		var err error
		candidates, err = r.longQueryKeywords(ctx, queryText)
		if err != nil {
			return nil, err
		}
	}

	var valid []string
	for _, c := range candidates {
		if r.Graph.HasNode(c) {
			valid = append(valid, c)
		}
	}
	return valid, nil
}

func shortQueryKeywords(queryText string) []string {
	tokens := textutil.Tokenize(queryText)
	seen := make(map[string]struct{})
	var out []string
	for _, t := range tokens {
		if len(t) <= 1 {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) >= 3 {
			break
		}
	}
	return out
}

// topicNumForLength returns the [min,max] topic-count bracket for a query of
// length n runes.
func topicNumForLength(n int) (min, max int) {
	switch {
	case n <= 10:
		return 1, 3
	case n <= 20:
		return 2, 4
	case n <= 30:
		return 3, 5
	case n <= 50:
		return 4, 5
	default:
		return 5, 5
	}
}

func (r *Retriever) longQueryKeywords(ctx context.Context, queryText string) ([]string, error) {
	min, max := topicNumForLength(len([]rune(queryText)))
	var b strings.Builder
	b.WriteString("Extract ")
	b.WriteString(strconv.Itoa(min))
	b.WriteString("-")
	b.WriteString(strconv.Itoa(max))
	b.WriteString(" concise topic keywords from the following text.\n")
	b.WriteString("Respond with a single line formatted as <topic1>,<topic2>,... or <none>.\n\n")
	b.WriteString(queryText)

	content, _, err := r.LLM.Chat(ctx, b.String())
	if err != nil {
		return nil, err
	}
	return parseTags(content), nil
}

func parseTags(content string) []string {
	m := retrieverTagPattern.FindStringSubmatch(content)
	if m == nil {
		return nil
	}
	inner := strings.TrimSpace(m[1])
	if inner == "" || strings.EqualFold(inner, "none") {
		return nil
	}
	parts := retrieverSplitPattern.Split(inner, -1)
	var out []string
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

type bfsNode struct {
	concept string
	a       float64
	depth   int
}

// spread runs one independent BFS per keyword, merging per-keyword
// activations additively into a single map. order records first-seen
// insertion order across all keywords, for stable tie-breaking downstream.
func (r *Retriever) spread(keywords []string, seed float64, maxDepth int) (map[string]float64, []string) {
	global := make(map[string]float64)
	var order []string
	seenOrder := make(map[string]struct{})

	record := func(concept string, a float64) {
		global[concept] += a
		if _, ok := seenOrder[concept]; !ok {
			seenOrder[concept] = struct{}{}
			order = append(order, concept)
		}
	}

	for _, kw := range keywords {
		visited := map[string]struct{}{kw: {}}
		queue := []bfsNode{{kw, seed, 0}}
		record(kw, seed)

		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if cur.a <= 0 || cur.depth >= maxDepth {
				continue
			}
			for _, m := range r.Graph.Neighbors(cur.concept) {
				if _, ok := visited[m]; ok {
					continue
				}
				edge, ok := r.Graph.EdgeData(cur.concept, m)
				if !ok || edge.Strength <= 0 {
					continue
				}
				aPrime := cur.a - 1.0/float64(edge.Strength)
				if aPrime > 0 {
					visited[m] = struct{}{}
					record(m, aPrime)
					queue = append(queue, bfsNode{m, aPrime, cur.depth + 1})
				}
			}
		}
	}
	return global, order
}

// selectNodes picks the top maxMemories concepts by normalized squared
// activation, breaking ties by first-seen insertion order.
func selectNodes(activation map[string]float64, order []string, maxMemories int) []string {
	var sumSquares float64
	for _, a := range activation {
		sumSquares += a * a
	}
	if sumSquares == 0 {
		return nil
	}

	type scored struct {
		concept string
		norm    float64
		index   int
	}
	ranked := make([]scored, 0, len(order))
	for i, c := range order {
		ranked = append(ranked, scored{c, (activation[c] * activation[c]) / sumSquares, i})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].norm != ranked[j].norm {
			return ranked[i].norm > ranked[j].norm
		}
		return ranked[i].index < ranked[j].index
	})

	if len(ranked) > maxMemories {
		ranked = ranked[:maxMemories]
	}
	out := make([]string, len(ranked))
	for i, s := range ranked {
		out[i] = s.concept
	}
	return out
}

type rankedItem struct {
	item string
	sim  float64
}

func rankItems(items []string, queryText string, maxItems int) []rankedItem {
	ranked := make([]rankedItem, len(items))
	for i, it := range items {
		ranked[i] = rankedItem{it, textutil.CosineText(it, queryText)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })
	if len(ranked) > maxItems {
		ranked = ranked[:maxItems]
	}
	return ranked
}
