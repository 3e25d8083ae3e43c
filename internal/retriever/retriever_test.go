package retriever

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duskfield/hippograph/internal/memgraph"
)

type noLLM struct{}

func (noLLM) Chat(ctx context.Context, prompt string) (string, string, error) { return "<none>", "", nil }

func buildTestGraph(now float64) *memgraph.Graph {
	g := memgraph.New(func() float64 { return now })
	g.AddItem("cats", "cats purr softly")
	g.AddItem("cats", "cats love naps")
	g.AddItem("dogs", "dogs bark loudly")
	g.ForceConnect("cats", "dogs", 2)
	g.AddItem("weather", "it rained today")
	return g
}

func TestRecallShortQueryFindsSeedTopic(t *testing.T) {
	g := buildTestGraph(1000)
	r := New(g, noLLM{}, nil)

	items, err := r.Recall(context.Background(), "cats", 5, 5, 2)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	found := false
	for _, it := range items {
		if it.Topic == "cats" {
			found = true
		}
	}
	require.True(t, found)
}

func TestRecallReturnsEmptyWhenNoKeywordMatchesGraph(t *testing.T) {
	g := buildTestGraph(1000)
	r := New(g, noLLM{}, nil)

	items, err := r.Recall(context.Background(), "xyzzy", 5, 5, 2)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestRecallDedupesExactDuplicateItemsAcrossTopics(t *testing.T) {
	g := memgraph.New(func() float64 { return 1000 })
	g.AddItem("alpha", "shared memory text")
	g.AddItem("beta", "shared memory text")
	g.ForceConnect("alpha", "beta", 3)
	r := New(g, noLLM{}, nil)

	items, err := r.Recall(context.Background(), "alpha", 5, 5, 2)
	require.NoError(t, err)
	count := 0
	for _, it := range items {
		if it.Memory == "shared memory text" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestActivationZeroWhenNoValidKeywords(t *testing.T) {
	g := buildTestGraph(1000)
	r := New(g, noLLM{}, nil)

	a, err := r.Activation(context.Background(), "xyzzy", 2)
	require.NoError(t, err)
	require.Zero(t, a)
}

func TestActivationPositiveForSeedTopic(t *testing.T) {
	g := buildTestGraph(1000)
	r := New(g, noLLM{}, nil)

	a, err := r.Activation(context.Background(), "cats", 2)
	require.NoError(t, err)
	require.Greater(t, a, 0.0)
}

func TestSpreadStopsAtMaxDepth(t *testing.T) {
	g := memgraph.New(func() float64 { return 1000 })
	g.AddItem("a", "x")
	g.AddItem("b", "x")
	g.AddItem("c", "x")
	// Strengths high enough that c keeps positive activation at depth 2, so
	// only maxDepth keeps it out.
	g.ForceConnect("a", "b", 4)
	g.ForceConnect("b", "c", 4)
	r := New(g, noLLM{}, nil)

	activation, _ := r.spread([]string{"a"}, 1.0, 1)
	_, reachedC := activation["c"]
	require.False(t, reachedC)

	deeper, _ := r.spread([]string{"a"}, 1.0, 2)
	_, reachedC = deeper["c"]
	require.True(t, reachedC)
}

func TestSelectNodesTieBreaksOnInsertionOrder(t *testing.T) {
	order := []string{"first", "second"}
	activation := map[string]float64{"first": 1.0, "second": 1.0}

	selected := selectNodes(activation, order, 2)
	require.Equal(t, []string{"first", "second"}, selected)
}
