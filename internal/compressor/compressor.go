// Package compressor implements the Compressor (spec.md §4.5): turns an
// ordered chat snippet into (topic, summary) pairs plus similarity links to
// existing concepts, grounded on Hippocampus.py's find_topic_llm/topic_what/
// calculate_topic_num and on rag/pipeline.go's generateNode prompt-assembly
// shape.
package compressor

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/duskfield/hippograph/internal/domain"
	"github.com/duskfield/hippograph/internal/textutil"
	"github.com/duskfield/hippograph/log"
)

// TopicSummary is one compressed (topic, summary) pair.
type TopicSummary struct {
	Topic   string
	Summary string
}

// SimilarityLink connects a freshly produced topic to an existing concept.
type SimilarityLink struct {
	ExistingTopic string
	Similarity    float64
}

// Result is the Compressor's output for one snippet.
type Result struct {
	Topics       []TopicSummary
	Similarities map[string][]SimilarityLink // new topic -> up to 3 links
}

// Compressor depends on an LLM and a message formatter, both collaborators.
type Compressor struct {
	LLM       domain.LLM
	Formatter domain.Formatter
	Logger    log.Logger
	DenyList  []string
}

// New constructs a Compressor.
func New(llm domain.LLM, formatter domain.Formatter, logger log.Logger, denyList []string) *Compressor {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Compressor{LLM: llm, Formatter: formatter, Logger: logger, DenyList: denyList}
}

var tagPattern = regexp.MustCompile(`<([^<>]*)>`)
var topicSplitPattern = regexp.MustCompile(`[,、\s]+`)

// Compress runs the full pipeline. existingConcepts is the current set of
// graph concept keys, used for the similarity-link pass.
func (c *Compressor) Compress(ctx context.Context, messages []domain.Message, rate float64, existingConcepts []string) (*Result, error) {
	rendered, err := c.Formatter.BuildReadable(messages, true, "", "")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rendered) == "" {
		return &Result{Similarities: map[string][]SimilarityLink{}}, nil
	}

	lines := float64(len(strings.Split(strings.TrimSpace(rendered), "\n")))
	entropy := textutil.InformationContent(rendered)
	topicNum := int((lines*rate + clamp(2*(entropy-3), 1, 5)) / 2)
	if topicNum < 1 {
		topicNum = 1
	}

	topics, err := c.extractTopics(ctx, rendered, topicNum)
	if err != nil {
		return nil, err
	}
	topics = dropBanned(topics, c.DenyList)
	if len(topics) == 0 {
		return &Result{Similarities: map[string][]SimilarityLink{}}, nil
	}

	pairs := c.summariseTopics(ctx, rendered, topics)

	result := &Result{Topics: pairs, Similarities: map[string][]SimilarityLink{}}
	for _, p := range pairs {
		result.Similarities[p.Topic] = topSimilar(p.Topic, existingConcepts, 3, 0.7)
	}
	return result, nil
}

func (c *Compressor) extractTopics(ctx context.Context, rendered string, topicNum int) ([]string, error) {
	prompt := buildTopicPrompt(rendered, topicNum)
	content, _, err := c.LLM.Chat(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseTopics(content), nil
}

func buildTopicPrompt(rendered string, topicNum int) string {
	var b strings.Builder
	b.WriteString("Read the following conversation and extract up to ")
	b.WriteString(strconv.Itoa(topicNum))
	b.WriteString(" concise topics discussed.\n")
	b.WriteString("Respond with a single line formatted as <topic1>,<topic2>,... or <none> if there is nothing notable.\n\n")
	b.WriteString(rendered)
	return b.String()
}

func parseTopics(content string) []string {
	m := tagPattern.FindStringSubmatch(content)
	if m == nil {
		return nil
	}
	inner := strings.TrimSpace(m[1])
	if inner == "" || strings.EqualFold(inner, "none") {
		return nil
	}
	parts := topicSplitPattern.Split(inner, -1)
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func dropBanned(topics []string, denyList []string) []string {
	if len(denyList) == 0 {
		return topics
	}
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		banned := false
		for _, bad := range denyList {
			if bad != "" && strings.Contains(t, bad) {
				banned = true
				break
			}
		}
		if !banned {
			out = append(out, t)
		}
	}
	return out
}

// summariseTopics asks one second-pass LLM prompt per topic concurrently, in
// the spirit of spec.md §9's "tasks awaited concurrently, errors isolated per
// task"; a failed summary is logged and the topic is dropped, never aborting
// the whole compression.
func (c *Compressor) summariseTopics(ctx context.Context, rendered string, topics []string) []TopicSummary {
	summaries := make([]string, len(topics))
	ok := make([]bool, len(topics))

	g, gctx := errgroup.WithContext(ctx)
	for i, topic := range topics {
		i, topic := i, topic
		g.Go(func() error {
			prompt := buildSummaryPrompt(rendered, topic)
			content, _, err := c.LLM.Chat(gctx, prompt)
			if err != nil {
				c.Logger.Warn("compressor: summary for topic %q failed: %v", topic, err)
				return nil
			}
			summaries[i] = strings.TrimSpace(content)
			ok[i] = summaries[i] != ""
			return nil
		})
	}
	_ = g.Wait()

	out := make([]TopicSummary, 0, len(topics))
	for i, topic := range topics {
		if ok[i] {
			out = append(out, TopicSummary{Topic: topic, Summary: summaries[i]})
		}
	}
	return out
}

func buildSummaryPrompt(rendered, topic string) string {
	var b strings.Builder
	b.WriteString("Write one factual sentence summarising what was said about \"")
	b.WriteString(topic)
	b.WriteString("\" in the conversation below. Ground the sentence only in the conversation text.\n\n")
	b.WriteString(rendered)
	return b.String()
}

func topSimilar(topic string, existing []string, top int, threshold float64) []SimilarityLink {
	type scored struct {
		concept string
		sim     float64
	}
	var candidates []scored
	for _, e := range existing {
		if e == topic {
			continue
		}
		sim := textutil.CosineText(topic, e)
		if sim >= threshold {
			candidates = append(candidates, scored{e, sim})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].sim > candidates[j].sim })
	if len(candidates) > top {
		candidates = candidates[:top]
	}
	links := make([]SimilarityLink, len(candidates))
	for i, c := range candidates {
		links[i] = SimilarityLink{ExistingTopic: c.concept, Similarity: c.sim}
	}
	return links
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
