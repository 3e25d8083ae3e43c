package compressor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duskfield/hippograph/internal/domain"
)

type fakeFormatter struct {
	readable string
	err      error
}

func (f *fakeFormatter) BuildReadable(messages []domain.Message, merge bool, timestampMode, replaceBotName string) (string, error) {
	return f.readable, f.err
}

type scriptedLLM struct {
	topicReply string
	summaries  map[string]string
	failTopics map[string]bool
}

func (s *scriptedLLM) Chat(ctx context.Context, prompt string) (string, string, error) {
	if strings.Contains(prompt, "extract up to") {
		return s.topicReply, "", nil
	}
	for topic, summary := range s.summaries {
		if strings.Contains(prompt, "\""+topic+"\"") {
			if s.failTopics[topic] {
				return "", "", errors.New("summary backend unavailable")
			}
			return summary, "", nil
		}
	}
	return "", "", errors.New("unexpected prompt")
}

func TestCompressHappyPath(t *testing.T) {
	c := New(
		&scriptedLLM{
			topicReply: "<cats,dogs>",
			summaries:  map[string]string{"cats": "Cats were discussed.", "dogs": "Dogs were discussed."},
		},
		&fakeFormatter{readable: "12:00 alice: I love cats\n12:01 bob: dogs are great too\n"},
		nil, nil,
	)

	result, err := c.Compress(context.Background(), []domain.Message{{Text: "I love cats"}}, 0.5, []string{"pets"})
	require.NoError(t, err)
	require.Len(t, result.Topics, 2)

	byTopic := map[string]string{}
	for _, ts := range result.Topics {
		byTopic[ts.Topic] = ts.Summary
	}
	require.Equal(t, "Cats were discussed.", byTopic["cats"])
	require.Equal(t, "Dogs were discussed.", byTopic["dogs"])
}

func TestCompressEmptyRenderedTextReturnsEmpty(t *testing.T) {
	c := New(&scriptedLLM{}, &fakeFormatter{readable: "   "}, nil, nil)

	result, err := c.Compress(context.Background(), nil, 0.5, nil)
	require.NoError(t, err)
	require.Empty(t, result.Topics)
}

func TestCompressNoneTopicsReturnsEmpty(t *testing.T) {
	c := New(&scriptedLLM{topicReply: "<none>"}, &fakeFormatter{readable: "hello there"}, nil, nil)

	result, err := c.Compress(context.Background(), nil, 0.5, nil)
	require.NoError(t, err)
	require.Empty(t, result.Topics)
}

func TestCompressDropsBannedTopics(t *testing.T) {
	c := New(
		&scriptedLLM{topicReply: "<cats,badword stuff>", summaries: map[string]string{"cats": "Cats were discussed."}},
		&fakeFormatter{readable: "cats and other things"},
		nil,
		[]string{"badword"},
	)

	result, err := c.Compress(context.Background(), nil, 0.5, nil)
	require.NoError(t, err)
	require.Len(t, result.Topics, 1)
	require.Equal(t, "cats", result.Topics[0].Topic)
}

func TestCompressSkipsFailedSummaryWithoutAborting(t *testing.T) {
	c := New(
		&scriptedLLM{
			topicReply: "<cats,dogs>",
			summaries:  map[string]string{"cats": "Cats were discussed.", "dogs": "irrelevant"},
			failTopics: map[string]bool{"dogs": true},
		},
		&fakeFormatter{readable: "cats and dogs conversation"},
		nil, nil,
	)

	result, err := c.Compress(context.Background(), nil, 0.5, nil)
	require.NoError(t, err)
	require.Len(t, result.Topics, 1)
	require.Equal(t, "cats", result.Topics[0].Topic)
}

func TestCompressSimilarityLinksTopThreeAboveThreshold(t *testing.T) {
	c := New(
		&scriptedLLM{topicReply: "<cats>", summaries: map[string]string{"cats": "Cats were discussed."}},
		&fakeFormatter{readable: "cats cats cats"},
		nil, nil,
	)

	existing := []string{"cats pets", "unrelated topic entirely"}
	result, err := c.Compress(context.Background(), nil, 0.5, existing)
	require.NoError(t, err)
	links := result.Similarities["cats"]
	require.LessOrEqual(t, len(links), 3)
	for _, l := range links {
		require.GreaterOrEqual(t, l.Similarity, 0.7)
	}
}

func TestParseTopicsSplitsOnVariousSeparators(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, parseTopics("<a,b、c>"))
	require.Nil(t, parseTopics("<none>"))
	require.Nil(t, parseTopics("no tags here"))
}
