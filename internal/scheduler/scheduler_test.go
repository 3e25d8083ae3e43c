package scheduler

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duskfield/hippograph/internal/domain"
)

func TestSampleTimestampsDegenerateSingleMode(t *testing.T) {
	dist := Distribution{Mu1: 1, Sigma1: 0, W1: 1, Mu2: 100, Sigma2: 0, W2: 0}
	now := 1_000_000.0
	ts := SampleTimestamps(dist, 5, now, rand.NewSource(42))

	require.Len(t, ts, 5)
	for _, v := range ts {
		require.InDelta(t, now-3600, v, 1e-6)
	}
}

func TestSampleTimestampsUsesSecondModeWhenFirstWeightZero(t *testing.T) {
	dist := Distribution{Mu1: 1, Sigma1: 0, W1: 0, Mu2: 2, Sigma2: 0, W2: 1}
	now := 1_000_000.0
	ts := SampleTimestamps(dist, 5, now, rand.NewSource(7))

	for _, v := range ts {
		require.InDelta(t, now-7200, v, 1e-6)
	}
}

func TestSampleTimestampsSpreadMatchesSigma(t *testing.T) {
	dist := Distribution{Mu1: 10, Sigma1: 2, W1: 1, Mu2: 10, Sigma2: 2, W2: 0}
	now := 0.0
	ts := SampleTimestamps(dist, 200, now, rand.NewSource(99))

	var sum float64
	for _, v := range ts {
		sum += v
	}
	mean := sum / float64(len(ts))
	require.InDelta(t, -10*3600, mean, 600)
	require.False(t, math.IsNaN(mean))
}

type fakeMessageStore struct {
	messages []domain.Message
	calls    int
	incr     []string
}

func (f *fakeMessageStore) GetEarliest(ctx context.Context, start, end float64, limit int, chatID string) ([]domain.Message, error) {
	f.calls++
	var out []domain.Message
	for _, m := range f.messages {
		if m.Timestamp >= start && m.Timestamp <= end && m.ChatID == chatID {
			out = append(out, m)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeMessageStore) IncrementMemorizedTimes(ctx context.Context, messageIDs []string) error {
	f.incr = append(f.incr, messageIDs...)
	return nil
}

func TestSampleSnippetAcceptsFirstWindow(t *testing.T) {
	store := &fakeMessageStore{messages: []domain.Message{
		{MessageID: "m1", ChatID: "c1", Timestamp: 1000, Text: "hi"},
	}}
	s := New(store, nil, rand.New(rand.NewSource(1)))

	snip, err := s.SampleSnippet(context.Background(), 1000, 10, "c1")
	require.NoError(t, err)
	require.NotNil(t, snip)
	require.Len(t, snip.Messages, 1)
	require.Equal(t, []string{"m1"}, store.incr)
	require.Equal(t, 1, store.calls)
}

func TestSampleSnippetRejectsCappedMessagesAndRetries(t *testing.T) {
	store := &fakeMessageStore{messages: []domain.Message{
		{MessageID: "capped", ChatID: "c1", Timestamp: 880, MemorizedTimes: domain.MessageCapReached},
	}}
	s := New(store, nil, rand.New(rand.NewSource(2)))

	snip, err := s.SampleSnippet(context.Background(), 1000, 10, "c1")
	require.NoError(t, err)
	require.Nil(t, snip)
	require.Equal(t, maxSnippetAttempts, store.calls)
	require.Empty(t, store.incr)
}

func TestSampleSnippetGivesUpWhenNothingFound(t *testing.T) {
	store := &fakeMessageStore{}
	s := New(store, nil, rand.New(rand.NewSource(3)))

	snip, err := s.SampleSnippet(context.Background(), 1000, 10, "c1")
	require.NoError(t, err)
	require.Nil(t, snip)
	require.Equal(t, maxSnippetAttempts, store.calls)
}
