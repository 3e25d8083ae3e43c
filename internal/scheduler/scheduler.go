// Package scheduler implements the Sampling Scheduler (spec.md §4.4): a
// bimodal-Gaussian timestamp sampler, plus the message-store snippet
// acquisition protocol (random window, memorized_times cap, retry/rollback)
// grounded verbatim on Hippocampus.py's random_get_msg_snippet.
package scheduler

import (
	"context"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/duskfield/hippograph/internal/domain"
	"github.com/duskfield/hippograph/log"
)

// Distribution is the six-tuple mixture-of-two-normals parameterisation from
// spec.md §4.4; Mu values are hours-before-now.
type Distribution struct {
	Mu1, Sigma1, W1 float64
	Mu2, Sigma2, W2 float64
}

// SampleTimestamps draws n candidate recall timestamps from the mixture,
// converting hours-before-now into epoch seconds. src drives both the
// distribution choice and the Normal draw, so tests can seed it for
// determinism (seed scenario 6: w1=1,w2=0 ⇒ all draws from distribution 1).
func SampleTimestamps(dist Distribution, n int, now float64, src rand.Source) []float64 {
	picker := rand.New(src)
	total := dist.W1 + dist.W2
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		mu, sigma := dist.Mu1, dist.Sigma1
		if total > 0 && picker.Float64() >= dist.W1/total {
			mu, sigma = dist.Mu2, dist.Sigma2
		}
		normal := distuv.Normal{Mu: mu, Sigma: sigma, Src: src}
		hoursBefore := normal.Rand()
		out = append(out, now-hoursBefore*3600)
	}
	return out
}

const (
	maxSnippetAttempts = 4 // 1 initial try + 3 retries (spec.md §4.4)
	rollbackSeconds    = 120
	minWindowMinutes   = 5
	maxWindowMinutes   = 30
)

// Snippet is an accepted, ordered chat window.
type Snippet struct {
	Messages []domain.Message
}

// Scheduler acquires chat snippets from the message-store collaborator for
// timestamps produced by SampleTimestamps.
type Scheduler struct {
	Store  domain.MessageStore
	Logger log.Logger
	Rand   *rand.Rand
}

// New constructs a Scheduler. rng defaults to a process-seeded generator.
func New(store domain.MessageStore, logger log.Logger, rng *rand.Rand) *Scheduler {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Scheduler{Store: store, Logger: logger, Rand: rng}
}

// SampleSnippet asks the message-store collaborator for an ordered chat
// snippet within a uniformly random 5-30 minute window starting at ts, up to
// maxLen messages. A snippet where any message has already reached the
// memorized_times cap is rejected; up to 3 retries roll the window start back
// 120s each time before giving up (returns nil, nil).
func (s *Scheduler) SampleSnippet(ctx context.Context, ts float64, maxLen int, chatID string) (*Snippet, error) {
	for attempt := 0; attempt < maxSnippetAttempts; attempt++ {
		start := ts - float64(attempt)*rollbackSeconds
		windowMinutes := minWindowMinutes + s.Rand.Float64()*(maxWindowMinutes-minWindowMinutes)
		end := start + windowMinutes*60

		msgs, err := s.Store.GetEarliest(ctx, start, end, maxLen, chatID)
		if err != nil {
			s.Logger.Warn("scheduler: get_earliest failed on attempt %d: %v", attempt, err)
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		if anyCapped(msgs) {
			continue
		}

		ids := make([]string, len(msgs))
		for i, m := range msgs {
			ids[i] = m.MessageID
		}
		if err := s.Store.IncrementMemorizedTimes(ctx, ids); err != nil {
			s.Logger.Warn("scheduler: increment_memorized_times failed: %v", err)
			continue
		}
		return &Snippet{Messages: msgs}, nil
	}
	return nil, nil
}

func anyCapped(msgs []domain.Message) bool {
	for _, m := range msgs {
		if m.MemorizedTimes >= domain.MessageCapReached {
			return true
		}
	}
	return false
}
