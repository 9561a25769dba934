// Package mentions gathers recent social and news mentions of a player from several providers.
package mentions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/proporacle/internal/logger"
	"github.com/rewired-gh/proporacle/internal/metrics"
	"github.com/rewired-gh/proporacle/internal/models"
)

// DefaultMaxMentions caps the merged list.
const DefaultMaxMentions = 30

// Provider is one mention source.
type Provider interface {
	Name() string
	FetchMentions(ctx context.Context, subjectName string) ([]models.Mention, error)
}

// Aggregator fans out to every provider in parallel. A failing provider contributes nothing.
type Aggregator struct {
	providers []Provider
	timeout   time.Duration
	max       int
	metrics   *metrics.Metrics
}

// NewAggregator creates an aggregator. timeout bounds each provider call.
func NewAggregator(providers []Provider, timeout time.Duration, max int, m *metrics.Metrics) *Aggregator {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if max <= 0 {
		max = DefaultMaxMentions
	}
	return &Aggregator{providers: providers, timeout: timeout, max: max, metrics: metrics.OrNew(m)}
}

// Fetch merges all provider results newest first, capped at the configured count.
func (a *Aggregator) Fetch(ctx context.Context, subjectName string) []models.Mention {
	results := make([][]models.Mention, len(a.providers))

	var wg sync.WaitGroup
	for i, p := range a.providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()

			ms, err := p.FetchMentions(pctx, subjectName)
			if err != nil {
				logger.Warn("Mention provider %s failed for %s: %v", p.Name(), subjectName, err)
				a.metrics.UpstreamFailures.WithLabelValues(p.Name(), "mentions").Inc()
				return
			}
			results[i] = ms
		}(i, p)
	}
	wg.Wait()

	var all []models.Mention
	for _, ms := range results {
		all = append(all, ms...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	if len(all) > a.max {
		all = all[:a.max]
	}
	logger.Debug("Collected %d mentions for %s from %d providers", len(all), subjectName, len(a.providers))
	return all
}
