package rbi

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/meridian-integrity/rbi-cli/internal/model"
)

// DefaultPreviewConcurrency bounds the per-tag fan-out when the caller does
// not configure a pool size.
const DefaultPreviewConcurrency = 8

// PreviewerOption customizes a Previewer.
type PreviewerOption func(*Previewer)

// WithConcurrency sets the worker pool size for the per-tag fan-out.
func WithConcurrency(n int) PreviewerOption {
	return func(p *Previewer) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithRateLimit throttles per-tag source lookups so a large preview batch
// cannot saturate the backing store.
func WithRateLimit(perSecond float64, burst int) PreviewerOption {
	return func(p *Previewer) {
		if perSecond > 0 && burst > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// Previewer runs the scheduling engine against a candidate policy for a batch
// of valves without persisting anything, reporting before/after due dates for
// impact review. It is a thin caller over the same Compute path the commit
// flow uses; the four-level algorithm is not duplicated.
type Previewer struct {
	engine      *Engine
	policies    PolicySource
	concurrency int
	limiter     *rate.Limiter
}

// NewPreviewer wires a Previewer over the engine and the active-policy source.
func NewPreviewer(engine *Engine, policies PolicySource, opts ...PreviewerOption) *Previewer {
	p := &Previewer{
		engine:      engine,
		policies:    policies,
		concurrency: DefaultPreviewConcurrency,
		limiter:     rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Preview computes, for every tag, the next due date under the currently
// active policy and under the candidate policy. Per-tag failures are captured
// in that tag's entry rather than aborting the batch: preview is a best-effort
// impact report, unlike the all-or-nothing commit path. Cancelling the context
// aborts the whole batch and no partial map is returned.
func (p *Previewer) Preview(ctx context.Context, tags []string, candidate *model.RBIConfiguration) (map[string]model.PreviewEntry, error) {
	if candidate == nil {
		return nil, model.NewConfigurationErrorf("no candidate policy supplied")
	}
	if err := candidate.Validate(); err != nil {
		return nil, eris.Wrapf(err, "preview: candidate policy %q", candidate.Name)
	}

	// One active-policy snapshot for the whole batch keeps the "current"
	// column self-consistent even if an activation lands mid-preview.
	active, err := p.policies.ActivePolicy(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "preview: load active policy")
	}

	entries := make(map[string]model.PreviewEntry, len(tags))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, tag := range tags {
		g.Go(func() error {
			if err := p.limiter.Wait(gctx); err != nil {
				return err
			}

			var entry model.PreviewEntry
			var failures []string

			if active != nil {
				if res, err := p.engine.Compute(gctx, tag, active.Level, active); err != nil {
					failures = append(failures, "current: "+err.Error())
				} else {
					due := res.NextDue
					entry.Current = &due
				}
			}

			if res, err := p.engine.Compute(gctx, tag, candidate.Level, candidate); err != nil {
				failures = append(failures, "candidate: "+err.Error())
			} else {
				due := res.NextDue
				entry.New = &due
			}

			if len(failures) > 0 {
				entry.Error = failures[0]
				if len(failures) == 2 {
					entry.Error = failures[0] + "; " + failures[1]
				}
				zap.L().Warn("preview: tag failed",
					zap.String("tag", tag),
					zap.String("error", entry.Error),
				)
			}

			mu.Lock()
			entries[tag] = entry
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "preview: batch aborted")
	}

	zap.L().Info("preview: batch complete",
		zap.Int("tags", len(tags)),
		zap.String("candidate", candidate.Name),
	)
	return entries, nil
}
