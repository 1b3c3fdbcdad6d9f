package client

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/slices"

	"github.com/tonstable/risk-client/policy"
	"github.com/tonstable/risk-client/types"
)

type ScanReport struct {
	// Evaluations follow the contract's position order. Positions that
	// failed to evaluate are left out.
	Evaluations []*Evaluation `json:"evaluations"`
	Failed      int           `json:"failed"`
}

// Liquidatable returns the evaluations with a positive liquidation amount,
// largest first.
func (r *ScanReport) Liquidatable() []*Evaluation {
	var out []*Evaluation
	for _, e := range r.Evaluations {
		if e.Outcome == policy.OutcomeLiquidate {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b *Evaluation) int {
		return b.Amount.Cmp(a.Amount)
	})
	return out
}

// ScanPositions evaluates every position against one state and price
// snapshot. Evaluation runs on a worker pool; per-position failures are
// collected and returned alongside the partial report.
func (c *stableClient) ScanPositions(ctx context.Context, now int64) (*ScanReport, error) {
	start := time.Now()

	state, err := c.GetSingletonState(ctx)
	if err != nil {
		return nil, err
	}
	prices, err := c.Prices(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetch prices")
	}
	positions, err := c.allPositions(ctx)
	if err != nil {
		return nil, err
	}

	var (
		results = make([]*Evaluation, len(positions))
		mu      sync.Mutex
		errs    *multierror.Error
		wp      = workerpool.New(c.cfg.Workers)
	)
	for i, p := range positions {
		i, p := i, p
		wp.Submit(func() {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, errors.Wrapf(err, "position of %s", p.Owner))
				mu.Unlock()
				return
			}

			e, err := c.Evaluate(p, state, prices, now)
			if err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
				return
			}
			c.metrics.ObserveEvaluation(e.Outcome.String(), e.Searches)
			results[i] = e
		})
	}
	wp.StopWait()

	report := &ScanReport{Evaluations: make([]*Evaluation, 0, len(results))}
	for _, e := range results {
		if e == nil {
			report.Failed++
			continue
		}
		report.Evaluations = append(report.Evaluations, e)
	}

	elapsed := time.Since(start)
	c.metrics.ObserveScan(elapsed)
	log.Info().
		Int("positions", len(positions)).
		Int("liquidatable", len(report.Liquidatable())).
		Int("failed", report.Failed).
		Dur("elapsed", elapsed).
		Msg("Positions scanned")

	return report, errs.ErrorOrNil()
}

func (c *stableClient) allPositions(ctx context.Context) ([]*types.Position, error) {
	if c.cfg.PageSize <= 0 {
		return c.GetAllPositions(ctx, 0, 0)
	}

	var positions []*types.Position
	for offset := 0; ; {
		page, err := c.GetAllPositions(ctx, offset, c.cfg.PageSize)
		if err != nil {
			return nil, errors.Wrapf(err, "page at %d", offset)
		}
		positions = append(positions, page...)
		if len(page) < c.cfg.PageSize {
			return positions, nil
		}
		offset += len(page)
	}
}
