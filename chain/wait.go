package chain

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"

	"github.com/tonstable/risk-client/cell"
)

const (
	DefaultWaitRetries  = 10
	DefaultWaitInterval = 3 * time.Second
)

var (
	errNoNewBlock   = errors.New("no new block")
	errNotConfirmed = errors.New("account marker unchanged")
)

type WaitOptions struct {
	// Action names the awaited operation in logs.
	Action   string
	Retries  uint64
	Interval time.Duration
}

func (o WaitOptions) withDefaults() WaitOptions {
	if o.Retries == 0 {
		o.Retries = DefaultWaitRetries
	}
	if o.Interval <= 0 {
		o.Interval = DefaultWaitInterval
	}
	return o
}

// WaitForTransaction polls the ledger until the account's latest transaction
// marker moves past the one observed on entry. The first check runs one
// interval after entry. Every check is one attempt; a check only counts as
// progress once a new block has been produced.
// Exhausting the budget, a cancelled context and ledger failures all report
// false.
func WaitForTransaction(ctx context.Context, ledger Ledger, account *cell.Address, opts WaitOptions) bool {
	opts = opts.withDefaults()

	seqno, err := ledger.LatestSeqno(ctx)
	if err != nil {
		log.Error().Err(err).Str("action", opts.Action).Msg("could not read latest block")
		return false
	}
	initial, err := ledger.LastTransaction(ctx, seqno, account)
	if err != nil {
		log.Error().Err(err).Str("action", opts.Action).Msg("could not read account state")
		return false
	}

	// the transaction cannot land in the block already observed
	select {
	case <-ctx.Done():
		log.Warn().Err(ctx.Err()).Str("action", opts.Action).Msgf("%s wait cancelled", opts.Action)
		return false
	case <-time.After(opts.Interval):
	}

	backoff := retry.WithMaxRetries(opts.Retries-1, retry.NewConstant(opts.Interval))

	attempt := uint64(0)
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		log.Debug().Msgf("awaiting %s completion (%d/%d)", opts.Action, attempt, opts.Retries)

		latest, err := ledger.LatestSeqno(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("could not read latest block")
			return retry.RetryableError(err)
		}
		if latest == seqno {
			return retry.RetryableError(errNoNewBlock)
		}
		seqno = latest

		lt, err := ledger.LastTransaction(ctx, seqno, account)
		if err != nil {
			log.Warn().Err(err).Msg("could not read account state")
			return retry.RetryableError(err)
		}
		if lt == "" || lt == initial {
			return retry.RetryableError(errNotConfirmed)
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("action", opts.Action).Msgf("%s not confirmed after %d checks", opts.Action, attempt)
		return false
	}

	log.Info().Str("action", opts.Action).Msgf("%s confirmed", opts.Action)
	return true
}
