package client

import (
	"context"
	"math/big"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/tonstable/risk-client/cell"
	"github.com/tonstable/risk-client/chain"
	"github.com/tonstable/risk-client/message"
	"github.com/tonstable/risk-client/policy"
)

var (
	ErrLiquidationInFlight    = errors.New("liquidation already in flight")
	ErrLiquidationUnconfirmed = errors.New("liquidation not confirmed")
)

// TryToLiquidate evaluates the owner's position and, when it is below the
// liquidation line, submits a liquidation sized to restore the outstanding
// line, waits for the operator wallet to confirm it and reloads the
// singleton state. Only one attempt per owner runs at a time until the
// confirmation resolves; a concurrent call fails with ErrLiquidationInFlight.
func (c *stableClient) TryToLiquidate(ctx context.Context, owner *cell.Address, now int64) (*Evaluation, error) {
	if owner == nil {
		return nil, errors.New("owner address is required")
	}
	release, ok := c.acquire(owner)
	if !ok {
		return nil, errors.Wrapf(ErrLiquidationInFlight, "owner %s", owner)
	}
	defer release()

	position, err := c.GetUserPosition(ctx, owner, now)
	if err != nil {
		return nil, err
	}
	e := position.Evaluation
	c.metrics.ObserveEvaluation(e.Outcome.String(), e.Searches)

	if e.Outcome != policy.OutcomeLiquidate {
		log.Info().
			Stringer("owner", owner).
			Stringer("outcome", e.Outcome).
			Msg("Position is not liquidatable")
		return e, nil
	}

	log.Info().
		Stringer("owner", owner).
		Str("adequacy", e.Adequacy.String()).
		Str("penalty", e.Penalty.Ratio.String()).
		Str("amount", e.Amount.String()).
		Msg("Liquidating position")

	if err := c.SendLiquidate(ctx, e.Amount, owner); err != nil {
		return e, err
	}
	if !c.WaitForTransaction(ctx, "liquidate") {
		return e, errors.Wrapf(ErrLiquidationUnconfirmed, "owner %s", owner)
	}
	if _, err := c.RefreshState(ctx); err != nil {
		return e, errors.Wrap(err, "refresh state after liquidation")
	}
	return e, nil
}

// SendLiquidate transfers amount stablecoins from the operator's jetton
// wallet to the singleton with a liquidation request for owner's position.
func (c *stableClient) SendLiquidate(ctx context.Context, amount *big.Int, owner *cell.Address) (err error) {
	defer func() { c.metrics.ObserveSubmission(err) }()

	if amount == nil || amount.Sign() <= 0 {
		return errors.New("liquidation amount must be positive")
	}

	wallet, err := c.liquidatorWallet(ctx)
	if err != nil {
		return err
	}
	feedData, err := c.feed.FeedData(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch feed data")
	}

	liquidation := message.Liquidation{
		Request: message.LiquidationRequest{
			Owner:          owner,
			Collaterals:    c.cfg.Wanted,
			Amount:         amount,
			AmountType:     message.AmountTypeCapitalMax,
			Prices:         feedData.Prices,
			ExchangeRatios: feedData.ExchangeRatios,
		},
		Contract: c.cfg.Singleton,
		Capital:  amount,
		Value:    message.RequiredLiquidationValue(len(c.cfg.Wanted)),
	}
	body, err := liquidation.Body()
	if err != nil {
		return err
	}

	if err := c.sender.Send(ctx, wallet, liquidation.Value, body); err != nil {
		return errors.Wrap(err, "send liquidation")
	}
	log.Info().
		Stringer("owner", owner).
		Stringer("wallet", wallet).
		Str("amount", amount.String()).
		Str("value", liquidation.Value.String()).
		Msg("Liquidation sent")
	return nil
}

// WaitForTransaction polls until the operator wallet shows a new
// transaction. It reports false when the retry budget runs out.
func (c *stableClient) WaitForTransaction(ctx context.Context, action string) bool {
	opts := c.cfg.Wait
	opts.Action = action
	ok := chain.WaitForTransaction(ctx, c.ledger, c.sender.Address(), opts)
	c.metrics.ObserveConfirmation(ok)
	return ok
}

func (c *stableClient) liquidatorWallet(ctx context.Context) (*cell.Address, error) {
	if c.cfg.LiquidatorWallet != nil {
		return c.cfg.LiquidatorWallet, nil
	}

	c.mu.RLock()
	wallet := c.jettonWallet
	c.mu.RUnlock()
	if wallet != nil {
		return wallet, nil
	}

	state, err := c.GetSingletonState(ctx)
	if err != nil {
		return nil, err
	}
	if state.Minter == nil {
		return nil, errors.New("singleton has no stablecoin minter")
	}
	arg, err := cell.AddressSliceItem(c.sender.Address())
	if err != nil {
		return nil, err
	}
	stack, err := c.querier.RunGetMethod(ctx, state.Minter.Address, methodJettonWallet, arg)
	if err != nil {
		return nil, errors.Wrap(err, "get liquidator wallet")
	}
	wallet, err = stack.ReadAddress()
	if err != nil {
		return nil, errors.Wrap(err, "liquidator wallet")
	}

	c.mu.Lock()
	c.jettonWallet = wallet
	c.mu.Unlock()
	return wallet, nil
}

func (c *stableClient) acquire(owner *cell.Address) (func(), bool) {
	key := owner.Raw()

	c.flightMu.Lock()
	defer c.flightMu.Unlock()
	if _, busy := c.inFlight[key]; busy {
		return nil, false
	}
	c.inFlight[key] = struct{}{}

	return func() {
		c.flightMu.Lock()
		delete(c.inFlight, key)
		c.flightMu.Unlock()
	}, true
}
