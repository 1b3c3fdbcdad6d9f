package client

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/tonstable/risk-client/accrual"
	"github.com/tonstable/risk-client/cell"
	"github.com/tonstable/risk-client/chain"
	"github.com/tonstable/risk-client/decoder"
	"github.com/tonstable/risk-client/metrics"
	"github.com/tonstable/risk-client/policy"
	"github.com/tonstable/risk-client/pricefeed"
	"github.com/tonstable/risk-client/types"
	"github.com/tonstable/risk-client/valuation"
)

const (
	methodSingletonState  = "get_singleton_state"
	methodAllPositions    = "get_all_positions"
	methodPositionState   = "get_position_state"
	methodCustodyTokens   = "get_user_stucked_token"
	methodAccruedProfits  = "get_protocol_accrued_profits"
	methodJettonWallet    = "get_wallet_address"
	defaultUpdateInterval = 5 * time.Second
)

type StableClient interface {
	GetSingletonState(ctx context.Context) (*types.ProtocolState, error)
	RefreshState(ctx context.Context) (*types.ProtocolState, error)
	ListenUpdates(ctx context.Context) error
	UpdatesChannel() <-chan *types.ProtocolState
	GetAllPositions(ctx context.Context, offset, limit int) ([]*types.Position, error)
	GetUserPosition(ctx context.Context, owner *cell.Address, now int64) (*UserPosition, error)
	Prices(ctx context.Context) (map[types.Key]*big.Int, error)
	Evaluate(position *types.Position, state *types.ProtocolState, prices map[types.Key]*big.Int, now int64) (*Evaluation, error)
	ScanPositions(ctx context.Context, now int64) (*ScanReport, error)
	TryToLiquidate(ctx context.Context, owner *cell.Address, now int64) (*Evaluation, error)
	SendLiquidate(ctx context.Context, amount *big.Int, owner *cell.Address) error
	WaitForTransaction(ctx context.Context, action string) bool
	CustodyTokens(ctx context.Context, owner *cell.Address) ([]types.CustodyToken, error)
	AccruedProfits(ctx context.Context) (*types.AccruedProfits, error)
}

type Config struct {
	Singleton   *cell.Address
	Collaterals []types.CollateralAsset
	// Wanted are the collateral minters requested from a liquidated
	// position.
	Wanted []*cell.Address
	// LiquidatorWallet overrides the stablecoin wallet resolved from the
	// minter.
	LiquidatorWallet *cell.Address
	Wait             chain.WaitOptions
	Workers          int
	// PageSize bounds get_all_positions calls during a scan; 0 fetches
	// everything at once.
	PageSize      int
	Denominations types.Denominations
}

// Evaluation is the outcome of running one position through valuation,
// accrual and the liquidation policy.
type Evaluation struct {
	Owner    *cell.Address       `json:"owner"`
	Holdings []valuation.Holding `json:"holdings"`
	*policy.Decision
}

// UserPosition is a position as reported by the contract, evaluated at the
// current feed prices.
type UserPosition struct {
	*types.PositionView
	SafeCredit      *big.Int    `json:"safeCredit"`
	LiquidationLine int64       `json:"positionLiquidationLine"`
	Evaluation      *Evaluation `json:"evaluation"`
}

type stableClient struct {
	cfg     Config
	querier chain.Querier
	sender  chain.Sender
	ledger  chain.Ledger
	feed    pricefeed.Feed

	accrual   *accrual.Engine
	valuer    *valuation.Valuer
	policy    *policy.Engine
	metrics   *metrics.RiskMetrics
	allowList []types.Key

	updateInterval time.Duration
	// Updates holds at most the latest changed state.
	Updates   chan *types.ProtocolState
	publishMu sync.Mutex

	mu              sync.RWMutex
	state           *types.ProtocolState
	lastFingerprint string
	jettonWallet    *cell.Address

	flightMu sync.Mutex
	inFlight map[string]struct{}
}

type Opt func(c *stableClient)

func WithMetrics(m *metrics.RiskMetrics) Opt {
	return func(c *stableClient) { c.metrics = m }
}

func WithUpdateInterval(d time.Duration) Opt {
	return func(c *stableClient) { c.updateInterval = d }
}

func New(cfg Config, querier chain.Querier, sender chain.Sender, ledger chain.Ledger, feed pricefeed.Feed, opt ...Opt) (StableClient, error) {
	if cfg.Singleton == nil {
		return nil, errors.New("singleton address is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Denominations == (types.Denominations{}) {
		cfg.Denominations = types.DefaultDenominations()
	}

	c := &stableClient{
		cfg:            cfg,
		querier:        querier,
		sender:         sender,
		ledger:         ledger,
		feed:           feed,
		accrual:        accrual.New(cfg.Denominations),
		valuer:         valuation.New(cfg.Denominations),
		policy:         policy.New(cfg.Denominations),
		metrics:        metrics.Risk(),
		updateInterval: defaultUpdateInterval,
		Updates:        make(chan *types.ProtocolState, 1),
		inFlight:       make(map[string]struct{}),
	}
	for _, a := range cfg.Collaterals {
		c.allowList = append(c.allowList, a.Key)
	}
	for _, o := range opt {
		o(c)
	}
	return c, nil
}

func (c *stableClient) GetSingletonState(ctx context.Context) (*types.ProtocolState, error) {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()
	if state != nil {
		return state, nil
	}
	return c.RefreshState(ctx)
}

// RefreshState refetches the singleton state and replaces the cached copy.
// Subscribers are notified when the contract's answer changed.
func (c *stableClient) RefreshState(ctx context.Context) (*types.ProtocolState, error) {
	stack, err := c.querier.RunGetMethod(ctx, c.cfg.Singleton, methodSingletonState)
	if err != nil {
		return nil, errors.Wrap(err, "get singleton state")
	}
	fingerprint, err := stack.Fingerprint()
	if err != nil {
		return nil, err
	}
	state, err := decoder.DecodeProtocolState(stack)
	if err != nil {
		return nil, errors.Wrap(err, "decode singleton state")
	}

	c.mu.Lock()
	changed := fingerprint != c.lastFingerprint
	c.state = state
	c.lastFingerprint = fingerprint
	c.mu.Unlock()

	if changed {
		log.Info().
			Int64("safeLine", state.PositionSafeLine).
			Int64("liquidationLine", state.PositionLiquidationLine).
			Int("assets", len(state.SupportedAssets)).
			Msg("Singleton state is updated")

		c.publish(state)
	}
	return state, nil
}

// publish replaces an unread state with the newer one.
func (c *stableClient) publish(state *types.ProtocolState) {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	select {
	case <-c.Updates:
	default:
	}
	select {
	case c.Updates <- state:
	default:
	}
}

// ListenUpdates loads the state once and keeps refreshing it in the
// background until ctx is done.
func (c *stableClient) ListenUpdates(ctx context.Context) error {
	if _, err := c.RefreshState(ctx); err != nil {
		return errors.Wrap(err, "update state")
	}

	go func() {
		ticker := time.NewTicker(c.updateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.RefreshState(ctx); err != nil {
					log.Error().Err(err).Msg("update state err")
				}
			}
		}
	}()

	return nil
}

func (c *stableClient) UpdatesChannel() <-chan *types.ProtocolState {
	return c.Updates
}

// GetAllPositions returns the positions in [offset, offset+limit). Negative
// arguments are treated as 0; a limit of 0 asks for everything.
func (c *stableClient) GetAllPositions(ctx context.Context, offset, limit int) ([]*types.Position, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}
	stack, err := c.querier.RunGetMethod(ctx, c.cfg.Singleton, methodAllPositions,
		cell.IntItem(big.NewInt(int64(offset))),
		cell.IntItem(big.NewInt(int64(limit))),
	)
	if err != nil {
		return nil, errors.Wrap(err, "get all positions")
	}
	items, err := stack.ReadLispList()
	if err != nil {
		return nil, errors.Wrap(err, "position list")
	}
	return decoder.DecodePositionList(items)
}

func (c *stableClient) GetUserPosition(ctx context.Context, owner *cell.Address, now int64) (*UserPosition, error) {
	state, err := c.GetSingletonState(ctx)
	if err != nil {
		return nil, err
	}

	arg, err := cell.AddressSliceItem(owner)
	if err != nil {
		return nil, err
	}
	stack, err := c.querier.RunGetMethod(ctx, c.cfg.Singleton, methodPositionState, arg)
	if err != nil {
		return nil, errors.Wrap(err, "get position state")
	}
	view, err := decoder.DecodePositionView(stack)
	if err != nil {
		return nil, errors.Wrapf(err, "decode position of %s", owner)
	}

	prices, err := c.Prices(ctx)
	if err != nil {
		return nil, err
	}
	evaluation, err := c.Evaluate(&view.Position, state, prices, now)
	if err != nil {
		return nil, err
	}

	safeCredit := new(big.Int)
	if state.PositionSafeLine != 0 && view.Credit != nil {
		safeCredit.Mul(view.Credit, c.cfg.Denominations.LineInt())
		safeCredit.Quo(safeCredit, big.NewInt(state.PositionSafeLine))
	}

	return &UserPosition{
		PositionView:    view,
		SafeCredit:      safeCredit,
		LiquidationLine: state.PositionLiquidationLine,
		Evaluation:      evaluation,
	}, nil
}

// Prices fetches feed prices and keys them by the configured collaterals.
// Feed symbols outside the allow-list are dropped.
func (c *stableClient) Prices(ctx context.Context) (map[types.Key]*big.Int, error) {
	bySymbol, err := c.feed.Prices(ctx)
	if err != nil {
		return nil, err
	}

	prices := make(map[types.Key]*big.Int, len(c.cfg.Collaterals))
	for _, a := range c.cfg.Collaterals {
		price, ok := bySymbol[a.Symbol]
		if !ok {
			log.Debug().Str("symbol", a.Symbol).Msg("No feed price for collateral")
			continue
		}
		prices[a.Key] = price
	}
	return prices, nil
}

// Evaluate is pure: it values the allow-listed collateral, accrues every
// debt up to now and runs the liquidation policy.
func (c *stableClient) Evaluate(position *types.Position, state *types.ProtocolState, prices map[types.Key]*big.Int, now int64) (*Evaluation, error) {
	if position == nil {
		return nil, errors.New("nil position")
	}
	if state == nil {
		return nil, errors.New("nil singleton state")
	}

	holdings, err := c.valuer.Holdings(position, prices, c.allowList, state.SupportedAssets)
	if err != nil {
		return nil, errors.Wrapf(err, "value position of %s", position.Owner)
	}
	collateral := c.valuer.Total(holdings)

	principal, interest := c.accrual.TotalDebt(now, state.ApyTimeline, position.Debts)

	decision, err := c.policy.Evaluate(collateral, principal, interest, state)
	if err != nil {
		return nil, errors.Wrapf(err, "evaluate position of %s", position.Owner)
	}

	log.Debug().
		Stringer("owner", position.Owner).
		Str("collateral", collateral.String()).
		Str("debt", decision.TotalDebt.String()).
		Stringer("outcome", decision.Outcome).
		Msg("Position evaluated")

	return &Evaluation{Owner: position.Owner, Holdings: holdings, Decision: decision}, nil
}

func (c *stableClient) CustodyTokens(ctx context.Context, owner *cell.Address) ([]types.CustodyToken, error) {
	arg, err := cell.AddressSliceItem(owner)
	if err != nil {
		return nil, err
	}
	stack, err := c.querier.RunGetMethod(ctx, c.cfg.Singleton, methodCustodyTokens, arg)
	if err != nil {
		return nil, errors.Wrap(err, "get custody tokens")
	}
	return decoder.DecodeCustodyTokens(stack)
}

func (c *stableClient) AccruedProfits(ctx context.Context) (*types.AccruedProfits, error) {
	stack, err := c.querier.RunGetMethod(ctx, c.cfg.Singleton, methodAccruedProfits)
	if err != nil {
		return nil, errors.Wrap(err, "get accrued profits")
	}
	return decoder.DecodeAccruedProfits(stack)
}
