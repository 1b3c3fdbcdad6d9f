package client_test

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/test-go/testify/require"

	"github.com/tonstable/risk-client/cell"
	"github.com/tonstable/risk-client/chain"
	"github.com/tonstable/risk-client/client"
	"github.com/tonstable/risk-client/decoder"
	"github.com/tonstable/risk-client/message"
	"github.com/tonstable/risk-client/metrics"
	"github.com/tonstable/risk-client/policy"
	"github.com/tonstable/risk-client/pricefeed"
	"github.com/tonstable/risk-client/types"
)

var (
	singleton = cell.MustParseAddress("EQDM1pwnzPipG7aOUCqT040kZDZl83svyCIDwRwh9pTHLm7W")
	stton     = cell.MustParseAddress("EQAv0PrfHU6U621bR3grc0_gtSaTJjyW8jfGHQRYsj6r1aYa")
	stable    = rawAddress("5e")
	operator  = rawAddress("0a")
	wallet    = rawAddress("0b")
	risky     = rawAddress("a1")
	healthy   = rawAddress("a2")
	idle      = rawAddress("a3")
	unpriced  = rawAddress("a4")
)

func rawAddress(b string) *cell.Address {
	return cell.MustParseAddress("0:" + strings.Repeat(b, 32))
}

func key(t *testing.T, a *cell.Address) types.Key {
	k, err := types.AssetKey(a)
	require.NoError(t, err)
	return k
}

type fakeQuerier struct {
	mu        sync.Mutex
	calls     map[string]int
	addresses map[string]*cell.Address
	args      map[string][]cell.TupleItem

	state     []cell.TupleItem
	positions []*types.Position
	views     map[string]*types.PositionView
	custody   *cell.Cell
}

func (q *fakeQuerier) RunGetMethod(_ context.Context, address *cell.Address, method string, args ...cell.TupleItem) (*chain.Stack, error) {
	q.mu.Lock()
	q.calls[method]++
	q.addresses[method] = address
	q.args[method] = args
	q.mu.Unlock()

	switch method {
	case "get_singleton_state":
		q.mu.Lock()
		defer q.mu.Unlock()
		return chain.NewStack(q.state...), nil
	case "get_all_positions":
		offset, limit := int(args[0].Int.Int64()), int(args[1].Int.Int64())
		page := q.positions[min(offset, len(q.positions)):]
		if limit > 0 && limit < len(page) {
			page = page[:limit]
		}
		items := make([]cell.TupleItem, 0, len(page))
		for _, p := range page {
			c, err := decoder.EncodePosition(p)
			if err != nil {
				return nil, err
			}
			items = append(items, cell.CellItem(c))
		}
		return chain.NewStack(chain.LispList(items...)), nil
	case "get_position_state":
		owner, err := args[0].Cell.BeginParse().LoadAddress()
		if err != nil {
			return nil, err
		}
		view, ok := q.views[owner.Raw()]
		if !ok {
			return nil, errors.Errorf("no position for %s", owner)
		}
		items, err := decoder.PositionViewStack(view)
		if err != nil {
			return nil, err
		}
		return chain.NewStack(items...), nil
	case "get_wallet_address":
		item, err := cell.AddressSliceItem(wallet)
		if err != nil {
			return nil, err
		}
		return chain.NewStack(item), nil
	case "get_user_stucked_token":
		if q.custody == nil {
			return chain.NewStack(cell.NullItem()), nil
		}
		return chain.NewStack(cell.CellItem(q.custody)), nil
	case "get_protocol_accrued_profits":
		return chain.NewStack(
			cell.IntItem(big.NewInt(7_000)),
			cell.IntItem(big.NewInt(1_700_000_000)),
			cell.IntItem(big.NewInt(2_000)),
		), nil
	}
	return nil, errors.Errorf("unexpected method %s", method)
}

func (q *fakeQuerier) setState(t *testing.T, state *types.ProtocolState) {
	items, err := decoder.ProtocolStateStack(state, 0)
	require.NoError(t, err)
	q.mu.Lock()
	q.state = items
	q.mu.Unlock()
}

func (q *fakeQuerier) count(method string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls[method]
}

type sentMessage struct {
	to    *cell.Address
	value *big.Int
	body  *cell.Cell
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []sentMessage
	entered chan struct{}
	release chan struct{}
}

func (s *fakeSender) Address() *cell.Address { return operator }

func (s *fakeSender) Send(_ context.Context, to *cell.Address, value *big.Int, body *cell.Cell) error {
	if s.entered != nil {
		s.entered <- struct{}{}
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{to: to, value: value, body: body})
	return nil
}

func (s *fakeSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type fakeLedger struct {
	mu      sync.Mutex
	seqno   uint32
	account *cell.Address
}

func (l *fakeLedger) LatestSeqno(context.Context) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seqno++
	return l.seqno, nil
}

func (l *fakeLedger) LastTransaction(_ context.Context, seqno uint32, account *cell.Address) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.account = account
	if seqno < 3 {
		return "100", nil
	}
	return "200", nil
}

type fakeFeed struct {
	prices map[string]*big.Int
	data   *pricefeed.FeedData
}

func (f *fakeFeed) Prices(context.Context) (map[string]*big.Int, error) { return f.prices, nil }

func (f *fakeFeed) FeedData(context.Context) (*pricefeed.FeedData, error) { return f.data, nil }

type fixture struct {
	state   *types.ProtocolState
	querier *fakeQuerier
	sender  *fakeSender
	ledger  *fakeLedger
	feed    *fakeFeed
	client  client.StableClient
}

func newFixture(t *testing.T, cfg client.Config) *fixture {
	code, err := cell.BeginCell().StoreUint(1, 8).EndCell()
	require.NoError(t, err)

	state := &types.ProtocolState{
		Owner:           rawAddress("11"),
		FeeController:   rawAddress("12"),
		ProtocolAccount: rawAddress("13"),
		Minter:          &types.Minter{Address: stable, MinterCode: code, WalletCode: code},
		TotalBorrows:    big.NewInt(190_000_000_000),
		SupportedAssets: map[types.Key]*types.SupportedAsset{
			key(t, stton): {
				Key:        key(t, stton),
				Minter:     stton,
				WalletCode: code,
				Params: types.AssetParams{
					AssetType:     types.AssetTypeWrapTON,
					ExchangeRatio: big.NewInt(105_000_000),
				},
			},
		},
		PositionSafeLine:        12_000,
		PositionLiquidationLine: 11_000,
		LiquidationPenalty:      big.NewInt(2_000_000),
		LiquidationPenaltySplit: big.NewInt(50_000_000),
	}
	stateItems, err := decoder.ProtocolStateStack(state, 0)
	require.NoError(t, err)

	stableKey := key(t, stable)
	position := func(owner *cell.Address, collateral map[types.Key]*big.Int, principal, interest int64) *types.Position {
		p := &types.Position{
			Owner:      owner,
			CreatedAt:  1_700_000_000,
			State:      1,
			Credit:     big.NewInt(24_000_000_000),
			Collateral: collateral,
			Debts:      map[types.Key]*types.Debt{},
		}
		if principal > 0 {
			p.Debts[stableKey] = &types.Debt{
				Principal:       big.NewInt(principal),
				StartTs:         1_700_000_000,
				AccruedInterest: big.NewInt(interest),
			}
		}
		return p
	}

	positions := []*types.Position{
		position(risky, map[types.Key]*big.Int{key(t, stton): big.NewInt(109_000_000_000)}, 90_000_000_000, 10_000_000_000),
		position(healthy, map[types.Key]*big.Int{key(t, stton): big.NewInt(111_000_000_000)}, 100_000_000_000, 0),
		position(idle, map[types.Key]*big.Int{key(t, stton): big.NewInt(5_000)}, 0, 0),
		position(unpriced, map[types.Key]*big.Int{key(t, nil): big.NewInt(5_000)}, 1_000, 0),
	}
	views := make(map[string]*types.PositionView, len(positions))
	for _, p := range positions {
		views[p.Owner.Raw()] = &types.PositionView{
			Position:        *p,
			TotalDebt:       big.NewInt(0),
			OutstandingDebt: big.NewInt(0),
			InterestDebt:    big.NewInt(0),
		}
	}

	prices, err := cell.BeginCell().StoreUint(0xfeed, 16).EndCell()
	require.NoError(t, err)
	ratios, err := cell.BeginCell().StoreUint(0xbeef, 16).EndCell()
	require.NoError(t, err)

	ton, err := types.NewCollateralAsset("TON", nil)
	require.NoError(t, err)
	st, err := types.NewCollateralAsset("STTON", stton)
	require.NoError(t, err)

	cfg.Singleton = singleton
	cfg.Collaterals = []types.CollateralAsset{ton, st}
	cfg.Wanted = []*cell.Address{stton}
	if cfg.Wait.Retries == 0 {
		cfg.Wait = chain.WaitOptions{Retries: 5, Interval: time.Millisecond}
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}

	f := &fixture{
		state: state,
		querier: &fakeQuerier{
			calls:     map[string]int{},
			addresses: map[string]*cell.Address{},
			args:      map[string][]cell.TupleItem{},
			state:     stateItems,
			positions: positions,
			views:     views,
		},
		sender: &fakeSender{},
		ledger: &fakeLedger{},
		feed: &fakeFeed{
			prices: map[string]*big.Int{"STTON": big.NewInt(100_000_000)},
			data:   &pricefeed.FeedData{Prices: prices, ExchangeRatios: ratios},
		},
	}
	c, err := client.New(cfg, f.querier, f.sender, f.ledger, f.feed, client.WithMetrics(metrics.Risk()))
	require.NoError(t, err)
	f.client = c
	return f
}

func TestNewRequiresSingleton(t *testing.T) {
	_, err := client.New(client.Config{}, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestSingletonStateIsCached(t *testing.T) {
	f := newFixture(t, client.Config{})
	ctx := context.Background()

	state, err := f.client.GetSingletonState(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(11_500), state.OutstandingLine())
	require.True(t, state.Minter.Address.Equal(stable))

	select {
	case update := <-f.client.UpdatesChannel():
		require.True(t, update == state)
	case <-time.After(time.Second):
		t.Fatal("no state update published")
	}

	_, err = f.client.GetSingletonState(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, f.querier.count("get_singleton_state"))

	_, err = f.client.RefreshState(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, f.querier.count("get_singleton_state"))
}

func TestUpdatesKeepOnlyLatestState(t *testing.T) {
	f := newFixture(t, client.Config{})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		f.state.PositionSafeLine = 12_000 + int64(i)
		f.querier.setState(t, f.state)
		_, err := f.client.RefreshState(ctx)
		require.NoError(t, err)
	}

	updates := f.client.UpdatesChannel()
	require.Equal(t, 1, cap(updates))
	select {
	case update := <-updates:
		require.Equal(t, int64(12_049), update.PositionSafeLine)
	default:
		t.Fatal("no state update published")
	}
	select {
	case <-updates:
		t.Fatal("stale state left in the channel")
	default:
	}

	// an unchanged state is not published again
	_, err := f.client.RefreshState(ctx)
	require.NoError(t, err)
	require.Len(t, updates, 0)
}

func TestListenUpdatesStopsWithContext(t *testing.T) {
	f := newFixture(t, client.Config{})
	ctx, cancel := context.WithCancel(context.Background())

	c, err := client.New(client.Config{Singleton: singleton}, f.querier, f.sender, f.ledger, f.feed,
		client.WithUpdateInterval(time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, c.ListenUpdates(ctx))

	deadline := time.Now().Add(time.Second)
	for f.querier.count("get_singleton_state") < 3 {
		require.True(t, time.Now().Before(deadline), "state was not refreshed in the background")
		time.Sleep(time.Millisecond)
	}
	cancel()
}

func TestGetAllPositionsPaging(t *testing.T) {
	f := newFixture(t, client.Config{})
	ctx := context.Background()

	all, err := f.client.GetAllPositions(ctx, -5, -1)
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.True(t, all[0].Owner.Equal(risky))

	page, err := f.client.GetAllPositions(ctx, 3, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.True(t, page[0].Owner.Equal(unpriced))
}

func TestGetUserPosition(t *testing.T) {
	f := newFixture(t, client.Config{})

	p, err := f.client.GetUserPosition(context.Background(), risky, 1_700_000_100)
	require.NoError(t, err)
	require.True(t, p.Owner.Equal(risky))
	require.Equal(t, "20000000000", p.SafeCredit.String())
	require.Equal(t, int64(11_000), p.LiquidationLine)

	e := p.Evaluation
	require.Equal(t, policy.OutcomeLiquidate, e.Outcome)
	require.Equal(t, "109000000000", e.Collateral.String())
	require.Equal(t, "100000000000", e.TotalDebt.String())
	require.Len(t, e.Holdings, 1)
	require.Equal(t, "105000000", e.Holdings[0].ExchangeRatio.String())
}

func TestScanPositions(t *testing.T) {
	f := newFixture(t, client.Config{PageSize: 2, Workers: 3})

	report, err := f.client.ScanPositions(context.Background(), 1_700_000_100)
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing price")
	require.NotNil(t, report)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 3, f.querier.count("get_all_positions"))

	require.Len(t, report.Evaluations, 3)
	require.True(t, report.Evaluations[0].Owner.Equal(risky))
	require.Equal(t, policy.OutcomeLiquidate, report.Evaluations[0].Outcome)
	require.Equal(t, policy.OutcomeSolvent, report.Evaluations[1].Outcome)
	require.Equal(t, policy.OutcomeSkip, report.Evaluations[2].Outcome)

	liquidatable := report.Liquidatable()
	require.Len(t, liquidatable, 1)
	require.Equal(t, "46153846147", liquidatable[0].Amount.String())
}

func TestTryToLiquidate(t *testing.T) {
	f := newFixture(t, client.Config{})
	ctx := context.Background()

	e, err := f.client.TryToLiquidate(ctx, healthy, 1_700_000_100)
	require.NoError(t, err)
	require.Equal(t, policy.OutcomeSolvent, e.Outcome)
	require.Empty(t, f.sender.messages())

	e, err = f.client.TryToLiquidate(ctx, risky, 1_700_000_100)
	require.NoError(t, err)
	require.Equal(t, policy.OutcomeLiquidate, e.Outcome)

	msgs := f.sender.messages()
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].to.Equal(wallet))
	require.Equal(t, "550000000", msgs[0].value.String())

	s := msgs[0].body.BeginParse()
	op, err := s.LoadUint(32)
	require.NoError(t, err)
	require.Equal(t, uint64(message.OpJettonTransfer), op)
	_, err = s.LoadUint(64)
	require.NoError(t, err)
	amount, err := s.LoadCoins()
	require.NoError(t, err)
	require.Equal(t, "46153846147", amount.String())
	destination, err := s.LoadAddress()
	require.NoError(t, err)
	require.True(t, destination.Equal(singleton))

	// the operator's stablecoin wallet comes from the stablecoin minter
	require.True(t, f.querier.addresses["get_wallet_address"].Equal(stable))
	walletOwner, err := f.querier.args["get_wallet_address"][0].Cell.BeginParse().LoadAddress()
	require.NoError(t, err)
	require.True(t, walletOwner.Equal(operator))

	// confirmed on the operator wallet, then the state is reloaded
	require.True(t, f.ledger.account.Equal(operator))
	require.Equal(t, 2, f.querier.count("get_singleton_state"))
}

func TestTryToLiquidateUnconfirmed(t *testing.T) {
	f := newFixture(t, client.Config{Wait: chain.WaitOptions{Retries: 1, Interval: time.Millisecond}})

	e, err := f.client.TryToLiquidate(context.Background(), risky, 1_700_000_100)
	require.True(t, errors.Is(err, client.ErrLiquidationUnconfirmed))
	require.Equal(t, policy.OutcomeLiquidate, e.Outcome)
	require.Len(t, f.sender.messages(), 1)
	require.Equal(t, 1, f.querier.count("get_singleton_state"))
}

func TestTryToLiquidateHoldsOwnerUntilConfirmed(t *testing.T) {
	f := newFixture(t, client.Config{Wait: chain.WaitOptions{Retries: 5, Interval: 50 * time.Millisecond}})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.client.TryToLiquidate(ctx, risky, 1_700_000_100)
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for len(f.sender.messages()) == 0 {
		require.True(t, time.Now().Before(deadline), "liquidation was not sent")
		time.Sleep(time.Millisecond)
	}

	// sent but still waiting for the operator wallet
	_, err := f.client.TryToLiquidate(ctx, risky, 1_700_000_100)
	require.True(t, errors.Is(err, client.ErrLiquidationInFlight))

	require.NoError(t, <-done)
	require.Len(t, f.sender.messages(), 1)
}

func TestTryToLiquidateIsSingleFlight(t *testing.T) {
	f := newFixture(t, client.Config{})
	f.sender.entered = make(chan struct{})
	f.sender.release = make(chan struct{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.client.TryToLiquidate(ctx, risky, 1_700_000_100)
		done <- err
	}()
	<-f.sender.entered

	_, err := f.client.TryToLiquidate(ctx, risky, 1_700_000_100)
	require.True(t, errors.Is(err, client.ErrLiquidationInFlight))

	close(f.sender.release)
	require.NoError(t, <-done)
	require.Len(t, f.sender.messages(), 1)
}

func TestSendLiquidate(t *testing.T) {
	configured := rawAddress("0c")
	f := newFixture(t, client.Config{LiquidatorWallet: configured})
	ctx := context.Background()

	require.Error(t, f.client.SendLiquidate(ctx, big.NewInt(0), risky))
	require.NoError(t, f.client.SendLiquidate(ctx, big.NewInt(1_000), risky))

	msgs := f.sender.messages()
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].to.Equal(configured))
	require.Zero(t, f.querier.count("get_wallet_address"))
}

func TestWaitForTransactionWatchesOperator(t *testing.T) {
	f := newFixture(t, client.Config{})

	require.True(t, f.client.WaitForTransaction(context.Background(), "liquidate"))
	require.True(t, f.ledger.account.Equal(operator))
}

func TestCustodyTokensAndProfits(t *testing.T) {
	f := newFixture(t, client.Config{})
	ctx := context.Background()

	tokens, err := f.client.CustodyTokens(ctx, risky)
	require.NoError(t, err)
	require.Empty(t, tokens)

	token, err := cell.BeginCell().StoreAddress(stton).StoreCoins(big.NewInt(42)).EndCell()
	require.NoError(t, err)
	dict := cell.NewDictionary(types.BitsKey, cell.CellValue())
	require.NoError(t, dict.Set(key(t, stton).Int(), token))
	f.querier.custody, err = dict.Root()
	require.NoError(t, err)

	tokens, err = f.client.CustodyTokens(ctx, risky)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	require.True(t, tokens[0].Minter.Equal(stton))
	require.Equal(t, "42", tokens[0].Amount.String())

	profits, err := f.client.AccruedProfits(ctx)
	require.NoError(t, err)
	require.Equal(t, "7000", profits.TotalAccrued.String())
	require.Equal(t, int64(1_700_000_000), profits.LastUpdated)
	require.Equal(t, "2000", profits.Extracted.String())
}
