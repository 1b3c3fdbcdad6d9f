package pricefeed

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/tonstable/risk-client/cell"
	"github.com/tonstable/risk-client/request"
)

const (
	pricesPath   = "/api/getprice"
	feedDataPath = "/api/getfeedData"
)

var ErrMalformedFeed = errors.New("malformed price feed response")

// Feed supplies prices on the 8-decimal scale and the signed attestation
// cells a liquidation has to carry.
type Feed interface {
	Prices(ctx context.Context) (map[string]*big.Int, error)
	FeedData(ctx context.Context) (*FeedData, error)
}

// FeedData holds the signed price and exchange-ratio attestations. They are
// forwarded without inspection.
type FeedData struct {
	Prices         *cell.Cell
	ExchangeRatios *cell.Cell
}

type priceEntry struct {
	Symbol string          `json:"symbol"`
	Price  json.RawMessage `json:"price"`
}

type pricesResponse struct {
	Data []priceEntry `json:"data"`
}

type feedDataResponse struct {
	Data []string `json:"data"`
}

type httpFeed struct {
	baseURL    string
	httpClient *http.Client
}

type Opt func(f *httpFeed)

func WithHTTPClient(c *http.Client) Opt {
	return func(f *httpFeed) { f.httpClient = c }
}

func WithTimeout(d time.Duration) Opt {
	return func(f *httpFeed) { f.httpClient = &http.Client{Timeout: d} }
}

func New(baseURL string, opt ...Opt) Feed {
	f := &httpFeed{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opt {
		o(f)
	}
	return f
}

func (f *httpFeed) Prices(ctx context.Context) (map[string]*big.Int, error) {
	resp, err := request.Get[pricesResponse](ctx, f.httpClient, f.baseURL+pricesPath)
	if err != nil {
		return nil, errors.Wrap(err, "fetch prices")
	}

	prices := make(map[string]*big.Int, len(resp.Data))
	for _, e := range resp.Data {
		if e.Symbol == "" {
			continue
		}
		price, err := parsePrice(e.Price)
		if err != nil {
			return nil, errors.Wrapf(err, "price of %s", e.Symbol)
		}
		prices[strings.ToUpper(e.Symbol)] = price
	}
	log.Debug().Int("count", len(prices)).Msg("Prices fetched")
	return prices, nil
}

func (f *httpFeed) FeedData(ctx context.Context) (*FeedData, error) {
	resp, err := request.Get[feedDataResponse](ctx, f.httpClient, f.baseURL+feedDataPath)
	if err != nil {
		return nil, errors.Wrap(err, "fetch feed data")
	}
	if len(resp.Data) < 2 {
		return nil, errors.Wrapf(ErrMalformedFeed, "feed data has %d entries", len(resp.Data))
	}

	prices, err := cell.FromBocHex(resp.Data[0])
	if err != nil {
		return nil, errors.Wrap(err, "price attestation")
	}
	ratios, err := cell.FromBocHex(resp.Data[1])
	if err != nil {
		return nil, errors.Wrap(err, "exchange ratio attestation")
	}
	return &FeedData{Prices: prices, ExchangeRatios: ratios}, nil
}

func strToBigInt(str string) (*big.Int, bool) {
	n := new(big.Int)
	return n.SetString(str, 10)
}

// parsePrice accepts integers given as JSON numbers or strings, including
// exponent forms that denote integers.
func parsePrice(raw json.RawMessage) (*big.Int, error) {
	s := strings.TrimSpace(string(raw))
	if unquoted := strings.Trim(s, `"`); unquoted != s {
		s = strings.TrimSpace(unquoted)
	}
	if s == "" || s == "null" {
		return nil, errors.Wrap(ErrMalformedFeed, "empty price")
	}

	if n, ok := strToBigInt(s); ok {
		if n.Sign() < 0 {
			return nil, errors.Wrapf(ErrMalformedFeed, "negative price %s", s)
		}
		return n, nil
	}

	f, ok := new(big.Float).SetPrec(256).SetString(s)
	if !ok || !f.IsInt() || f.Sign() < 0 {
		return nil, errors.Wrapf(ErrMalformedFeed, "price %q", s)
	}
	n, _ := f.Int(nil)
	return n, nil
}
