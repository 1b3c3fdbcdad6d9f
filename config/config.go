package config

import (
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/tonstable/risk-client/cell"
	"github.com/tonstable/risk-client/chain"
	"github.com/tonstable/risk-client/client"
	"github.com/tonstable/risk-client/pricefeed"
	"github.com/tonstable/risk-client/types"
)

const EnvPrefix = "TONSTABLE"

type Collateral struct {
	Symbol string `mapstructure:"symbol"`
	// Minter is empty for the native coin.
	Minter string `mapstructure:"minter"`
}

type PriceFeed struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Confirm struct {
	Retries  uint64        `mapstructure:"retries"`
	Interval time.Duration `mapstructure:"interval"`
}

type Config struct {
	Singleton string `mapstructure:"singleton"`
	// LiquidatorWallet is the operator's stablecoin wallet. When empty it is
	// resolved through the stablecoin minter.
	LiquidatorWallet string       `mapstructure:"liquidator_wallet"`
	Collaterals      []Collateral `mapstructure:"collaterals"`
	// Wanted lists the symbols requested when liquidating; all collaterals
	// when empty.
	Wanted    []string  `mapstructure:"wanted"`
	PriceFeed PriceFeed `mapstructure:"price_feed"`
	Confirm   Confirm   `mapstructure:"confirm"`
	Workers   int       `mapstructure:"workers"`
	PageSize  int       `mapstructure:"page_size"`
	LogLevel  string    `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("singleton", "")
	v.SetDefault("liquidator_wallet", "")
	v.SetDefault("price_feed.url", "https://test.tonstable.xyz")
	v.SetDefault("price_feed.timeout", 10*time.Second)
	v.SetDefault("confirm.retries", 10)
	v.SetDefault("confirm.interval", 3*time.Second)
	v.SetDefault("workers", 8)
	v.SetDefault("page_size", 0)
	v.SetDefault("log_level", "info")
}

// Load reads the config file at path, if any, with TONSTABLE_* environment
// variables taking precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return &c, nil
}

func (c *Config) Validate() error {
	var result *multierror.Error

	if _, err := c.SingletonAddress(); err != nil {
		result = multierror.Append(result, err)
	}
	if c.LiquidatorWallet != "" {
		if _, err := cell.ParseAddress(c.LiquidatorWallet); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "liquidator_wallet"))
		}
	}
	if _, err := c.CollateralAssets(); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := c.WantedMinters(); err != nil {
		result = multierror.Append(result, err)
	}
	if c.PriceFeed.URL == "" {
		result = multierror.Append(result, errors.New("price_feed.url is required"))
	}
	if c.Confirm.Retries == 0 {
		result = multierror.Append(result, errors.New("confirm.retries must be positive"))
	}
	if c.Confirm.Interval <= 0 {
		result = multierror.Append(result, errors.New("confirm.interval must be positive"))
	}
	if c.Workers <= 0 {
		result = multierror.Append(result, errors.New("workers must be positive"))
	}
	if c.PageSize < 0 {
		result = multierror.Append(result, errors.New("page_size must not be negative"))
	}

	return result.ErrorOrNil()
}

func (c *Config) SingletonAddress() (*cell.Address, error) {
	if c.Singleton == "" {
		return nil, errors.New("singleton is required")
	}
	a, err := cell.ParseAddress(c.Singleton)
	if err != nil {
		return nil, errors.Wrap(err, "singleton")
	}
	return a, nil
}

// LiquidatorWalletAddress is nil when the wallet is left to be resolved.
func (c *Config) LiquidatorWalletAddress() (*cell.Address, error) {
	if c.LiquidatorWallet == "" {
		return nil, nil
	}
	return cell.ParseAddress(c.LiquidatorWallet)
}

func (c *Config) CollateralAssets() ([]types.CollateralAsset, error) {
	if len(c.Collaterals) == 0 {
		return nil, errors.New("at least one collateral is required")
	}

	var (
		assets = make([]types.CollateralAsset, 0, len(c.Collaterals))
		seen   = make(map[string]bool, len(c.Collaterals))
	)
	for i, col := range c.Collaterals {
		symbol := strings.ToUpper(strings.TrimSpace(col.Symbol))
		if symbol == "" {
			return nil, errors.Errorf("collaterals[%d]: symbol is required", i)
		}
		if seen[symbol] {
			return nil, errors.Errorf("collaterals[%d]: duplicate symbol %s", i, symbol)
		}
		seen[symbol] = true

		var minter *cell.Address
		if col.Minter != "" {
			a, err := cell.ParseAddress(col.Minter)
			if err != nil {
				return nil, errors.Wrapf(err, "collaterals[%d]", i)
			}
			minter = a
		}
		asset, err := types.NewCollateralAsset(symbol, minter)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

// WantedMinters resolves Wanted against the collateral list.
func (c *Config) WantedMinters() ([]*cell.Address, error) {
	assets, err := c.CollateralAssets()
	if err != nil {
		return nil, err
	}

	bySymbol := make(map[string]types.CollateralAsset, len(assets))
	for _, a := range assets {
		bySymbol[a.Symbol] = a
	}

	symbols := c.Wanted
	if len(symbols) == 0 {
		for _, a := range assets {
			symbols = append(symbols, a.Symbol)
		}
	}

	minters := make([]*cell.Address, 0, len(symbols))
	for _, s := range symbols {
		a, ok := bySymbol[strings.ToUpper(strings.TrimSpace(s))]
		if !ok {
			return nil, errors.Errorf("wanted collateral %s is not configured", s)
		}
		if a.Minter == nil {
			continue
		}
		minters = append(minters, a.Minter)
	}
	return minters, nil
}

// ClientConfig resolves the addresses and tuning settings the risk client
// runs with.
func (c *Config) ClientConfig() (client.Config, error) {
	if err := c.Validate(); err != nil {
		return client.Config{}, err
	}

	singleton, err := c.SingletonAddress()
	if err != nil {
		return client.Config{}, err
	}
	wallet, err := c.LiquidatorWalletAddress()
	if err != nil {
		return client.Config{}, errors.Wrap(err, "liquidator_wallet")
	}
	assets, err := c.CollateralAssets()
	if err != nil {
		return client.Config{}, err
	}
	wanted, err := c.WantedMinters()
	if err != nil {
		return client.Config{}, err
	}

	return client.Config{
		Singleton:        singleton,
		Collaterals:      assets,
		Wanted:           wanted,
		LiquidatorWallet: wallet,
		Wait: chain.WaitOptions{
			Retries:  c.Confirm.Retries,
			Interval: c.Confirm.Interval,
		},
		Workers:  c.Workers,
		PageSize: c.PageSize,
	}, nil
}

func (c *Config) Feed() pricefeed.Feed {
	var opts []pricefeed.Opt
	if c.PriceFeed.Timeout > 0 {
		opts = append(opts, pricefeed.WithTimeout(c.PriceFeed.Timeout))
	}
	return pricefeed.New(c.PriceFeed.URL, opts...)
}
