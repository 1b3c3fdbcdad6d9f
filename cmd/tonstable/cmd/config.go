package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tonstable/risk-client/config"
)

var flagCheckFeed bool

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the config and print the resolved client settings",
	Run: func(cmd *cobra.Command, args []string) {
		c, err := config.Load(flagConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("load config")
		}
		cc, err := c.ClientConfig()
		if err != nil {
			log.Fatal().Err(err).Msg("invalid config")
		}
		log.Info().
			Stringer("singleton", cc.Singleton).
			Int("collaterals", len(cc.Collaterals)).
			Int("workers", cc.Workers).
			Msg("config is valid")

		out := map[string]any{
			"collaterals":      cc.Collaterals,
			"wanted":           cc.Wanted,
			"liquidatorWallet": cc.LiquidatorWallet,
			"confirm":          map[string]any{"retries": cc.Wait.Retries, "interval": cc.Wait.Interval.String()},
			"workers":          cc.Workers,
			"pageSize":         cc.PageSize,
		}
		if flagCheckFeed {
			prices, err := c.Feed().Prices(context.Background())
			if err != nil {
				log.Fatal().Err(err).Str("url", c.PriceFeed.URL).Msg("price feed")
			}
			out["prices"] = prices
		}
		printJSON(out)
	},
}

func init() {
	checkConfigCmd.Flags().BoolVar(&flagCheckFeed, "feed", false, "also fetch prices from the configured feed")
	rootCmd.AddCommand(checkConfigCmd)
}
