package cmd

import (
	"math/big"

	"github.com/spf13/cobra"

	"github.com/tonstable/risk-client/policy"
	"github.com/tonstable/risk-client/types"
)

var (
	flagCollateral      string
	flagDebt            string
	flagInterest        string
	flagSafeLine        int64
	flagLiquidationLine int64
	flagPenalty         string
	flagSplit           string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the liquidation policy for a collateral value and debt",
	Run: func(cmd *cobra.Command, args []string) {
		amounts := map[string]string{
			"collateral": flagCollateral,
			"debt":       flagDebt,
			"interest":   flagInterest,
			"penalty":    flagPenalty,
			"split":      flagSplit,
		}
		parsed := make(map[string]*big.Int, len(amounts))
		for name, s := range amounts {
			n, err := parseAmount(name, s)
			if err != nil {
				log.Fatal().Err(err).Msg("invalid amount")
			}
			parsed[name] = n
		}

		state := &types.ProtocolState{
			PositionSafeLine:        flagSafeLine,
			PositionLiquidationLine: flagLiquidationLine,
			LiquidationPenalty:      parsed["penalty"],
			LiquidationPenaltySplit: parsed["split"],
		}
		log.Debug().Int64("outstandingLine", state.OutstandingLine()).Msg("simulating")

		decision, err := policy.New(types.DefaultDenominations()).
			Evaluate(parsed["collateral"], parsed["debt"], parsed["interest"], state)
		if err != nil {
			log.Fatal().Err(err).Msg("evaluate")
		}
		printJSON(decision)
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVar(&flagCollateral, "collateral", "", "collateral value in stablecoin units [required]")
	_ = simulateCmd.MarkFlagRequired("collateral")
	simulateCmd.Flags().StringVar(&flagDebt, "debt", "", "debt principal [required]")
	_ = simulateCmd.MarkFlagRequired("debt")
	simulateCmd.Flags().StringVar(&flagInterest, "interest", "0", "accrued interest")
	simulateCmd.Flags().Int64Var(&flagSafeLine, "safe-line", 12_000, "position safe line")
	simulateCmd.Flags().Int64Var(&flagLiquidationLine, "liquidation-line", 11_000, "position liquidation line")
	simulateCmd.Flags().StringVar(&flagPenalty, "penalty", "10000000", "liquidation penalty ratio")
	simulateCmd.Flags().StringVar(&flagSplit, "split", "50000000", "liquidation penalty split ratio")
}
