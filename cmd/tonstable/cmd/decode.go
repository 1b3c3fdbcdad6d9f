package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tonstable/risk-client/cell"
	"github.com/tonstable/risk-client/decoder"
)

var flagPositionBoc string

// decodePositionCmd prints a position cell as returned by get_all_positions
var decodePositionCmd = &cobra.Command{
	Use:   "decode-position",
	Short: "Decode a hex encoded position cell",
	Run: func(cmd *cobra.Command, args []string) {
		c, err := cell.FromBocHex(flagPositionBoc)
		if err != nil {
			log.Fatal().Err(err).Msg("parse boc")
		}
		position, err := decoder.ParsePositionCell(c)
		if err != nil {
			log.Fatal().Err(err).Msg("decode position")
		}
		log.Debug().Int("collaterals", len(position.Collateral)).Int("debts", len(position.Debts)).Msg("position decoded")
		printJSON(position)
	},
}

func init() {
	rootCmd.AddCommand(decodePositionCmd)

	decodePositionCmd.Flags().StringVarP(&flagPositionBoc, "boc", "b", "",
		"hex encoded bag of cells holding the position [required]")
	_ = decodePositionCmd.MarkFlagRequired("boc")
}
