package cmd

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tonstable/risk-client/accrual"
	"github.com/tonstable/risk-client/types"
)

var (
	flagPrincipal string
	flagSince     int64
	flagAt        int64
	flagApy       []string
)

var accrueCmd = &cobra.Command{
	Use:   "accrue",
	Short: "Compute the interest a principal accrues over an APY timeline",
	Run: func(cmd *cobra.Command, args []string) {
		principal, err := parseAmount("principal", flagPrincipal)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid principal")
		}
		timeline, err := parseTimeline(flagApy)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid apy timeline")
		}

		interest := accrual.New(types.DefaultDenominations()).Accrue(flagAt, timeline, principal, flagSince)
		printJSON(map[string]any{
			"principal": principal,
			"interest":  interest,
			"from":      flagSince,
			"to":        flagAt,
		})
	},
}

func init() {
	rootCmd.AddCommand(accrueCmd)

	accrueCmd.Flags().StringVarP(&flagPrincipal, "principal", "p", "",
		"borrowed principal in stablecoin units [required]")
	_ = accrueCmd.MarkFlagRequired("principal")
	accrueCmd.Flags().Int64Var(&flagSince, "since", 0, "unix time the debt was last updated")
	accrueCmd.Flags().Int64Var(&flagAt, "at", 0, "unix time to accrue up to")
	accrueCmd.Flags().StringSliceVar(&flagApy, "apy", nil,
		"APY checkpoint as timestamp:rate, repeatable")
}

func parseAmount(name, s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || n.Sign() < 0 {
		return nil, errors.Errorf("%s must be a non-negative integer, got %q", name, s)
	}
	return n, nil
}

func parseTimeline(checkpoints []string) (types.ApyTimeline, error) {
	timeline := make(types.ApyTimeline, 0, len(checkpoints))
	for _, cp := range checkpoints {
		ts, rate, ok := strings.Cut(cp, ":")
		if !ok {
			return nil, errors.Errorf("checkpoint %q is not timestamp:rate", cp)
		}
		timestamp, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "checkpoint %q", cp)
		}
		r, err := parseAmount("rate", rate)
		if err != nil {
			return nil, err
		}
		timeline = append(timeline, types.ApyCheckpoint{Timestamp: timestamp, Rate: r})
	}
	return timeline, nil
}
