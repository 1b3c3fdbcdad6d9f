package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tonstable/risk-client/config"
)

var (
	flagConfig   string
	flagLogLevel string
	log          zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tonstable",
	Short: "Offline tools for the stable lending risk engine",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "",
		"path to a config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info",
		"log level (debug, info, warn, error)")

	log = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	cobra.OnInitialize(initConfig)
}

func initConfig() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()
	if err := viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		log.Fatal().Err(err).Msg("bind log level flag")
	}

	level, err := zerolog.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid log level")
	}
	log = log.Level(level)
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("encode output")
	}
	fmt.Println(string(out))
}
