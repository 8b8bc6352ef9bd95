package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jkaflik/zoneworker/internal/config"
)

var (
	version        = "dev"
	configFilename string

	rootCmd = &cobra.Command{
		Use:           "zoneworker",
		Short:         "Aggregates Home Assistant room entities into zone switches",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("zoneworker failed")
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&configFilename, "config", "", "Configuration file")
	rootCmd.PersistentFlags().Bool("debug", false, "Log debug messages")
	rootCmd.PersistentFlags().String("database", "", "Path to the config entry database")
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("database"))

	rootCmd.AddCommand(runCmd, entriesCmd)
}

func initConfig() {
	if err := config.Read(viper.GetViper(), configFilename); err != nil {
		log.Fatal().Err(err).Msg("Failed to read configuration")
	}
	config.SetupLogging(config.FromViper(viper.GetViper()), os.Stderr)
}
