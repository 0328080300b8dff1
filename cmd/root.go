package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/endorses/filterkit/cmd/cache"
	"github.com/endorses/filterkit/cmd/filters"
	"github.com/endorses/filterkit/cmd/serve"
	"github.com/endorses/filterkit/internal/pkg/config"
	"github.com/endorses/filterkit/internal/pkg/logger"
	"github.com/endorses/filterkit/internal/pkg/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "filterkit",
	Short: "filterkit swaps service behaviour at runtime",
	Long: `filterkit loads filters that override individual operations of a
service contract and routes calls to the highest-priority active one.

Run "filterkit serve" to host filters, then manage them with the
"filters" and "cache" commands.`,
	Version: version.GetFullVersion(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logger.ParseLevel(viper.GetString("log.level"))
		if err != nil {
			return err
		}
		logger.SetLevel(level)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func addSubCommandPalattes() {
	rootCmd.AddCommand(serve.ServeCmd)
	rootCmd.AddCommand(filters.FiltersCmd)
	rootCmd.AddCommand(cache.CacheCmd)
	rootCmd.AddCommand(versionCmd)
}

func init() {
	cobra.OnInitialize(initConfig)

	logger.Initialize()
	config.SetDefaults(viper.GetViper())

	addSubCommandPalattes()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.filterkit.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home + "/.config/filterkit")
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".filterkit")
	}

	config.BindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
