package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bitrange/rangepool/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "rangepool",
	Short: "Keyspace range coordinator for distributed key search",
	Long: `Rangepool divides a Bitcoin-puzzle keyspace into prioritized search
ranges, tracks exact per-range progress in a durable ledger, and
coordinates pool participants so no two search the same range at once.`,

	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/rangepool/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "state directory (default is $HOME/.rangepool)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("paths.data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/rangepool")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("RANGEPOOL")
	// Replace dots with underscores for nested keys in env vars
	// e.g., RANGEPOOL_POOL_URL for pool.url
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
