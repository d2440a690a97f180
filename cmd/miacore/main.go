// Command miacore is a small diagnostic CLI for the cognitive memory
// core: open a store, run a query, print configuration and on-disk size
// stats. It is not a transport, just enough surface to exercise the
// library from a terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "miacore",
		Short: "Diagnostic CLI for the cognitive memory core",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: none; built-in defaults and MIACORE_ env vars apply)")

	root.AddCommand(newStatsCmd())
	root.AddCommand(newQueryCmd())
	root.AddCommand(newReconcileCmd())
	return root
}

func initViper() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	viper.SetEnvPrefix("MIACORE")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}
