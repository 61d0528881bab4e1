package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "scanfleet",
		Short: "A fleet of scan workers that maps nearby game entities.",
		Long: `scanfleet binds each configured account to one scan location and runs
one worker per pair. Workers scan on a fixed interval, back off on transient
failures, stop for good on fatal ones, and forward every result to the
configured entity store. A small HTTP control surface pauses, resumes and
reports on the fleet.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newRunCmd(v, &cfgFile))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "scanfleet: %v\n", err)
		os.Exit(1)
	}
}
