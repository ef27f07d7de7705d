package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

var (
	flagConfig  string
	flagProfile string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "temsched",
		Short: "Schedules and fires timed reservation requests against the TEM booking portal",
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "optional yaml config overlay")
	root.PersistentFlags().StringVar(&flagProfile, "profile", "production", "deployment profile (production|debug)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newServerCmd())
	root.AddCommand(newJobCmd())
	root.AddCommand(newInstrumentsCmd())
	root.AddCommand(newHashCmd())

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
