package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/philosquare/zju-tem/internal/instrument"
)

func newInstrumentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "instruments",
		Short: "List the instrument catalog",
		Run: func(cmd *cobra.Command, args []string) {
			for _, ins := range instrument.DefaultCatalog().All() {
				fmt.Fprintf(os.Stdout, "%-8s publishes %s %s  id=%s  %s\n",
					ins.Name, ins.PublishWeekday, ins.PublishTime, ins.ID, ins.DisplayName)
			}
		},
	}
}
