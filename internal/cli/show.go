package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"stablemint/internal/app"
)

var (
	showLimit      int
	showOperations bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent health samples or journaled operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:      showLimit,
			Operations: showOperations,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showOperations, "operations", false, "Show the operation journal instead of health samples")
}
