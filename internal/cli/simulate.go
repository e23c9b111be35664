package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"stablemint/internal/app"
)

var (
	simulateStartPrice float64
	simulateCrashPrice float64
	simulateDeposit    float64
	simulateMint       float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run an in-memory deposit, crash, and liquidation scenario",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateStartPrice <= 0 || simulateCrashPrice <= 0 {
			return errors.New("--start-price and --crash-price must be greater than 0")
		}
		if simulateDeposit <= 0 || simulateMint <= 0 {
			return errors.New("--deposit and --mint must be greater than 0")
		}

		opts := app.SimulateOptions{
			StartPrice: decimal.NewFromFloat(simulateStartPrice),
			CrashPrice: decimal.NewFromFloat(simulateCrashPrice),
			Deposit:    decimal.NewFromFloat(simulateDeposit),
			Mint:       decimal.NewFromFloat(simulateMint),
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateStartPrice, "start-price", 2000, "Collateral USD price before the crash")
	simulateCmd.Flags().Float64Var(&simulateCrashPrice, "crash-price", 18, "Collateral USD price after the crash")
	simulateCmd.Flags().Float64Var(&simulateDeposit, "deposit", 10, "Collateral units to deposit")
	simulateCmd.Flags().Float64Var(&simulateMint, "mint", 100, "Debt tokens to mint")
}
