package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "payment-gateway",
	Short: "Payment gateway orchestration service",
	Long:  "A payment gateway that drives card and wallet processors, keeps the transaction ledger, and processes provider webhooks exactly once.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
