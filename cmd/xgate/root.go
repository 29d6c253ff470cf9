package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	rootCmd = &cobra.Command{
		Use:   "xgate",
		Short: "Payment-gated API proxy",
		Long: `xGate - payment-gated API proxy

xGate puts x402 payment gating in front of plain HTTP APIs and websocket
services. Owners register an upstream and a price; callers pay per request
(or per session) with a signed payment proof, verified and settled through
an x402 facilitator. No accounts, no API keys.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
