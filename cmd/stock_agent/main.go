// Package main provides the entry point for the stock research agent server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stock_agent",
	Short: "Stock Research Agent HTTP API Server",
	Long:  "Stock Research Agent runs multi-stage LLM-driven investment research for submitted tickers and exposes job submission and status tracking via REST API.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
