// Package main is the operator CLI for examforge.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "examctl",
	Short: "Operate exam section generation",
	Long:  "examctl previews batch plans, reclaims stale generation runs and issues API tokens.",
}

func main() {
	_ = godotenv.Load(".env")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
