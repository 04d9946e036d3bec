// Command genctl is the operator CLI for balances, accounts and the model
// catalog, plus a local dry run of the generation lifecycle.
package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
