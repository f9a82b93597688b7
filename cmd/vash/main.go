// Command vash trains visual vocabularies over video collections and ranks
// query videos against the trained database.
package main

import (
	"os"

	"github.com/joho/godotenv"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
