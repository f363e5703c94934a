// Command coursegen generates structured courses with LLM backends and
// serves them over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

const defaultConfigPath = "configs/coursegen.yaml"

func main() {
	// A missing .env is fine; keys may come from the real environment.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
