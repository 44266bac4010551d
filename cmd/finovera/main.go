package main

import (
	"os"

	"github.com/jbouniol/finovera/cmd/finovera/commands"
)

// main is the entry point for the Finovera CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/finovera [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
