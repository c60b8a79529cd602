package main

import (
	"os"

	"github.com/reco-agent/backend/cmd/reviewctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
