package main

import (
	"os"

	"github.com/bobbyrathoree/tunneldash/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
