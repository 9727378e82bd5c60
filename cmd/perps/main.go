package main

import (
	"os"

	"github.com/rustyeddy/perps/cmd/perps/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
