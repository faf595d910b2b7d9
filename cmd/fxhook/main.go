package main

import (
	"os"

	"github.com/rustyeddy/fxhook/cmd/fxhook/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
