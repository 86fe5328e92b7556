package main

import (
	"os"

	"github.com/bitrange/rangepool/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		// Cobra has already printed the error.
		os.Exit(1)
	}
}
