package main

import (
	"os"

	"github.com/austindbirch/qrhook/cmd/qrhookctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
