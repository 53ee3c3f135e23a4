package main

import (
	"os"

	"github.com/chaos-io/bgremover/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
