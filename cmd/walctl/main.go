package main

import (
	"fmt"
	"os"

	"github.com/downfa11-org/raftlite/cmd/walctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
