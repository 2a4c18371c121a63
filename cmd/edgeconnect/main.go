package main

import (
	"fmt"
	"os"

	"github.com/psantana5/edgeconnect/cmd/edgeconnect/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
