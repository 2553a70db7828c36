package main

import (
	"os"
)

// version is set at build time via ldflags
var version = "0.1.0-alpha"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
