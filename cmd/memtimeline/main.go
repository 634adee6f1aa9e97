package main

import (
	"fmt"
	"os"

	"github.com/splax/memtimeline/internal/cli"
	"github.com/splax/memtimeline/pkg/config"
)

func main() {
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: load .env: %v\n", err)
	}
	if err := cli.NewCmdRoot().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
