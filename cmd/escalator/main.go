package main

import (
	"fmt"
	"os"

	"github.com/telekom/alarm-escalator/pkg/cli"
)

func main() {
	root := cli.NewRootCommand(cli.DefaultConfig())
	// provided.al2023 runs the bootstrap binary without arguments
	if len(os.Args) == 1 && os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		root.SetArgs([]string{"lambda"})
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
