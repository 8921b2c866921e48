package main

import (
	"fmt"
	"os"

	"github.com/danmuck/notebookd/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "notebookd: %v\n", err)
		os.Exit(1)
	}
}
