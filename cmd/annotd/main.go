package main

import (
	"fmt"
	"os"
)

func main() {
	root := buildRootCmd(newCLI(os.Stdout))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "annotd:", err)
		os.Exit(1)
	}
}
