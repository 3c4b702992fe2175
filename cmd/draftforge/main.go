// Package main provides the draftforge binary entry point.
package main

import (
	"fmt"
	"os"

	// Register LLM providers via init()
	_ "github.com/draftforge/draftforge/llm/providers"

	"github.com/draftforge/draftforge/commands"
)

func main() {
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
