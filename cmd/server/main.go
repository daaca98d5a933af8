package main

import (
	"fmt"
	"os"

	"cafepos/backend/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cafepos:", err)
		os.Exit(1)
	}
}
