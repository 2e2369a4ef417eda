package main

import (
	"fmt"
	"os"

	"creditchain/services/withdrawald"
)

func main() {
	if err := withdrawald.Main(); err != nil {
		fmt.Fprintf(os.Stderr, "withdrawald: %v\n", err)
		os.Exit(1)
	}
}
