// Command entitle-playground evaluates a ledger fixture from the command
// line: owned products, item balances and transaction history at any
// instant, plus the canonical JSON and version id of a product document.
package main

import (
	"fmt"
	"os"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
