// Command authctl manages credentials from the shell: offline hashing and
// verification, schema migration, and account operations against the
// configured store.
package main

import (
	"fmt"
	"os"

	"auth/internal/config"
)

func main() {
	root := newRootCmd(&app{cfg: config.Load()})
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
