// Command keyctl manages the session encryption key and service tokens.
package main

import (
	"fmt"
	"os"
)

func main() {
	root := newRootCommand(newApp(os.Stdout, os.Stderr))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
